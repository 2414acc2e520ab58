package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	appErrors "github.com/hubofallthings/hatsync/pkg/errors"
	"github.com/hubofallthings/hatsync/pkg/validator"
)

// Codec converts a record type to and from its serialized form.
type Codec[T any] interface {
	Encode(value T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// JSONCodec encodes records as JSON and checks them against their validate struct tags.
// The struct definition is the schema; no per-field decoding code is needed.
type JSONCodec[T any] struct{}

// Encode validates the value and marshals it.
func (JSONCodec[T]) Encode(value T) ([]byte, error) {
	if err := validate(value); err != nil {
		return nil, appErrors.ErrDecode.WithInternal(err)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, appErrors.ErrDecode.WithInternal(err)
	}
	return data, nil
}

// Decode unmarshals data and rejects values that violate the schema.
func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var value T
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return value, appErrors.ErrDecode.WithInternal(fmt.Errorf("empty record"))
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, appErrors.ErrDecode.WithInternal(err)
	}
	if err := validate(value); err != nil {
		return value, appErrors.ErrDecode.WithInternal(err)
	}
	return value, nil
}

func validate(value any) error {
	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return fmt.Errorf("nil record")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	return validator.ValidateStruct(v.Interface())
}

// EncodeList encodes items into a JSON array, the cached payload format for a sync key.
func EncodeList[T any](codec Codec[T], items []T) ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(items))
	for i, item := range items {
		data, err := codec.Encode(item)
		if err != nil {
			return nil, fmt.Errorf("encode item %d: %w", i, err)
		}
		raw = append(raw, data)
	}
	return json.Marshal(raw)
}

// DecodeList decodes a cached JSON array. A cached payload is all-or-nothing:
// one bad element fails the whole list.
func DecodeList[T any](codec Codec[T], data []byte) ([]T, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, appErrors.ErrDecode.WithInternal(err)
	}
	if raw == nil {
		return nil, appErrors.ErrDecode.WithInternal(fmt.Errorf("payload is not a JSON array"))
	}

	items := make([]T, 0, len(raw))
	for i, element := range raw {
		item, err := codec.Decode(element)
		if err != nil {
			return nil, fmt.Errorf("decode item %d: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}
