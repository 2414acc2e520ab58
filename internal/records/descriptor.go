package records

import (
	"reflect"
	"strings"
	"time"
)

// FieldSchema is a column of a remote table.
type FieldSchema struct {
	Name string `json:"name"`
}

// TableSchema is the table definition sent when provisioning a missing remote table.
type TableSchema struct {
	Name      string        `json:"name"`
	Source    string        `json:"source"`
	Fields    []FieldSchema `json:"fields"`
	SubTables []TableSchema `json:"subTables,omitempty"`
}

// Descriptor binds a record type name to its remote location and cache policy.
type Descriptor struct {
	Name   string
	Source string
	Table  string
	TTL    time.Duration
	Schema TableSchema
}

// Kind pairs a Descriptor with the codec for its record type.
type Kind[T any] struct {
	Descriptor
	Codec Codec[T]
}

// Shipped record types.
var (
	Notes = Kind[Note]{
		Descriptor: Descriptor{
			Name:   "notes",
			Source: "rumpel",
			Table:  "notablesv1",
			TTL:    10 * time.Minute,
			Schema: SchemaFor[Note]("notablesv1", "rumpel"),
		},
		Codec: JSONCodec[Note]{},
	}

	Locations = Kind[Location]{
		Descriptor: Descriptor{
			Name:   "locations",
			Source: "iphone",
			Table:  "locations",
			TTL:    30 * time.Minute,
			Schema: SchemaFor[Location]("locations", "iphone"),
		},
		Codec: JSONCodec[Location]{},
	}

	Profiles = Kind[Profile]{
		Descriptor: Descriptor{
			Name:   "profile",
			Source: "rumpel",
			Table:  "profile",
			TTL:    24 * time.Hour,
			Schema: SchemaFor[Profile]("profile", "rumpel"),
		},
		Codec: JSONCodec[Profile]{},
	}
)

// Descriptors lists the shipped record types.
func Descriptors() []Descriptor {
	return []Descriptor{Notes.Descriptor, Locations.Descriptor, Profiles.Descriptor}
}

var timeType = reflect.TypeOf(time.Time{})

// SchemaFor derives a table schema from T's json tags. Scalar, slice and time fields
// become columns; nested structs become sub-tables named after their json key.
func SchemaFor[T any](name, source string) TableSchema {
	var zero T
	return schemaFor(reflect.TypeOf(zero), name, source)
}

func schemaFor(t reflect.Type, name, source string) TableSchema {
	schema := TableSchema{Name: name, Source: source, Fields: []FieldSchema{}}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return schema
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		key := jsonName(field)
		if key == "" {
			continue
		}

		ft := field.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct && ft != timeType {
			schema.SubTables = append(schema.SubTables, schemaFor(ft, key, source))
			continue
		}
		schema.Fields = append(schema.Fields, FieldSchema{Name: key})
	}
	return schema
}

func jsonName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return ""
	}
	if comma := strings.Index(tag, ","); comma != -1 {
		tag = tag[:comma]
	}
	if tag == "" {
		return field.Name
	}
	return tag
}
