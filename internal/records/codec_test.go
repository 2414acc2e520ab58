package records

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appErrors "github.com/hubofallthings/hatsync/pkg/errors"
)

func sampleNote(message string) Note {
	return Note{
		Message:     message,
		Kind:        "note",
		CreatedTime: time.Date(2017, 6, 1, 10, 0, 0, 0, time.UTC),
		Author:      NoteAuthor{Phata: "alice.hubofallthings.net", Nick: "alice"},
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	codec := JSONCodec[Note]{}
	note := sampleNote("hello")
	note.Location = &NoteLocation{Latitude: 51.5, Longitude: -0.12, Shared: true}

	data, err := codec.Encode(note)
	require.NoError(t, err)

	decoded, err := codec.Decode(data)
	require.NoError(t, err)
	require.Equal(t, note, decoded)
}

func TestJSONCodecRejectsSchemaViolations(t *testing.T) {
	codec := JSONCodec[Note]{}

	cases := map[string]string{
		"missing message": `{"kind":"note","created_time":"2017-06-01T10:00:00Z","authorv1":{"phata":"a.hat"}}`,
		"bad kind":        `{"message":"x","kind":"tweet","created_time":"2017-06-01T10:00:00Z","authorv1":{"phata":"a.hat"}}`,
		"wrong type":      `{"message":42,"kind":"note","created_time":"2017-06-01T10:00:00Z","authorv1":{"phata":"a.hat"}}`,
		"missing author":  `{"message":"x","kind":"note","created_time":"2017-06-01T10:00:00Z"}`,
		"null":            `null`,
		"empty":           ``,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Decode([]byte(payload))
			require.Error(t, err)
			require.ErrorIs(t, err, appErrors.ErrDecode)
		})
	}
}

func TestJSONCodecProfile(t *testing.T) {
	codec := JSONCodec[Profile]{}

	profile, err := codec.Decode([]byte(`{"personal":{"firstName":"Alice"},"contact":{"primaryEmail":"alice@example.com"},"shared":true}`))
	require.NoError(t, err)
	require.Equal(t, "Alice", profile.Personal.FirstName)
	require.True(t, profile.Shared)

	_, err = codec.Decode([]byte(`{"personal":{"lastName":"Smith"}}`))
	require.NoError(t, err)

	cases := map[string]string{
		"unrelated object": `{"unrelated":1,"foo":"bar"}`,
		"empty object":     `{}`,
		"nameless":         `{"personal":{"title":"Dr"},"shared":true}`,
		"bad email":        `{"personal":{"firstName":"Alice"},"contact":{"primaryEmail":"nope"}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Decode([]byte(payload))
			require.ErrorIs(t, err, appErrors.ErrDecode)
		})
	}
}

func TestJSONCodecEncodeValidates(t *testing.T) {
	_, err := JSONCodec[Note]{}.Encode(Note{Kind: "note"})
	require.ErrorIs(t, err, appErrors.ErrDecode)
}

func TestJSONCodecLocation(t *testing.T) {
	codec := JSONCodec[Location]{}

	loc, err := codec.Decode([]byte(`{"latitude":10.5,"longitude":20.25,"accuracy":5,"dateCreated":1496311200}`))
	require.NoError(t, err)
	require.Equal(t, 10.5, loc.Latitude)
	require.EqualValues(t, 1496311200, loc.DateCreated)

	_, err = codec.Decode([]byte(`{"latitude":91,"longitude":0,"accuracy":5,"dateCreated":1}`))
	require.ErrorIs(t, err, appErrors.ErrDecode)
}

func TestEncodeDecodeList(t *testing.T) {
	codec := JSONCodec[Note]{}
	notes := []Note{sampleNote("one"), sampleNote("two")}

	payload, err := EncodeList[Note](codec, notes)
	require.NoError(t, err)

	decoded, err := DecodeList[Note](codec, payload)
	require.NoError(t, err)
	require.Equal(t, notes, decoded)

	empty, err := EncodeList[Note](codec, nil)
	require.NoError(t, err)
	require.JSONEq(t, `[]`, string(empty))

	decodedEmpty, err := DecodeList[Note](codec, empty)
	require.NoError(t, err)
	require.Empty(t, decodedEmpty)
}

func TestDecodeListIsStrict(t *testing.T) {
	codec := JSONCodec[Note]{}

	_, err := DecodeList[Note](codec, []byte(`[{"message":"ok","kind":"note","created_time":"2017-06-01T10:00:00Z","authorv1":{"phata":"a.hat"}},{"kind":"note"}]`))
	require.ErrorIs(t, err, appErrors.ErrDecode)

	_, err = DecodeList[Note](codec, []byte(`{"not":"an array"}`))
	require.ErrorIs(t, err, appErrors.ErrDecode)

	_, err = DecodeList[Note](codec, []byte(`null`))
	require.ErrorIs(t, err, appErrors.ErrDecode)
}
