package records

import "time"

// Note is an entry of the rumpel notables table.
type Note struct {
	Message     string        `json:"message" validate:"required"`
	Kind        string        `json:"kind" validate:"required,oneof=note list blog"`
	CreatedTime time.Time     `json:"created_time" validate:"required"`
	UpdatedTime *time.Time    `json:"updated_time,omitempty"`
	PublicUntil *time.Time    `json:"public_until,omitempty"`
	Shared      bool          `json:"shared"`
	SharedOn    []string      `json:"shared_on,omitempty" validate:"omitempty,dive,oneof=facebook twitter marketsquare"`
	Author      NoteAuthor    `json:"authorv1"`
	Location    *NoteLocation `json:"locationv1,omitempty"`
	Photo       *NotePhoto    `json:"photov1,omitempty"`
}

// NoteAuthor identifies who wrote a note.
type NoteAuthor struct {
	Phata    string `json:"phata" validate:"required"`
	Nick     string `json:"nick,omitempty"`
	Name     string `json:"name,omitempty"`
	PhotoURL string `json:"photo_url,omitempty" validate:"omitempty,url"`
}

// NoteLocation is the optional position attached to a note.
type NoteLocation struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Accuracy  float64 `json:"accuracy,omitempty" validate:"gte=0"`
	Shared    bool    `json:"shared"`
}

// NotePhoto references an attached image.
type NotePhoto struct {
	Link    string `json:"link" validate:"required,url"`
	Source  string `json:"source,omitempty"`
	Caption string `json:"caption,omitempty"`
	Shared  bool   `json:"shared"`
}
