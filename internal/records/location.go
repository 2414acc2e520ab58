package records

// Location is a single position sample uploaded by the phone.
type Location struct {
	Latitude         float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude        float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Accuracy         float64 `json:"accuracy" validate:"gte=0"`
	Altitude         float64 `json:"altitude,omitempty"`
	Speed            float64 `json:"speed,omitempty"`
	Course           float64 `json:"course,omitempty"`
	DateCreated      int64   `json:"dateCreated" validate:"required,gt=0"`
	DateCreatedLocal string  `json:"dateCreatedLocal,omitempty"`
}
