package records

// Profile is the user's public profile record.
type Profile struct {
	Personal ProfilePersonal `json:"personal"`
	Contact  ProfileContact  `json:"contact"`
	Online   ProfileOnline   `json:"online"`
	About    ProfileAbout    `json:"about"`
	Shared   bool            `json:"shared"`
}

// ProfilePersonal holds name details. At least one of first or last name is required.
type ProfilePersonal struct {
	FirstName     string `json:"firstName" validate:"required_without=LastName"`
	LastName      string `json:"lastName" validate:"required_without=FirstName"`
	MiddleName    string `json:"middleName,omitempty"`
	PreferredName string `json:"preferredName,omitempty"`
	Title         string `json:"title,omitempty"`
	Gender        string `json:"gender,omitempty"`
	BirthDate     string `json:"birthDate,omitempty"`
}

// ProfileContact holds contact channels.
type ProfileContact struct {
	PrimaryEmail     string `json:"primaryEmail,omitempty" validate:"omitempty,email"`
	AlternativeEmail string `json:"alternativeEmail,omitempty" validate:"omitempty,email"`
	Mobile           string `json:"mobile,omitempty"`
	LandLine         string `json:"landline,omitempty"`
}

// ProfileOnline holds links to other online presences.
type ProfileOnline struct {
	Website  string `json:"website,omitempty" validate:"omitempty,url"`
	Blog     string `json:"blog,omitempty" validate:"omitempty,url"`
	Facebook string `json:"facebook,omitempty"`
	Twitter  string `json:"twitter,omitempty"`
	LinkedIn string `json:"linkedin,omitempty"`
	Google   string `json:"google,omitempty"`
	Youtube  string `json:"youtube,omitempty"`
}

// ProfileAbout is the free-text biography.
type ProfileAbout struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}
