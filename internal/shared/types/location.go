package types

// Location represents where an incident was reported
type Location struct {
	Street       string  `json:"street,omitempty"`
	Neighborhood string  `json:"neighborhood,omitempty"`
	City         string  `json:"city"`
	Lat          float64 `json:"lat,omitempty"`
	Lng          float64 `json:"lng,omitempty"`
}

// WithCoordinates adds geographic coordinates to the location
func (l Location) WithCoordinates(lat, lng float64) Location {
	l.Lat = lat
	l.Lng = lng
	return l
}

// ContactInfo represents contact information
type ContactInfo struct {
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
	Mobile string `json:"mobile,omitempty"`
}
