package models

const (
	PHARMACY_LOCATION = "Pharmacy"
	DOCTOR_LOCATION   = "Doctor"
)

// Location is static reference data, seeded at startup and not owned
// by any user.
type Location struct {
	BaseModel
	Name      string  `json:"name" gorm:"not null"`
	Type      string  `json:"type" gorm:"not null"`
	Latitude  float64 `json:"latitude" gorm:"not null"`
	Longitude float64 `json:"longitude" gorm:"not null"`
	Address   string  `json:"address,omitempty"`
}

func AllLocations() ([]Location, error) {
	locations := []Location{}
	err := db.Find(&locations).Error
	if err != nil {
		return nil, err
	}

	return locations, nil
}
