package models

import (
	"time"
)

// Reading is a single vital-sign sample. Readings are immutable once
// created; there is no update or delete path.
type Reading struct {
	BaseModel
	UserID    uint      `json:"userId" gorm:"not null;index"`
	HeartRate float64   `json:"heartRate" validate:"required"`
	Spo2      float64   `json:"spo2" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
}

func CreateReading(reading *Reading) error {
	if reading.Timestamp.IsZero() {
		reading.Timestamp = time.Now()
	}

	return db.Create(reading).Error
}

// ReadingsInRange returns a user's readings with timestamps inside
// [start, end], oldest first.
func ReadingsInRange(userID uint, start, end time.Time) ([]Reading, error) {
	readings := []Reading{}

	err := db.Where("user_id = ? AND timestamp >= ? AND timestamp <= ?", userID, start, end).
		Order("timestamp asc").Find(&readings).Error
	if err != nil {
		return nil, err
	}

	return readings, nil
}

// ReadingDates returns the distinct UTC dates (YYYY-MM-DD) a user has
// readings for, in first-recorded order.
func ReadingDates(userID uint) ([]string, error) {
	readings := []Reading{}

	err := db.Select("timestamp").Where("user_id = ?", userID).
		Order("id asc").Find(&readings).Error
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	dates := []string{}
	for _, reading := range readings {
		date := reading.Timestamp.UTC().Format("2006-01-02")
		if seen[date] {
			continue
		}
		seen[date] = true
		dates = append(dates, date)
	}

	return dates, nil
}
