package geo

import (
	"testing"

	"github.com/Steven867533/hce-backend/server/models"
	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	// Same point is 0km away
	assert.Equal(t, 0.0, Distance(30.033333, 31.233334, 30.033333, 31.233334))

	// Distance is symmetric
	d1 := Distance(30.033333, 31.233334, 30.035000, 31.235000)
	d2 := Distance(30.035000, 31.235000, 30.033333, 31.233334)
	assert.InDelta(t, d1, d2, 1e-9)

	// Cairo to Alexandria is roughly 180km
	d := Distance(30.0444, 31.2357, 31.2001, 29.9187)
	assert.InDelta(t, 180, d, 10)
}

func TestNearbySortsByDistance(t *testing.T) {
	locations := []models.Location{
		{Name: "Dr. Fatima Office", Type: models.DOCTOR_LOCATION, Latitude: 30.035000, Longitude: 31.235000},
		{Name: "Cairo Pharmacy A", Type: models.PHARMACY_LOCATION, Latitude: 30.033333, Longitude: 31.233334},
		{Name: "Cairo Pharmacy B", Type: models.PHARMACY_LOCATION, Latitude: 30.032000, Longitude: 31.232000},
	}

	results := Nearby(locations, 30.033333, 31.233334)

	assert.Len(t, results, 3)
	assert.Equal(t, "Cairo Pharmacy A", results[0].Name)
	assert.Equal(t, 0.0, results[0].Distance)

	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}
}

func TestNearbyRoundsToOneDecimal(t *testing.T) {
	locations := []models.Location{
		{Name: "Far Clinic", Type: models.DOCTOR_LOCATION, Latitude: 31.2001, Longitude: 29.9187},
	}

	results := Nearby(locations, 30.0444, 31.2357)

	assert.Len(t, results, 1)
	rounded := results[0].Distance
	assert.InDelta(t, rounded, float64(int(rounded*10))/10, 1e-9, "distance should carry at most one decimal")
}

func TestNearbyKeepsInsertionOrderOnTies(t *testing.T) {
	// Two copies of the same point always tie after rounding
	locations := []models.Location{
		{Name: "First", Type: models.PHARMACY_LOCATION, Latitude: 30.033333, Longitude: 31.233334},
		{Name: "Second", Type: models.DOCTOR_LOCATION, Latitude: 30.033333, Longitude: 31.233334},
	}

	results := Nearby(locations, 30.1, 31.3)

	assert.Equal(t, "First", results[0].Name)
	assert.Equal(t, "Second", results[1].Name)
	assert.Equal(t, results[0].Distance, results[1].Distance)
}

func TestNearbyWithNoLocations(t *testing.T) {
	results := Nearby(nil, 30.0444, 31.2357)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}
