// Package geo holds the great-circle distance calculator and the
// proximity ranking used by the nearby-locations lookup.
package geo

import (
	"math"
	"sort"

	"github.com/Steven867533/hce-backend/server/models"
)

const earthRadiusKm = 6371

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NearbyLocation is a reference location annotated with its distance
// from the query point, in kilometers rounded to one decimal place.
type NearbyLocation struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Distance    float64     `json:"distance"`
	Coordinates Coordinates `json:"coordinates"`
}

// Distance returns the great-circle distance in kilometers between two
// coordinates given in degrees, via the haversine formula. Symmetric,
// and exactly zero for identical points. Coordinate ranges are not
// validated here; callers do that upstream.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// Nearby annotates every location with its rounded distance from the
// query point and sorts ascending by that rounded value. The sort is
// stable, so exact ties keep their original relative order. The full
// set is always returned; there is no radius cutoff or pagination.
func Nearby(locations []models.Location, latitude, longitude float64) []NearbyLocation {
	nearby := make([]NearbyLocation, 0, len(locations))

	for _, location := range locations {
		distance := Distance(latitude, longitude, location.Latitude, location.Longitude)

		nearby = append(nearby, NearbyLocation{
			Name:     location.Name,
			Type:     location.Type,
			Distance: math.Round(distance*10) / 10,
			Coordinates: Coordinates{
				Latitude:  location.Latitude,
				Longitude: location.Longitude,
			},
		})
	}

	sort.SliceStable(nearby, func(i, j int) bool {
		return nearby[i].Distance < nearby[j].Distance
	})

	return nearby
}

func radians(degrees float64) float64 {
	return degrees * (math.Pi / 180)
}
