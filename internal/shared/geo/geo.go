// Package geo holds the small amount of spherical math the listing needs.
package geo

import "math"

const earthRadiusKm = 6371.0

func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLng := radians(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// BoundingBox is an axis aligned lat/lng rectangle.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

func (b BoundingBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// Around returns a box that contains every point within radiusKm of the
// center. Near the poles or the antimeridian it widens to the full range.
func Around(lat, lng, radiusKm float64) BoundingBox {
	dLat := radiusKm / earthRadiusKm * 180 / math.Pi
	box := BoundingBox{
		MinLat: math.Max(-90, lat-dLat),
		MaxLat: math.Min(90, lat+dLat),
		MinLng: -180,
		MaxLng: 180,
	}
	cosLat := math.Cos(radians(lat))
	if cosLat < 1e-6 || box.MinLat == -90 || box.MaxLat == 90 {
		return box
	}
	dLng := dLat / cosLat
	if lng-dLng < -180 || lng+dLng > 180 {
		return box
	}
	box.MinLng = lng - dLng
	box.MaxLng = lng + dLng
	return box
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
