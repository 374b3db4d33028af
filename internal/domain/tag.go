package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Category classifies a tag. MissionName is required.
type Category struct {
	MissionName string `json:"missionName"`
	SubTypeName string `json:"subTypeName,omitempty"`
	TargetName  string `json:"targetName,omitempty"`
}

// Coordinates travel as decimal strings on the wire.
type Coordinates struct {
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
}

// Point is the normalized form of Coordinates.
type Point struct {
	Lat float64
	Lng float64
}

// Parse validates and normalizes the decimal strings.
func (c Coordinates) Parse() (Point, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(c.Latitude), 64)
	if err != nil {
		return Point{}, fmt.Errorf("%w: latitude %q is not a number", ErrValidation, c.Latitude)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(c.Longitude), 64)
	if err != nil {
		return Point{}, fmt.Errorf("%w: longitude %q is not a number", ErrValidation, c.Longitude)
	}
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return Point{}, fmt.Errorf("%w: coordinates must be finite numbers", ErrValidation)
	}
	if lat < -90 || lat > 90 {
		return Point{}, fmt.Errorf("%w: latitude out of range", ErrValidation)
	}
	if lng < -180 || lng > 180 {
		return Point{}, fmt.Errorf("%w: longitude out of range", ErrValidation)
	}
	return Point{Lat: lat, Lng: lng}, nil
}

// Coordinates renders the point back to its wire form.
func (p Point) Coordinates() Coordinates {
	return Coordinates{
		Latitude:  strconv.FormatFloat(p.Lat, 'f', -1, 64),
		Longitude: strconv.FormatFloat(p.Lng, 'f', -1, 64),
	}
}

type StreetView struct {
	PovHeading      float64 `json:"povHeading"`
	PovPitch        float64 `json:"povPitch"`
	PanoID          string  `json:"panoID"`
	CameraLatitude  float64 `json:"cameraLatitude"`
	CameraLongitude float64 `json:"cameraLongitude"`
}

// UserRef points at a user owned by the identity provider.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Tag is a geolocated point of interest. Status and StatusHistory are derived
// from the status ledger and are never persisted on the tag row.
type Tag struct {
	ID             string         `json:"id"`
	LocationName   string         `json:"locationName"`
	Accessibility  float64        `json:"accessibility"`
	Category       Category       `json:"category"`
	Point          Point          `json:"-"`
	Floor          int            `json:"floor"`
	Description    string         `json:"description"`
	StreetView     *StreetView    `json:"streetViewInfo,omitempty"`
	ImageURLs      []string       `json:"imageUrl"`
	ViewCount      int64          `json:"viewCount"`
	CreateUser     UserRef        `json:"createUser"`
	CreateTime     time.Time      `json:"createTime"`
	LastUpdateTime time.Time      `json:"lastUpdateTime"`
	Status         *StatusRecord  `json:"status,omitempty"`
	StatusHistory  []StatusRecord `json:"statusHistory,omitempty"`
}

// MarshalJSON carries the point in its decimal string form.
func (t Tag) MarshalJSON() ([]byte, error) {
	type plain Tag
	return json.Marshal(struct {
		plain
		Coordinates Coordinates `json:"coordinates"`
	}{plain(t), t.Point.Coordinates()})
}

// Caller is the verified identity behind a request.
type Caller struct {
	UID      string
	LoggedIn bool
}

// RequireLogin mirrors the original "must be logged in" gate: any mutation by
// an anonymous caller is forbidden.
func (c Caller) RequireLogin() error {
	if !c.LoggedIn || strings.TrimSpace(c.UID) == "" {
		return fmt.Errorf("%w: user is not logged in", ErrForbidden)
	}
	return nil
}
