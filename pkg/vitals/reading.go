// Package vitals holds the domain types shared by the feed client, the risk
// classifier, the dashboard and the frontend.
package vitals

import (
	"time"
)

// Field identifies one of the six sensor values carried by a Reading.
type Field int

// Canonical feature order. The classifier consumes values in exactly this order.
const (
	BodyTemp Field = iota
	Smoke
	Alcohol
	Distance
	Humidity
	RoomTemp
)

// FieldSpec describes one positional column of the schema.
type FieldSpec struct {
	Field Field
	// Name is the key used in payloads and the model artifact.
	Name string
	// FeedKey is the ThingSpeak column the value is read from.
	FeedKey string
	// Unit is informational and used by the views.
	Unit string
}

// Schema is the declared, ordered feature schema.
var Schema = []FieldSpec{
	{Field: BodyTemp, Name: "body_temp", FeedKey: "field1", Unit: "°C"},
	{Field: Smoke, Name: "smoke", FeedKey: "field2", Unit: "ppm"},
	{Field: Alcohol, Name: "alcohol", FeedKey: "field3", Unit: "ppm"},
	{Field: Distance, Name: "distance", FeedKey: "field4", Unit: "cm"},
	{Field: Humidity, Name: "humidity", FeedKey: "field5", Unit: "%"},
	{Field: RoomTemp, Name: "room_temp", FeedKey: "field6", Unit: "°C"},
}

// FeatureNames returns the schema names in canonical order.
func FeatureNames() []string {
	names := make([]string, len(Schema))
	for i, spec := range Schema {
		names[i] = spec.Name
	}
	return names
}

// Reading is one timestamped sample from a patient's feed.
// A nil value means the source did not report that field.
type Reading struct {
	CreatedAt time.Time `json:"created_at"`
	BodyTemp  *float64  `json:"body_temp,omitempty"`
	Smoke     *float64  `json:"smoke,omitempty"`
	Alcohol   *float64  `json:"alcohol,omitempty"`
	Distance  *float64  `json:"distance,omitempty"`
	Humidity  *float64  `json:"humidity,omitempty"`
	RoomTemp  *float64  `json:"room_temp,omitempty"`
	EntryID   int64     `json:"entry_id"`
}

func (r *Reading) slot(f Field) **float64 {
	switch f {
	case BodyTemp:
		return &r.BodyTemp
	case Smoke:
		return &r.Smoke
	case Alcohol:
		return &r.Alcohol
	case Distance:
		return &r.Distance
	case Humidity:
		return &r.Humidity
	case RoomTemp:
		return &r.RoomTemp
	default:
		return nil
	}
}

// Value returns the value of f and whether the source reported it.
func (r *Reading) Value(f Field) (float64, bool) {
	slot := r.slot(f)
	if slot == nil || *slot == nil {
		return 0, false
	}
	return **slot, true
}

// Set stores v for f. Unknown fields are ignored.
func (r *Reading) Set(f Field, v float64) {
	if slot := r.slot(f); slot != nil {
		*slot = &v
	}
}

// Features returns the values in schema order, missing fields as 0.0.
func (r *Reading) Features() []float64 {
	features := make([]float64, len(Schema))
	for i, spec := range Schema {
		v, _ := r.Value(spec.Field)
		features[i] = v
	}
	return features
}

// NewReading builds a reading from values given in schema order.
func NewReading(entryID int64, createdAt time.Time, values ...float64) Reading {
	r := Reading{EntryID: entryID, CreatedAt: createdAt}
	for i, v := range values {
		if i >= len(Schema) {
			break
		}
		r.Set(Schema[i].Field, v)
	}
	return r
}
