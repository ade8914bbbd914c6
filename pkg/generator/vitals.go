// Package generator produces synthetic patients and vitals for the feed
// simulator and the seed command.
package generator

import (
	"math"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"procodus.dev/health-dashboard/pkg/vitals"
)

// Identity is the fake contact data of a demo user.
type Identity struct {
	Username string `fake:"{username}"`
	Email    string `fake:"{email}"`
	Phone    string `fake:"{phone}"`
}

// Channel is a fake ThingSpeak channel with its read key.
type Channel struct {
	ID      string
	ReadKey string
}

// Generator wraps a seeded faker. It is not safe for concurrent use.
type Generator struct {
	faker *gofakeit.Faker
}

// New returns a generator. A zero seed picks a random one.
func New(seed uint64) *Generator {
	return &Generator{faker: gofakeit.New(seed)}
}

// Identity returns a random identity.
func (g *Generator) Identity() Identity {
	var id Identity
	if err := g.faker.Struct(&id); err != nil {
		id = Identity{Username: g.faker.Username(), Email: g.faker.Email(), Phone: g.faker.Phone()}
	}
	return id
}

// Channel returns a random channel id and read key.
func (g *Generator) Channel() Channel {
	return Channel{
		ID:      g.faker.DigitN(7),
		ReadKey: g.faker.LetterN(16),
	}
}

// Profile controls how often a patient's readings turn abnormal.
type Profile struct {
	// FeverRate is the chance a reading carries fever and poor air.
	FeverRate float64
	// FallRate is the chance a reading carries a fall distance.
	FallRate float64
}

// DefaultProfile is a mostly healthy patient.
var DefaultProfile = Profile{FeverRate: 0.05, FallRate: 0.03}

// Vitals generates correlated readings for one patient. It is not safe for
// concurrent use.
type Vitals struct {
	faker   *gofakeit.Faker
	profile Profile

	baselineBody     float64
	baselineRoom     float64
	baselineHumidity float64
	baselineSmoke    float64
	baselineAlcohol  float64
	baselineDistance float64
}

// Vitals returns a per-patient reading generator with its own baselines.
func (g *Generator) Vitals(p Profile) *Vitals {
	f := gofakeit.New(g.faker.Uint64())
	return &Vitals{
		faker:            f,
		profile:          p,
		baselineBody:     f.Float64Range(36.3, 36.9),
		baselineRoom:     f.Float64Range(20, 24),
		baselineHumidity: f.Float64Range(35, 55),
		baselineSmoke:    f.Float64Range(120, 220),
		baselineAlcohol:  f.Float64Range(100, 180),
		baselineDistance: f.Float64Range(90, 180),
	}
}

// Reading generates the reading taken at t.
func (v *Vitals) Reading(entryID int64, t time.Time) vitals.Reading {
	hour := float64(t.Hour())

	// Room temperature peaks mid-afternoon; humidity moves the other way.
	room := v.baselineRoom + 2*math.Sin((hour-9)*math.Pi/12) + v.noise(0.3)
	humidity := v.baselineHumidity - (room-v.baselineRoom)*1.5 + v.noise(1)

	body := v.baselineBody + 0.2*math.Sin((hour-4)*math.Pi/12) + v.noise(0.1)
	smoke := v.baselineSmoke + v.noise(15)
	alcohol := v.baselineAlcohol + v.noise(10)
	distance := v.baselineDistance + v.noise(10)

	if v.faker.Float64() < v.profile.FeverRate {
		body = v.faker.Float64Range(38.5, 40)
		smoke = v.faker.Float64Range(600, 900)
		alcohol = v.faker.Float64Range(500, 800)
	}
	if v.faker.Float64() < v.profile.FallRate {
		distance = v.faker.Float64Range(5, 25)
	}

	return vitals.NewReading(entryID, t.UTC().Truncate(time.Second),
		round(body, 1),
		round(smoke, 0),
		round(alcohol, 0),
		round(math.Max(0, distance), 0),
		round(math.Max(10, math.Min(95, humidity)), 0),
		round(room, 1),
	)
}

func (v *Vitals) noise(scale float64) float64 {
	return (v.faker.Float64() - 0.5) * 2 * scale
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
