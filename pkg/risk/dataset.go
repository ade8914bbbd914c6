package risk

// Sample is one labelled training row, features in vitals.Schema order.
type Sample struct {
	Features []float64
	Risk     bool
}

// SeedDataset is the fixed dataset the model is synthesized from when no
// artifact exists yet.
func SeedDataset() []Sample {
	return []Sample{
		{Features: []float64{36.5, 200, 150, 100, 40, 22}, Risk: false},
		{Features: []float64{39.5, 750, 600, 15, 70, 30}, Risk: true},
		{Features: []float64{37.0, 150, 100, 150, 45, 21}, Risk: false},
		{Features: []float64{40.1, 800, 700, 10, 80, 35}, Risk: true},
		{Features: []float64{36.8, 300, 200, 120, 50, 24}, Risk: false},
		{Features: []float64{38.9, 650, 500, 20, 75, 32}, Risk: true},
		{Features: []float64{36.2, 180, 120, 140, 42, 23}, Risk: false},
		{Features: []float64{39.2, 274, 338, 25, 58.1, 33.7}, Risk: true},
	}
}
