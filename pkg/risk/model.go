package risk

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"procodus.dev/health-dashboard/pkg/vitals"
)

const (
	artifactVersion = 1
	artifactKind    = "logistic"

	learningRate = 0.5
	epochs       = 2000
	l2Penalty    = 0.001
)

var (
	errEmptyDataset     = errors.New("training dataset is empty")
	errFeatureMismatch  = errors.New("feature count does not match schema")
	errSingleClass      = errors.New("training dataset needs both classes")
	errArtifactMismatch = errors.New("model artifact does not match the feature schema")
)

// Model is a standardized logistic regression over the vitals schema.
// It is immutable once trained or loaded.
type Model struct {
	Features  []string
	Mean      []float64
	Scale     []float64
	Weights   []float64
	Bias      float64
	TrainedAt time.Time
}

// Train fits a model on samples with full-batch gradient descent. Training is
// deterministic: identical samples always produce identical weights.
func Train(samples []Sample) (*Model, error) {
	if len(samples) == 0 {
		return nil, errEmptyDataset
	}

	n := len(vitals.Schema)
	var positives int
	for _, s := range samples {
		if len(s.Features) != n {
			return nil, fmt.Errorf("%w: got %d, want %d", errFeatureMismatch, len(s.Features), n)
		}
		if s.Risk {
			positives++
		}
	}
	if positives == 0 || positives == len(samples) {
		return nil, errSingleClass
	}

	m := &Model{
		Features:  vitals.FeatureNames(),
		Mean:      make([]float64, n),
		Scale:     make([]float64, n),
		Weights:   make([]float64, n),
		TrainedAt: time.Now().UTC(),
	}

	count := float64(len(samples))
	for _, s := range samples {
		for j, v := range s.Features {
			m.Mean[j] += v / count
		}
	}
	for _, s := range samples {
		for j, v := range s.Features {
			d := v - m.Mean[j]
			m.Scale[j] += d * d / count
		}
	}
	for j := range m.Scale {
		m.Scale[j] = math.Sqrt(m.Scale[j])
		if m.Scale[j] == 0 {
			m.Scale[j] = 1
		}
	}

	z := make([][]float64, len(samples))
	for i, s := range samples {
		z[i] = m.standardize(s.Features)
	}

	grad := make([]float64, n)
	for range epochs {
		clear(grad)
		var gradBias float64
		for i, s := range samples {
			target := 0.0
			if s.Risk {
				target = 1
			}
			diff := sigmoid(dot(m.Weights, z[i])+m.Bias) - target
			for j := range grad {
				grad[j] += diff * z[i][j]
			}
			gradBias += diff
		}
		for j := range m.Weights {
			m.Weights[j] -= learningRate * (grad[j]/count + l2Penalty*m.Weights[j])
		}
		m.Bias -= learningRate * gradBias / count
	}

	return m, nil
}

// Probability returns the estimated probability that features indicate risk.
func (m *Model) Probability(features []float64) float64 {
	return sigmoid(dot(m.Weights, m.standardize(features)) + m.Bias)
}

// PredictRisk reports the binary model decision.
func (m *Model) PredictRisk(features []float64) bool {
	return m.Probability(features) >= 0.5
}

func (m *Model) standardize(features []float64) []float64 {
	z := make([]float64, len(m.Mean))
	for j := range z {
		var v float64
		if j < len(features) {
			v = features[j]
		}
		z[j] = (v - m.Mean[j]) / m.Scale[j]
	}
	return z
}

func (m *Model) validate() error {
	n := len(vitals.Schema)
	if !slices.Equal(m.Features, vitals.FeatureNames()) ||
		len(m.Mean) != n || len(m.Scale) != n || len(m.Weights) != n {
		return errArtifactMismatch
	}
	for _, s := range m.Scale {
		if s == 0 || math.IsNaN(s) {
			return errArtifactMismatch
		}
	}
	return nil
}

// MarshalBinary encodes the model as a protobuf Struct.
func (m *Model) MarshalBinary() ([]byte, error) {
	s, err := structpb.NewStruct(map[string]any{
		"version":    artifactVersion,
		"kind":       artifactKind,
		"features":   toAnySlice(m.Features),
		"mean":       toAnySlice(m.Mean),
		"scale":      toAnySlice(m.Scale),
		"weights":    toAnySlice(m.Weights),
		"bias":       m.Bias,
		"trained_at": m.TrainedAt.Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build model artifact: %w", err)
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(s)
}

// UnmarshalBinary decodes an artifact written by MarshalBinary.
func (m *Model) UnmarshalBinary(data []byte) error {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to decode model artifact: %w", err)
	}
	fields := s.GetFields()

	if v := fields["version"].GetNumberValue(); v != artifactVersion {
		return fmt.Errorf("unsupported model artifact version %v", v)
	}
	if k := fields["kind"].GetStringValue(); k != artifactKind {
		return fmt.Errorf("unsupported model kind %q", k)
	}

	decoded := Model{
		Features: stringList(fields["features"]),
		Mean:     numberList(fields["mean"]),
		Scale:    numberList(fields["scale"]),
		Weights:  numberList(fields["weights"]),
		Bias:     fields["bias"].GetNumberValue(),
	}
	if ts, err := time.Parse(time.RFC3339, fields["trained_at"].GetStringValue()); err == nil {
		decoded.TrainedAt = ts
	}
	if err := decoded.validate(); err != nil {
		return err
	}

	*m = decoded
	return nil
}

// LoadModel reads an artifact from path. A missing file is reported with an
// error wrapping fs.ErrNotExist.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := &Model{}
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// SaveModel writes the artifact atomically: readers either see the previous
// file or the complete new one.
func SaveModel(path string, m *Model) error {
	data, err := m.MarshalBinary()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write model artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync model artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close model artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to install model artifact: %w", err)
	}
	return nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func toAnySlice[T any](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func numberList(v *structpb.Value) []float64 {
	values := v.GetListValue().GetValues()
	out := make([]float64, len(values))
	for i, item := range values {
		out[i] = item.GetNumberValue()
	}
	return out
}

func stringList(v *structpb.Value) []string {
	values := v.GetListValue().GetValues()
	out := make([]string, len(values))
	for i, item := range values {
		out[i] = item.GetStringValue()
	}
	return out
}
