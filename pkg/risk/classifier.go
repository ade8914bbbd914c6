// Package risk classifies a single vitals reading into a risk label using a
// lazily loaded model artifact and a proximity safety rule.
package risk

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"

	"procodus.dev/health-dashboard/pkg/metrics"
	"procodus.dev/health-dashboard/pkg/vitals"
)

// DefaultFallDistanceThreshold is the proximity, in centimetres, below which a
// normal prediction is upgraded to a fall risk.
const DefaultFallDistanceThreshold = 30.0

// pathLocks serializes load-or-train per artifact path across all
// classifiers in the process.
var pathLocks sync.Map // map[string]*sync.Mutex

func lockFor(path string) *sync.Mutex {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	mu, _ := pathLocks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// ClassifierConfig holds the configuration for the Classifier.
type ClassifierConfig struct {
	Logger *slog.Logger

	// ModelPath is the artifact location. It is created from the seed dataset
	// on first use when missing.
	ModelPath string

	// FallDistanceThreshold overrides DefaultFallDistanceThreshold when > 0.
	FallDistanceThreshold float64

	// Metrics is optional.
	Metrics *metrics.RiskMetrics
}

// Assessment is the outcome of classifying one reading.
type Assessment struct {
	Label vitals.Label
	// Probability is the model's risk estimate, zero for ModelError.
	Probability float64
	// Overridden is set when the proximity rule changed the model decision.
	Overridden bool
}

// Classifier maps readings to labels. It is safe for concurrent use.
type Classifier struct {
	logger    *slog.Logger
	path      string
	threshold float64
	metrics   *metrics.RiskMetrics
	model     atomic.Pointer[Model]
}

// NewClassifier creates a new Classifier. The model is not touched until the
// first call to Classify or Preload.
func NewClassifier(cfg *ClassifierConfig) (*Classifier, error) {
	if cfg == nil {
		return nil, errors.New("classifier config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.ModelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}

	threshold := cfg.FallDistanceThreshold
	if threshold <= 0 {
		threshold = DefaultFallDistanceThreshold
	}

	return &Classifier{
		logger:    cfg.Logger,
		path:      cfg.ModelPath,
		threshold: threshold,
		metrics:   cfg.Metrics,
	}, nil
}

// Threshold returns the effective fall distance threshold.
func (c *Classifier) Threshold() float64 {
	return c.threshold
}

// Preload loads or trains the model ahead of the first request.
func (c *Classifier) Preload() error {
	_, err := c.load()
	return err
}

// Classify labels a reading. It never fails: an unavailable model yields
// LabelModelError and the next call retries the load.
func (c *Classifier) Classify(r vitals.Reading) Assessment {
	m, err := c.load()
	if err != nil {
		c.logger.Error("risk model unavailable", "path", c.path, "error", err)
		return c.record(Assessment{Label: vitals.LabelModelError})
	}

	p := m.Probability(r.Features())
	if math.IsNaN(p) || math.IsInf(p, 0) {
		c.logger.Error("risk model produced a non-finite probability", "entry_id", r.EntryID)
		return c.record(Assessment{Label: vitals.LabelModelError})
	}
	if p >= 0.5 {
		return c.record(Assessment{Label: vitals.LabelRisk, Probability: p})
	}

	// A missing distance does not trigger the rule.
	if d, ok := r.Value(vitals.Distance); ok && d < c.threshold {
		if c.metrics != nil {
			c.metrics.Overrides.Inc()
		}
		return c.record(Assessment{Label: vitals.LabelFallRisk, Probability: p, Overridden: true})
	}

	return c.record(Assessment{Label: vitals.LabelNormal, Probability: p})
}

func (c *Classifier) load() (*Model, error) {
	if m := c.model.Load(); m != nil {
		return m, nil
	}

	mu := lockFor(c.path)
	mu.Lock()
	defer mu.Unlock()

	if m := c.model.Load(); m != nil {
		return m, nil
	}

	m, err := LoadModel(c.path)
	switch {
	case err == nil:
		c.logger.Info("loaded risk model", "path", c.path, "trained_at", m.TrainedAt)
		c.countLoad("artifact")
	case errors.Is(err, fs.ErrNotExist):
		m, err = c.synthesize()
		if err != nil {
			c.countLoad("error")
			return nil, err
		}
		c.countLoad("trained")
	default:
		c.countLoad("error")
		return nil, fmt.Errorf("failed to load risk model: %w", err)
	}

	c.model.Store(m)
	return m, nil
}

func (c *Classifier) synthesize() (*Model, error) {
	c.logger.Info("risk model not found, training from seed dataset", "path", c.path)

	m, err := Train(SeedDataset())
	if err != nil {
		return nil, fmt.Errorf("failed to train risk model: %w", err)
	}
	if err := SaveModel(c.path, m); err != nil {
		return nil, fmt.Errorf("failed to persist risk model: %w", err)
	}

	c.logger.Info("risk model trained and saved", "path", c.path)
	return m, nil
}

func (c *Classifier) record(a Assessment) Assessment {
	if c.metrics != nil {
		c.metrics.Predictions.WithLabelValues(string(a.Label)).Inc()
	}
	return a
}

func (c *Classifier) countLoad(source string) {
	if c.metrics != nil {
		c.metrics.ModelLoads.WithLabelValues(source).Inc()
	}
}
