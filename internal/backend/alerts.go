package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"procodus.dev/health-dashboard/internal/dashboard"
	"procodus.dev/health-dashboard/pkg/metrics"
	"procodus.dev/health-dashboard/pkg/mq"
	"procodus.dev/health-dashboard/pkg/vitals"
)

const (
	// DefaultAlertDedupTTL is how long a (patient, entry) pair is remembered.
	DefaultAlertDedupTTL = 30 * time.Minute

	alertPublishTimeout = 15 * time.Second
)

var errMalformedAlert = errors.New("malformed risk alert")

// AlertPublisherConfig holds the configuration for the AlertPublisher.
type AlertPublisherConfig struct {
	Logger    *slog.Logger
	Publisher mq.Publisher

	// DedupTTL overrides DefaultAlertDedupTTL when > 0.
	DedupTTL time.Duration

	// Metrics is optional.
	Metrics *metrics.BackendMetrics
}

// AlertPublisher announces risk labels on the alert queue, once per patient
// reading. Publishing happens in the background so dashboard requests never
// wait on the broker.
type AlertPublisher struct {
	logger    *slog.Logger
	publisher mq.Publisher
	seen      *cache.Cache
	metrics   *metrics.BackendMetrics
	wg        sync.WaitGroup
	now       func() time.Time
}

// NewAlertPublisher creates a new AlertPublisher instance.
func NewAlertPublisher(cfg *AlertPublisherConfig) (*AlertPublisher, error) {
	if cfg == nil {
		return nil, errors.New("alert publisher config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Publisher == nil {
		return nil, errors.New("publisher cannot be nil")
	}

	ttl := cfg.DedupTTL
	if ttl <= 0 {
		ttl = DefaultAlertDedupTTL
	}

	return &AlertPublisher{
		logger:    cfg.Logger,
		publisher: cfg.Publisher,
		seen:      cache.New(ttl, 2*ttl),
		metrics:   cfg.Metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Notify publishes an alert when view carries a risk label for a reading not
// announced before. It returns immediately.
func (p *AlertPublisher) Notify(view *dashboard.PatientView) {
	if view == nil || view.Current == nil || !view.Label.IsRisk() {
		return
	}

	key := alertKey(view.Patient.ID, view.Current.EntryID)
	if err := p.seen.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
		p.count(view.Label, "duplicate")
		return
	}

	body, err := encodeAlert(view, p.now())
	if err != nil {
		p.seen.Delete(key)
		p.logger.Error("failed to encode risk alert", "patient_id", view.Patient.ID, "error", err)
		p.count(view.Label, "error")
		return
	}

	label := view.Label
	patientID := view.Patient.ID
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), alertPublishTimeout)
		defer cancel()

		err := p.publisher.Publish(ctx, mq.Message{
			Body:        body,
			ContentType: mq.ContentTypeProtobuf,
			MessageID:   key,
		})
		if err != nil {
			// Forget the key so the next render retries.
			p.seen.Delete(key)
			p.logger.Error("failed to publish risk alert", "patient_id", patientID, "error", err)
			p.count(label, "error")
			return
		}

		p.logger.Info("risk alert published", "patient_id", patientID, "label", string(label))
		p.count(label, "sent")
	}()
}

// Wait blocks until in-flight publishes finish.
func (p *AlertPublisher) Wait() {
	p.wg.Wait()
}

func (p *AlertPublisher) count(label vitals.Label, status string) {
	if p.metrics != nil {
		p.metrics.AlertsPublished.WithLabelValues(string(label), status).Inc()
	}
}

func alertKey(patientID uint, entryID int64) string {
	return strconv.FormatUint(uint64(patientID), 10) + ":" + strconv.FormatInt(entryID, 10)
}

func encodeAlert(view *dashboard.PatientView, detectedAt time.Time) ([]byte, error) {
	reading := map[string]any{}
	for _, spec := range vitals.Schema {
		if v, ok := view.Current.Value(spec.Field); ok {
			reading[spec.Name] = v
		}
	}

	s, err := structpb.NewStruct(map[string]any{
		"patient_id":  float64(view.Patient.ID),
		"username":    view.Patient.Username,
		"entry_id":    float64(view.Current.EntryID),
		"label":       string(view.Label),
		"reading_at":  view.Current.CreatedAt.UTC().Format(time.RFC3339),
		"detected_at": detectedAt.Format(time.RFC3339Nano),
		"reading":     reading,
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// decodeAlert turns a queue body into a row ready to insert.
func decodeAlert(body []byte) (*RiskAlert, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedAlert, err)
	}
	fields := s.GetFields()

	patientID := fields["patient_id"].GetNumberValue()
	label := vitals.Label(fields["label"].GetStringValue())
	if patientID <= 0 || !label.IsRisk() {
		return nil, fmt.Errorf("%w: patient %v, label %q", errMalformedAlert, patientID, label)
	}

	alert := &RiskAlert{
		PatientID: uint(patientID),
		EntryID:   int64(fields["entry_id"].GetNumberValue()),
		Label:     string(label),
		Payload:   body,
	}

	if ts, err := time.Parse(time.RFC3339, fields["reading_at"].GetStringValue()); err == nil {
		alert.ReadingAt = ts
	}
	ts, err := time.Parse(time.RFC3339Nano, fields["detected_at"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("%w: detected_at: %w", errMalformedAlert, err)
	}
	alert.DetectedAt = ts

	return alert, nil
}
