package feed

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"procodus.dev/health-dashboard/pkg/vitals"
)

// Status describes how a Window was obtained.
type Status int

const (
	// StatusOK means the source returned at least one reading.
	StatusOK Status = iota
	// StatusEmpty means the source answered but had no readings.
	StatusEmpty
	// StatusUnconfigured means the patient has no channel credentials.
	StatusUnconfigured
	// StatusFailed means the source was unreachable or answered garbage.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusEmpty:
		return "empty"
	case StatusUnconfigured:
		return "unconfigured"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Window is an ordered, oldest-first series of readings for one patient.
type Window struct {
	Readings []vitals.Reading
	Status   Status
	// Err is the swallowed upstream failure for StatusFailed, for diagnostics.
	Err error
}

// Current returns the newest reading.
func (w Window) Current() (vitals.Reading, bool) {
	if len(w.Readings) == 0 {
		return vitals.Reading{}, false
	}
	return w.Readings[len(w.Readings)-1], true
}

// Len returns the number of readings.
func (w Window) Len() int {
	return len(w.Readings)
}

// parseEntry maps one feed row onto a Reading. Values that are absent, null or
// not numeric are left unset.
func parseEntry(entry map[string]json.RawMessage) vitals.Reading {
	var r vitals.Reading

	if raw, ok := entry["created_at"]; ok {
		var ts string
		if err := json.Unmarshal(raw, &ts); err == nil {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				r.CreatedAt = parsed
			}
		}
	}

	if raw, ok := entry["entry_id"]; ok {
		if v, ok := number(raw); ok {
			r.EntryID = int64(v)
		}
	}

	for _, spec := range vitals.Schema {
		raw, ok := entry[spec.FeedKey]
		if !ok {
			continue
		}
		if v, ok := number(raw); ok {
			r.Set(spec.Field, v)
		}
	}

	return r
}

// number accepts both JSON numbers and numeric strings, the latter being how
// ThingSpeak encodes field values. Non-finite values ("nan", "inf") are
// treated as missing.
func number(raw json.RawMessage) (float64, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
