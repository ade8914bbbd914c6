package vitals

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTimeRange is returned for bounds that are not local datetimes or
// that end before they start.
var ErrInvalidTimeRange = errors.New("invalid time range")

// SourceLayout is the datetime layout the feed source expects.
const SourceLayout = "2006-01-02 15:04:05"

var localLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	SourceLayout,
}

// TimeRange carries the raw filter inputs of a dashboard request, as typed in a
// datetime-local control ("2024-05-01T08:30"). The raw values are echoed back
// to the presentation layer unchanged.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// IsSet reports whether both bounds were supplied. A single bound is ignored
// and the default trailing window is used instead.
func (t TimeRange) IsSet() bool {
	return strings.TrimSpace(t.Start) != "" && strings.TrimSpace(t.End) != ""
}

// Normalized returns both bounds in SourceLayout.
func (t TimeRange) Normalized() (start, end string, err error) {
	s, err := parseLocal(t.Start)
	if err != nil {
		return "", "", err
	}
	e, err := parseLocal(t.End)
	if err != nil {
		return "", "", err
	}
	if e.Before(s) {
		return "", "", fmt.Errorf("%w: end %q before start %q", ErrInvalidTimeRange, t.End, t.Start)
	}
	return s.Format(SourceLayout), e.Format(SourceLayout), nil
}

// Validate checks a set range. An unset range is always valid.
func (t TimeRange) Validate() error {
	if !t.IsSet() {
		return nil
	}
	_, _, err := t.Normalized()
	return err
}

func parseLocal(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range localLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q is not a local datetime", ErrInvalidTimeRange, value)
}
