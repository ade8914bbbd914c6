package vitals

// Label is the risk status shown for a patient's current reading.
type Label string

const (
	LabelNormal     Label = "Vitals Normal"
	LabelRisk       Label = "Critical Risk Detected"
	LabelFallRisk   Label = "Risk: Fall Detected"
	LabelNoData     Label = "No data available"
	LabelModelError Label = "Model Error"
)

// IsRisk reports whether the label is a health risk signal.
func (l Label) IsRisk() bool {
	return l == LabelRisk || l == LabelFallRisk
}

// IsHealthSignal reports whether the label was derived from a reading, as
// opposed to a missing reading or an unavailable model.
func (l Label) IsHealthSignal() bool {
	return l == LabelNormal || l.IsRisk()
}
