package domain

// Severity ranks an operator alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// AlertField is one labelled value shown under an alert.
type AlertField struct {
	Name  string
	Value string
}

// Alert is an operator notification. Event is the filter key matched
// against the configured notify.events list.
type Alert struct {
	Event    string
	Severity Severity
	Title    string
	Message  string
	Fields   []AlertField
}
