package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity levels used across events and incidents.
const (
	SeverityCritical      = "critical"
	SeverityHigh          = "high"
	SeverityMedium        = "medium"
	SeverityLow           = "low"
	SeverityInformational = "informational"
)

// IncidentStatus tracks an incident through its lifecycle.
type IncidentStatus string

const (
	StatusDetected  IncidentStatus = "detected"
	StatusAnalyzing IncidentStatus = "analyzing"
	StatusResolved  IncidentStatus = "resolved"
	StatusEscalated IncidentStatus = "escalated"
	StatusPartial   IncidentStatus = "partial"
)

// EventSource identifies what produced a security event.
type EventSource struct {
	Type string `json:"source_type"`
	Name string `json:"name"`
	ID   string `json:"id"`
	// Optional resource descriptors, e.g. {"resource_type": "database"}
	Resource map[string]string `json:"resource,omitempty"`
}

// SecurityEvent represents a single observed suspicious action. Events are
// immutable once created and are owned exclusively by the incident that
// contains them.
type SecurityEvent struct {
	ID                string                 `json:"id"`
	Timestamp         time.Time              `json:"timestamp"`
	Type              string                 `json:"event_type"`
	Source            EventSource            `json:"source"`
	Severity          string                 `json:"severity"`
	Description       string                 `json:"description"`
	RawData           map[string]interface{} `json:"raw_data,omitempty"`
	Actor             string                 `json:"actor,omitempty"`
	AffectedResources []string               `json:"affected_resources,omitempty"`
	Indicators        map[string]interface{} `json:"indicators,omitempty"`
}

// Incident is a tracked security occurrence composed of one or more events.
type Incident struct {
	ID          string                 `json:"id"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Severity    string                 `json:"severity"`
	Status      IncidentStatus         `json:"status"`
	Events      []SecurityEvent        `json:"events"`
	AssignedTo  string                 `json:"assigned_to,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// NewIncident creates an incident in the detected state with a fresh ID.
func NewIncident(title, description, severity string, evts []SecurityEvent) *Incident {
	now := time.Now()
	return &Incident{
		ID:          "INC-" + uuid.NewString(),
		CreatedAt:   now,
		UpdatedAt:   now,
		Title:       title,
		Description: description,
		Severity:    strings.ToLower(severity),
		Status:      StatusDetected,
		Events:      evts,
	}
}

// NewEvent creates a security event with a fresh ID and current timestamp.
func NewEvent(eventType, severity, description string, source EventSource) SecurityEvent {
	return SecurityEvent{
		ID:          "evt-" + uuid.NewString(),
		Timestamp:   time.Now(),
		Type:        eventType,
		Source:      source,
		Severity:    strings.ToLower(severity),
		Description: description,
	}
}

// ValidSeverity reports whether s is a recognized severity level.
func ValidSeverity(s string) bool {
	switch strings.ToLower(s) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInformational:
		return true
	}
	return false
}

// ValidationError marks an incident or event that failed ingestion
// validation. Callers can distinguish it from transient failures with
// errors.As.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// Validate checks a single event's required fields.
func (e *SecurityEvent) Validate() error {
	if e.Type == "" {
		return &ValidationError{Field: "event_type", Message: "event type is required"}
	}
	if e.Severity != "" && !ValidSeverity(e.Severity) {
		return &ValidationError{Field: "severity", Message: fmt.Sprintf("invalid severity: %s", e.Severity)}
	}
	if e.Source.Type == "" && e.Source.Name == "" {
		return &ValidationError{Field: "source", Message: "event source is required"}
	}
	return nil
}

// Validate checks an incident's required fields and every contained event.
// Malformed incidents are rejected here, before they ever reach analysis.
func (i *Incident) Validate() error {
	if i.Title == "" {
		return &ValidationError{Field: "title", Message: "incident title is required"}
	}
	if i.Description == "" {
		return &ValidationError{Field: "description", Message: "incident description is required"}
	}
	if len(i.Events) == 0 {
		return &ValidationError{Field: "events", Message: "incident must contain at least one event"}
	}
	if !ValidSeverity(i.Severity) {
		return &ValidationError{Field: "severity", Message: fmt.Sprintf("invalid severity: %s", i.Severity)}
	}
	for idx := range i.Events {
		if err := i.Events[idx].Validate(); err != nil {
			return fmt.Errorf("event %d: %w", idx, err)
		}
	}
	return nil
}

// EventTypes returns the distinct event types present on the incident, in
// first-seen order.
func (i *Incident) EventTypes() []string {
	seen := make(map[string]bool)
	var types []string
	for _, e := range i.Events {
		if !seen[e.Type] {
			seen[e.Type] = true
			types = append(types, e.Type)
		}
	}
	return types
}

// ResourceTypes returns the distinct resource type descriptors referenced by
// the incident's event sources, in first-seen order.
func (i *Incident) ResourceTypes() []string {
	seen := make(map[string]bool)
	var types []string
	for _, e := range i.Events {
		rt := e.Source.Resource["resource_type"]
		if rt != "" && !seen[rt] {
			seen[rt] = true
			types = append(types, rt)
		}
	}
	return types
}
