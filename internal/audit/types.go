package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Mission lifecycle events
	EventMissionCreated   EventType = "mission.created"
	EventMissionUpdated   EventType = "mission.updated"
	EventMissionResolved  EventType = "mission.resolved"
	EventMissionFailed    EventType = "mission.failed"
	EventMissionEscalated EventType = "mission.escalated"
	EventMissionCompleted EventType = "mission.completed"

	// Stage events
	EventStageStarted   EventType = "stage.started"
	EventStageCompleted EventType = "stage.completed"
	EventStageFailed    EventType = "stage.failed"
	EventRollback       EventType = "stage.rollback"

	// Governance / trust events
	EventGovernanceChecked EventType = "governance.checked"
	EventGovernanceDenied  EventType = "governance.denied"
	EventConsensusOpened   EventType = "consensus.opened"
	EventConsensusResolved EventType = "consensus.resolved"
	EventTrustGateDenied   EventType = "trust.gate_denied"

	// Observation events
	EventWindowOpened    EventType = "observation.window_opened"
	EventWindowResolved  EventType = "observation.window_resolved"
	EventWindowEscalated EventType = "observation.window_escalated"
	EventCAPAOpened      EventType = "observation.capa_opened"

	// System events
	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPending Result = "pending"
	ResultDenied  Result = "denied"
)

// Event represents a single audit event
type Event struct {
	// Core fields
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	// Actor information
	Actor string `json:"actor,omitempty"`
	Role  string `json:"role,omitempty"`

	// Resource information
	Resource  string `json:"resource,omitempty"`
	Subsystem string `json:"subsystem,omitempty"`

	// Action details
	Action      string         `json:"action,omitempty"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// Error information
	Error string `json:"error,omitempty"`

	// Duration tracking
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultPending,
		Metadata:  make(map[string]any),
	}
}

// WithCorrelationID sets the correlation ID (mission id) for event tracking
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithActor sets the actor (agent or human) who triggered the event
func (e *Event) WithActor(actor, role string) *Event {
	e.Actor = actor
	e.Role = role
	return e
}

// WithResource sets the resource being acted upon
func (e *Event) WithResource(resource, subsystem string) *Event {
	e.Resource = resource
	e.Subsystem = subsystem
	return e
}

// WithAction sets the action being performed
func (e *Event) WithAction(action string) *Event {
	e.Action = action
	return e
}

// WithDescription sets a human-readable description
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithResult sets the result of the event
func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError sets error information
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Error = err.Error()
		e.Result = ResultFailure
	}
	return e
}

// WithDuration sets the duration in milliseconds
func (e *Event) WithDuration(duration time.Duration) *Event {
	e.DurationMs = duration.Milliseconds()
	return e
}

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key string, value any) *Event {
	e.Metadata[key] = value
	return e
}
