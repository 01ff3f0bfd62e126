package events

// EventType defines the type of event in the system
type EventType string

const (
	// Instance Events
	InstanceSubmitted    EventType = "instance.submitted"
	InstanceApproved     EventType = "instance.approved"
	InstanceRejected     EventType = "instance.rejected"
	InstanceSentBack     EventType = "instance.sent_back"
	InstanceEscalated    EventType = "instance.escalated"
	InstanceAutoApproved EventType = "instance.auto_approved"
	InstanceCompleted    EventType = "instance.completed"
	InstanceCancelled    EventType = "instance.cancelled"
	InstanceDelegated    EventType = "instance.delegated"

	// Definition Events
	DefinitionPublished EventType = "definition.published"
	DefinitionArchived  EventType = "definition.archived"

	// System Events
	SystemStartup EventType = "system.startup"
)

// String returns the string representation of the event type
func (e EventType) String() string {
	return string(e)
}

// InstanceEvent is the payload of every instance.* event.
type InstanceEvent struct {
	InstanceID    string        `json:"instanceId"`
	Tenant        string        `json:"tenant"`
	EntityType    string        `json:"entityType"`
	EntityID      string        `json:"entityId"`
	RequesterID   string        `json:"requesterId"`
	ActorID       string        `json:"actorId"`
	Action        string        `json:"action"`
	Outcome       string        `json:"outcome"`
	FromStatus    string        `json:"fromStatus"`
	ToStatus      string        `json:"toStatus"`
	StepIndex     int           `json:"stepIndex"`
	Recipients    []string      `json:"recipients,omitempty"`
	Notifications Notifications `json:"notifications"`
	Comments      string        `json:"comments,omitempty"`
}

// Notifications mirrors the channels configured on the step the event concerns.
type Notifications struct {
	Email bool `json:"email"`
	InApp bool `json:"inApp"`
	SMS   bool `json:"sms"`
}

// DefinitionEvent is the payload of definition.* events.
type DefinitionEvent struct {
	DefinitionID string `json:"definitionId"`
	Tenant       string `json:"tenant"`
	AppliesTo    string `json:"appliesTo"`
	Revision     string `json:"revision"`
	ActorID      string `json:"actorId"`
}

// Published lists the event types that leave the process through the outbox.
func Published() []EventType {
	return []EventType{
		InstanceSubmitted, InstanceApproved, InstanceRejected, InstanceSentBack, InstanceEscalated,
		InstanceAutoApproved, InstanceCompleted, InstanceCancelled, InstanceDelegated,
		DefinitionPublished, DefinitionArchived,
	}
}
