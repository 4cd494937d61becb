package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateAssignment OutboxAggregateType = "assignment"
	AggregatePartner    OutboxAggregateType = "partner"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateAssignment,
	AggregatePartner,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventAssignmentCreated     OutboxEventType = "assignment_created"
	EventAssignmentAssigned    OutboxEventType = "assignment_assigned"
	EventAssignmentUnassigned  OutboxEventType = "assignment_unassigned"
	EventAssignmentAccepted    OutboxEventType = "assignment_accepted"
	EventAssignmentRejected    OutboxEventType = "assignment_rejected"
	EventAssignmentReassigned  OutboxEventType = "assignment_reassigned"
	EventAssignmentCompleted   OutboxEventType = "assignment_completed"
	EventNotificationRequested OutboxEventType = "notification_requested"
)

var validOutboxEventTypes = []OutboxEventType{
	EventAssignmentCreated,
	EventAssignmentAssigned,
	EventAssignmentUnassigned,
	EventAssignmentAccepted,
	EventAssignmentRejected,
	EventAssignmentReassigned,
	EventAssignmentCompleted,
	EventNotificationRequested,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
