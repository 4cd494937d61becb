package enums

import "fmt"

// AssignmentStatus tracks where an assignment sits in the dispatch lifecycle.
type AssignmentStatus string

const (
	AssignmentStatusPending    AssignmentStatus = "pending"
	AssignmentStatusAssigned   AssignmentStatus = "assigned"
	AssignmentStatusAccepted   AssignmentStatus = "accepted"
	AssignmentStatusRejected   AssignmentStatus = "rejected"
	AssignmentStatusReassigned AssignmentStatus = "reassigned"
	AssignmentStatusCompleted  AssignmentStatus = "completed"
)

var validAssignmentStatuses = []AssignmentStatus{
	AssignmentStatusPending,
	AssignmentStatusAssigned,
	AssignmentStatusAccepted,
	AssignmentStatusRejected,
	AssignmentStatusReassigned,
	AssignmentStatusCompleted,
}

// ActiveAssignmentStatuses are the states that block a new dispatch for the
// same order.
var ActiveAssignmentStatuses = []AssignmentStatus{
	AssignmentStatusPending,
	AssignmentStatusAssigned,
	AssignmentStatusAccepted,
	AssignmentStatusReassigned,
}

// String implements fmt.Stringer.
func (s AssignmentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known AssignmentStatus.
func (s AssignmentStatus) IsValid() bool {
	for _, candidate := range validAssignmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsActive reports whether the assignment still owns its order.
func (s AssignmentStatus) IsActive() bool {
	for _, candidate := range ActiveAssignmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseAssignmentStatus converts raw input into an AssignmentStatus.
func ParseAssignmentStatus(value string) (AssignmentStatus, error) {
	for _, candidate := range validAssignmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid assignment status %q", value)
}
