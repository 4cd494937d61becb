package enums

import "fmt"

// AssignmentType records how the partner was chosen.
type AssignmentType string

const (
	AssignmentTypeAuto   AssignmentType = "auto"
	AssignmentTypeManual AssignmentType = "manual"
)

var validAssignmentTypes = []AssignmentType{
	AssignmentTypeAuto,
	AssignmentTypeManual,
}

// String implements fmt.Stringer.
func (t AssignmentType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known AssignmentType.
func (t AssignmentType) IsValid() bool {
	for _, candidate := range validAssignmentTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseAssignmentType converts raw input into an AssignmentType.
func ParseAssignmentType(value string) (AssignmentType, error) {
	for _, candidate := range validAssignmentTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid assignment type %q", value)
}
