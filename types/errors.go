package types

import "fmt"

// InvalidTransformError is returned when a camera or shape transform is
// degenerate. The offending transform is always replaced by the identity.
type InvalidTransformError struct {
	Owner  string
	Reason string
}

func (e *InvalidTransformError) Error() string {
	return fmt.Sprintf("types: invalid transform for %s: %s; substituting identity", e.Owner, e.Reason)
}
