package corr

import "fmt"

// ConfigurationError reports an unusable variable list or threshold.
type ConfigurationError struct {
	Reason   string
	Variable string
}

func (e *ConfigurationError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("%s: %q", e.Reason, e.Variable)
	}
	return e.Reason
}

// ComputationError reports a pair of variables whose correlation is undefined.
type ComputationError struct {
	A, B   string
	Reason string
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("correlation of %q and %q: %s", e.A, e.B, e.Reason)
}
