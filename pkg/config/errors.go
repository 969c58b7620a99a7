package config

import "fmt"

// ConfigurationError reports a fatal startup problem: a malformed or missing
// dimension descriptor, an inconsistent view set, or invalid settings.
// Nothing is started once one of these is returned.
type ConfigurationError struct {
	// Source names the file or setting that is wrong
	Source string

	// Reason is a short human-readable explanation
	Reason string

	// Err is the underlying cause, if any
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error in %s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error in %s: %s", e.Source, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
