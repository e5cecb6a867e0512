package workflows

import "fmt"

// ValidationResult holds errors and warnings from definition validation.
type ValidationResult struct {
	Errors   []string // Blocking: missing fields, unknown step types
	Warnings []string // Non-blocking: suspicious but runnable layouts
}

// HasErrors returns true if there are blocking validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Validate checks that a definition is well formed: a non-empty name, at least
// one step, and known step types. A first step that is not an ingest step, or
// a publish step followed by a non-publish step, yields a warning, not an error.
func Validate(def *Definition) *ValidationResult {
	r := &ValidationResult{}

	if def.Name == "" {
		r.Errors = append(r.Errors, "workflow name must be non-empty")
	}
	if len(def.Steps) == 0 {
		r.Errors = append(r.Errors, fmt.Sprintf("workflow %q must declare at least one step", def.Name))
		return r
	}

	for i, step := range def.Steps {
		if !knownStepTypes[step.Type] {
			r.Errors = append(r.Errors, fmt.Sprintf(
				"workflow %q step %d has unknown type %q", def.Name, i, step.Type))
		}
	}

	if !isIngest(def.Steps[0].Type) {
		r.Warnings = append(r.Warnings, fmt.Sprintf(
			"workflow %q does not start with an ingest step; it will only receive forwarded media", def.Name))
	}
	for i, step := range def.Steps[:len(def.Steps)-1] {
		if isPublish(step.Type) && !isPublish(def.Steps[i+1].Type) {
			r.Warnings = append(r.Warnings, fmt.Sprintf(
				"workflow %q publishes at step %d before the pipeline ends", def.Name, i))
		}
	}

	return r
}

func isIngest(t StepType) bool {
	return t == StepRTMPReceive || t == StepRTMPWatch
}

func isPublish(t StepType) bool {
	return t == StepHLSPublish || t == StepRTMPPush || t == StepForward
}
