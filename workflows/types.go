// Package workflows defines the media-pipeline vocabulary shared across the
// fluxpoint control plane.
//
// A workflow is a single linear media pipeline: media enters through an ingest
// step, passes through zero or more transform steps, and leaves through one or
// more publish steps, in the order the steps were declared.
package workflows

import "fmt"

// StepType identifies what a pipeline step does.
type StepType string

const (
	// StepRTMPReceive ingests media pushed to an RTMP endpoint.
	StepRTMPReceive StepType = "rtmp_receive"
	// StepRTMPWatch ingests media by pulling from a remote RTMP source.
	StepRTMPWatch StepType = "rtmp_watch"
	// StepTranscode re-encodes the stream with the configured codec parameters.
	StepTranscode StepType = "transcode"
	// StepHLSPublish packages the stream into an HLS rendition.
	StepHLSPublish StepType = "hls_publish"
	// StepRTMPPush publishes the stream to a remote RTMP endpoint.
	StepRTMPPush StepType = "rtmp_push"
	// StepForward hands the stream off to another workflow by name.
	StepForward StepType = "forward"
)

// knownStepTypes is the set of step types the control plane accepts.
var knownStepTypes = map[StepType]bool{
	StepRTMPReceive: true,
	StepRTMPWatch:   true,
	StepTranscode:   true,
	StepHLSPublish:  true,
	StepRTMPPush:    true,
	StepForward:     true,
}

// StepDefinition describes one step of a pipeline. Parameters are opaque to
// the control plane and interpreted by whichever element implements the step.
type StepDefinition struct {
	Type       StepType          `yaml:"type" json:"type"`
	Parameters map[string]string `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Definition describes a complete workflow. Definitions are immutable once
// produced; holders that need to retain one across mutations take a Clone.
type Definition struct {
	Name  string           `yaml:"name" json:"name"`
	Steps []StepDefinition `yaml:"steps" json:"steps"`
}

// Clone returns a deep copy of the definition.
func (d *Definition) Clone() *Definition {
	out := &Definition{
		Name:  d.Name,
		Steps: make([]StepDefinition, len(d.Steps)),
	}
	for i, step := range d.Steps {
		out.Steps[i] = StepDefinition{Type: step.Type}
		if step.Parameters != nil {
			out.Steps[i].Parameters = make(map[string]string, len(step.Parameters))
			for k, v := range step.Parameters {
				out.Steps[i].Parameters[k] = v
			}
		}
	}
	return out
}

func (d *Definition) String() string {
	return fmt.Sprintf("workflow %q (%d steps)", d.Name, len(d.Steps))
}
