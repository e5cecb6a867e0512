package reactor

import (
	"context"
	"sort"
	"strings"

	"github.com/fluxpoint-media/fluxpoint/workflows"
)

// Executor resolves a stream name to the workflow that should serve it.
//
// Implementations own their retries and timeouts; the reactor awaits a call
// for as long as it takes and never times it out. Returning (nil, nil) means
// no workflow applies to the stream, which is not an error. A call must
// return promptly once ctx is cancelled; the reactor cancels outstanding
// calls only when it shuts down.
type Executor interface {
	GetWorkflow(ctx context.Context, streamName string) (*workflows.Definition, error)
}

// Route binds a stream-name prefix to a workflow definition.
type Route struct {
	StreamPrefix string
	Definition   *workflows.Definition
}

// StaticExecutor resolves stream names against a fixed route table, most
// specific prefix first. An empty prefix matches every stream.
type StaticExecutor struct {
	routes []Route
}

// NewStaticExecutor creates an executor over the given routes. The route
// order given by the caller is not significant; longer prefixes win.
func NewStaticExecutor(routes []Route) *StaticExecutor {
	sorted := make([]Route, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].StreamPrefix) > len(sorted[j].StreamPrefix)
	})
	return &StaticExecutor{routes: sorted}
}

// GetWorkflow returns the definition of the first route whose prefix matches
// the stream name, or nil when no route matches.
func (e *StaticExecutor) GetWorkflow(_ context.Context, streamName string) (*workflows.Definition, error) {
	for _, route := range e.routes {
		if strings.HasPrefix(streamName, route.StreamPrefix) {
			return route.Definition, nil
		}
	}
	return nil, nil
}
