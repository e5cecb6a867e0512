// Package reactor turns stream-name requests into managed workflow lifecycles.
//
// A reactor is a single-writer actor. Callers ask it for the workflow that
// should serve a named stream; the reactor consults its Executor, caches the
// answer per stream name, reference-counts caller interest through keep-alive
// channels, and mirrors the cache into whichever workflow manager is
// currently registered on the event hub. When a manager (re)appears the whole
// cache is replayed to it, so the manager converges on the reactor's view
// without the reactor persisting anything.
//
// All waiting happens in companion goroutines that post completions back to
// the actor loop; the loop itself only ever blocks on its own event channel.
package reactor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluxpoint-media/fluxpoint/eventhub"
	"github.com/fluxpoint-media/fluxpoint/logger"
	"github.com/fluxpoint-media/fluxpoint/manager"
	"github.com/fluxpoint-media/fluxpoint/metrics"
	"github.com/fluxpoint-media/fluxpoint/workflows"
)

// Request is the variant set accepted by a reactor.
type Request interface {
	reactorRequest()
}

// CreateWorkflowNameForStream asks the reactor to bring up, and keep running,
// the workflow for a stream.
//
// Reply receives the name of the resolved workflow, or nil when no workflow
// applies. It should be buffered; the reactor's send is non-blocking and a
// requester that has gone away simply misses the reply. If a second request
// for the same stream name arrives while the first is still at the executor,
// the later reply channel replaces the earlier one and the earlier requester
// never receives a reply.
//
// KeepAlive is the receive end of a one-shot channel whose send end stays
// with the requester (or whoever it delegates the workflow's lifetime to).
// Closing or signalling it tells the reactor that this unit of interest in
// the workflow has ended.
type CreateWorkflowNameForStream struct {
	StreamName string
	Reply      chan<- *string
	KeepAlive  <-chan struct{}
}

func (CreateWorkflowNameForStream) reactorRequest() {}

// event is the actor-internal fan-in; companion goroutines translate every
// external wait into exactly one of these.
type event interface {
	reactorEvent()
}

type requestReceived struct {
	request Request
}

type inboxClosed struct{}

type executorResolved struct {
	streamName string
	definition *workflows.Definition
	err        error
	keepAlive  <-chan struct{}
	elapsed    time.Duration
}

type keepAliveClosed struct {
	streamName string
}

type hubEventReceived struct {
	event eventhub.Event
}

type hubClosed struct{}

type managerGone struct {
	generation uint64
}

// pendingRequest is one row of the pending table. outstanding counts executor
// calls still in flight for the stream name; reply always points at the most
// recent requester's channel.
type pendingRequest struct {
	reply       chan<- *string
	outstanding int
}

func (requestReceived) reactorEvent()  {}
func (inboxClosed) reactorEvent()      {}
func (executorResolved) reactorEvent() {}
func (keepAliveClosed) reactorEvent()  {}
func (hubEventReceived) reactorEvent() {}
func (hubClosed) reactorEvent()        {}
func (managerGone) reactorEvent()      {}

// Reactor is the actor. Obtain one from Start; interact with it through the
// Requests channel; close that channel to shut it down.
type Reactor struct {
	name     string
	executor Executor
	log      *slog.Logger

	requests chan Request
	events   chan event
	done     chan struct{}

	// ctx cancels outstanding executor calls when the actor exits.
	ctx    context.Context
	cancel context.CancelFunc

	cache   *workflowCache
	pending map[string]*pendingRequest

	manager    *manager.Handle
	generation uint64
}

// Start launches a reactor and subscribes it to workflow-manager events on
// the hub. The returned reactor is ready for requests immediately.
func Start(name string, executor Executor, subscribe chan<- eventhub.SubscriptionRequest) *Reactor {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reactor{
		name:     name,
		executor: executor,
		log:      logger.ForModule("reactor", "reactor", name),
		requests: make(chan Request, 16),
		events:   make(chan event, 64),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		cache:    newWorkflowCache(),
		pending:  make(map[string]*pendingRequest),
	}

	hubEvents := make(chan eventhub.Event, 16)
	go r.watchHub(subscribe, hubEvents)
	go r.watchInbox()
	go r.run()

	return r
}

// Requests returns the channel callers send requests on. Closing it stops
// the reactor once in-flight work has been abandoned.
func (r *Reactor) Requests() chan<- Request {
	return r.requests
}

// Done returns a channel that closes when the actor has exited.
func (r *Reactor) Done() <-chan struct{} {
	return r.done
}

// post hands an event to the actor loop. Companion goroutines use it so they
// can never outlive the actor wedged on a dead channel.
func (r *Reactor) post(ev event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// watchInbox forwards caller requests into the actor loop.
func (r *Reactor) watchInbox() {
	for req := range r.requests {
		r.post(requestReceived{request: req})
	}
	r.post(inboxClosed{})
}

// watchHub subscribes to manager events and forwards them into the loop.
// The subscription is issued exactly once, before any event can arrive.
func (r *Reactor) watchHub(subscribe chan<- eventhub.SubscriptionRequest, events chan eventhub.Event) {
	req := eventhub.SubscriptionRequest{
		Kind:    eventhub.WorkflowManagerEvents,
		Channel: events,
	}
	select {
	case subscribe <- req:
	case <-r.done:
		return
	}

	for ev := range events {
		r.post(hubEventReceived{event: ev})
	}
	r.post(hubClosed{})
}

func (r *Reactor) run() {
	r.log.Info("reactor started")
	defer func() {
		r.cancel()
		close(r.done)
		r.log.Info("reactor stopped")
	}()

	for ev := range r.events {
		switch ev := ev.(type) {
		case inboxClosed:
			r.log.Info("all request senders gone")
			return

		case hubClosed:
			r.log.Info("event hub gone")
			return

		case requestReceived:
			r.handleRequest(ev.request)

		case executorResolved:
			r.handleExecutorResolved(ev)

		case keepAliveClosed:
			r.handleKeepAliveClosed(ev.streamName)

		case hubEventReceived:
			r.handleHubEvent(ev.event)

		case managerGone:
			r.handleManagerGone(ev.generation)
		}
	}
}

func (r *Reactor) handleRequest(request Request) {
	switch req := request.(type) {
	case CreateWorkflowNameForStream:
		r.log.Info("workflow requested for stream", "stream_name", req.StreamName)
		if p, ok := r.pending[req.StreamName]; ok {
			// Last writer wins: the earlier requester's reply channel is
			// dropped and that requester never hears back.
			p.reply = req.Reply
			p.outstanding++
		} else {
			r.pending[req.StreamName] = &pendingRequest{reply: req.Reply, outstanding: 1}
		}

		streamName := req.StreamName
		keepAlive := req.KeepAlive
		go func() {
			start := time.Now()
			def, err := r.executor.GetWorkflow(r.ctx, streamName)
			r.post(executorResolved{
				streamName: streamName,
				definition: def,
				err:        err,
				keepAlive:  keepAlive,
				elapsed:    time.Since(start),
			})
		}()

	default:
		r.log.Error("unknown reactor request")
	}
}

func (r *Reactor) handleExecutorResolved(ev executorResolved) {
	p, ok := r.pending[ev.streamName]
	if !ok {
		r.log.Error("received executor response for stream with no active request",
			"stream_name", ev.streamName)
		metrics.RecordReactorRequest(r.name, "orphan")
		return
	}
	reply := p.reply
	p.outstanding--
	if p.outstanding == 0 {
		delete(r.pending, ev.streamName)
	}

	switch {
	case ev.err != nil:
		// The executor has exhausted its own retries; treat the stream as
		// having no workflow so the requester is not left hanging.
		r.log.Error("executor failed for stream",
			"stream_name", ev.streamName, "error", ev.err)
		metrics.RecordReactorRequest(r.name, "error")
		metrics.ObserveExecutorResolution(r.name, "error", ev.elapsed.Seconds())
		r.sendReply(reply, nil)

	case ev.definition == nil:
		r.log.Info("executor returned no workflow for stream", "stream_name", ev.streamName)
		metrics.RecordReactorRequest(r.name, "no_workflow")
		metrics.ObserveExecutorResolution(r.name, "no_workflow", ev.elapsed.Seconds())
		r.sendReply(reply, nil)

	default:
		workflowName := ev.definition.Name
		r.log.Info("executor resolved workflow for stream",
			"stream_name", ev.streamName, "workflow", workflowName)
		metrics.RecordReactorRequest(r.name, "resolved")
		metrics.ObserveExecutorResolution(r.name, "resolved", ev.elapsed.Seconds())

		r.cache.bump(ev.streamName, ev.definition)
		r.updateGauges()

		streamName := ev.streamName
		keepAlive := ev.keepAlive
		go func() {
			select {
			case <-keepAlive:
			case <-r.done:
				return
			}
			r.post(keepAliveClosed{streamName: streamName})
		}()

		r.sendUpsert(ev.definition, fmt.Sprintf("reactor_%s_stream_%s", r.name, ev.streamName))
		r.sendReply(reply, &workflowName)
	}
}

func (r *Reactor) handleKeepAliveClosed(streamName string) {
	present, removed, lastName, remaining := r.cache.release(streamName)
	if !present {
		r.log.Debug("keep-alive closed for unknown stream", "stream_name", streamName)
		return
	}
	r.updateGauges()

	if removed {
		r.log.Info("all keep-alive channels closed for stream",
			"stream_name", streamName, "workflow", lastName)
		r.sendStop(lastName, "from_reactor")
		return
	}
	r.log.Info("keep-alive channel closed for stream",
		"stream_name", streamName, "remaining", remaining)
}

func (r *Reactor) handleHubEvent(hubEvent eventhub.Event) {
	switch ev := hubEvent.(type) {
	case eventhub.WorkflowManagerRegistered:
		r.log.Info("workflow manager registered")
		r.generation++
		generation := r.generation

		go func() {
			select {
			case <-ev.Handle.Done():
				r.post(managerGone{generation: generation})
			case <-r.done:
			}
		}()

		// Catch the new manager up on everything we know before adopting it.
		requestID := fmt.Sprintf("reactor_%s_cache_catchup", r.name)
		for _, def := range r.cache.snapshot() {
			delivered := ev.Handle.Send(manager.Request{
				RequestID: requestID,
				Operation: manager.UpsertWorkflow{Definition: def},
			})
			metrics.RecordManagerSend(r.name, "upsert", delivered)
		}

		r.manager = ev.Handle

	default:
		r.log.Error("unknown event hub event")
	}
}

func (r *Reactor) handleManagerGone(generation uint64) {
	// A gone-signal for a handle that has since been replaced is stale.
	if generation != r.generation {
		return
	}
	r.log.Info("workflow manager gone")
	r.manager = nil
}

// sendUpsert mirrors a cache bump to the current manager. With no manager
// registered nothing is sent; the next registration's replay covers it.
func (r *Reactor) sendUpsert(def *workflows.Definition, requestID string) {
	if r.manager == nil {
		r.log.Debug("no workflow manager; upsert deferred to next registration",
			"workflow", def.Name)
		return
	}
	delivered := r.manager.Send(manager.Request{
		RequestID: requestID,
		Operation: manager.UpsertWorkflow{Definition: def},
	})
	metrics.RecordManagerSend(r.name, "upsert", delivered)
}

// sendStop tells the current manager a workflow lost its last keep-alive.
// With no manager registered the stop is intentionally lost: the next manager
// only ever learns of still-referenced workflows through replay.
func (r *Reactor) sendStop(workflowName, requestID string) {
	if r.manager == nil {
		r.log.Debug("no workflow manager; stop dropped", "workflow", workflowName)
		return
	}
	delivered := r.manager.Send(manager.Request{
		RequestID: requestID,
		Operation: manager.StopWorkflow{Name: workflowName},
	})
	metrics.RecordManagerSend(r.name, "stop", delivered)
}

// sendReply delivers the resolution outcome without ever blocking the loop.
func (r *Reactor) sendReply(reply chan<- *string, workflowName *string) {
	select {
	case reply <- workflowName:
	default:
	}
}

func (r *Reactor) updateGauges() {
	metrics.SetReactorCacheEntries(r.name, r.cache.len())
	metrics.SetReactorKeepAlives(r.name, r.cache.totalKeepAlives())
}
