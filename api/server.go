// Package api exposes the operational surface of a fluxpoint process:
// Prometheus metrics, the run registry, and a websocket feed that multiplexes
// manager run transitions with event-hub manager registrations.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fluxpoint-media/fluxpoint/eventhub"
	"github.com/fluxpoint-media/fluxpoint/logger"
	"github.com/fluxpoint-media/fluxpoint/manager"
	"github.com/fluxpoint-media/fluxpoint/metrics"
)

// FrameManagerRegistered is the frame type for event-hub manager
// registrations; run transition frames carry the manager.RunEventType values.
const FrameManagerRegistered = "manager.registered"

// Frame is one JSON message on the /v1/events feed.
type Frame struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Run       *manager.RunEvent `json:"run,omitempty"`
}

const (
	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second

	// pingPeriod keeps idle feed connections from being reaped by proxies.
	pingPeriod = 30 * time.Second

	// clientBuffer is the per-client event buffer; clients that fall this far
	// behind are disconnected rather than slowing the feed.
	clientBuffer = 32

	readHeaderTimeout = 10 * time.Second
)

// Server serves the operational API.
type Server struct {
	log      *slog.Logger
	store    manager.Store
	mux      *http.ServeMux
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[chan Frame]struct{}
}

// New creates a server over the given metrics registry and run registry.
// The events channel is the manager's notification feed; subscribe is the
// event hub's subscription channel, through which the server receives manager
// registrations. Both sources are fanned out to connected websocket clients;
// either source closing (which only happens at process shutdown) ends the
// feed.
func New(reg *prometheus.Registry, store manager.Store, events <-chan manager.RunEvent,
	subscribe chan<- eventhub.SubscriptionRequest) *Server {
	s := &Server{
		log:     logger.ForModule("api"),
		store:   store,
		mux:     http.NewServeMux(),
		clients: make(map[chan Frame]struct{}),
	}

	s.mux.Handle("/metrics", metrics.Handler(reg))
	s.mux.HandleFunc("/v1/runs", s.handleRuns)
	s.mux.HandleFunc("/v1/events", s.handleEvents)

	hubEvents := make(chan eventhub.Event, 16)
	go func() {
		subscribe <- eventhub.SubscriptionRequest{
			Kind:    eventhub.WorkflowManagerEvents,
			Channel: hubEvents,
		}
	}()
	go s.fanout(events, hubEvents)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves the API until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// fanout copies run events and hub registrations to every connected feed
// client, as Frames.
func (s *Server) fanout(events <-chan manager.RunEvent, hubEvents <-chan eventhub.Event) {
	defer s.closeClients()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			run := ev
			s.broadcast(Frame{Type: string(run.Type), Timestamp: run.Timestamp, Run: &run})

		case ev, ok := <-hubEvents:
			if !ok {
				return
			}
			if _, registered := ev.(eventhub.WorkflowManagerRegistered); registered {
				s.broadcast(Frame{Type: FrameManagerRegistered, Timestamp: time.Now()})
			}
		}
	}
}

func (s *Server) broadcast(frame Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		select {
		case client <- frame:
		default:
			// Client is wedged; its writer notices the close and exits.
			close(client)
			delete(s.clients, client)
		}
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		close(client)
	}
	s.clients = make(map[chan Frame]struct{})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	runs, err := s.store.List(r.Context())
	if err != nil {
		s.log.Error("failed to list runs", "error", err)
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(runs); err != nil {
		s.log.Error("failed to encode runs", "error", err)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	// Register before the handshake completes so no event published right
	// after the client connects can slip past it.
	client := make(chan Frame, clientBuffer)
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		s.disconnect(client)
		return
	}

	s.log.Debug("event feed client connected", "remote", r.RemoteAddr)
	go s.writeEvents(conn, client)

	// Drain the read side so close frames and pings are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.disconnect(client)
				return
			}
		}
	}()
}

func (s *Server) writeEvents(conn *websocket.Conn, client chan Frame) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame, ok := <-client:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				s.disconnect(client)
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.disconnect(client)
				return
			}
		}
	}
}

// disconnect removes a client; safe to call from either goroutine, twice.
func (s *Server) disconnect(client chan Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[client]; ok {
		close(client)
		delete(s.clients, client)
	}
}
