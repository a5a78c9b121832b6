// Package monitor serves feed loop events to browsers and scripts over a
// websocket, plus a JSON snapshot of the loop counters.
package monitor

import (
	"context"
	"encoding/json"
	stdlog "log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lanikai/h264play/internal/logging"
	"github.com/lanikai/h264play/internal/media"
)

var log = logging.DefaultLogger.WithTag("monitor")

const (
	// Events buffered per client before the oldest are dropped.
	clientBacklog = 256

	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// A Server pushes every message written to its Flow to each connected
// websocket client. Clients cannot send anything back; incoming messages are
// ignored.
type Server struct {
	events *media.Flow
	server *http.Server

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	stats func() media.Stats
}

// New creates a server listening on addr, e.g. ":8000".
func New(addr string, events *media.Flow) *Server {
	router := http.NewServeMux()
	s := &Server{
		events: events,
		server: &http.Server{
			Addr:     addr,
			Handler:  router,
			ErrorLog: stdlog.New(log, "", 0),
		},
		conns: make(map[*websocket.Conn]struct{}),
	}

	router.HandleFunc("/events", s.handleEvents)
	router.HandleFunc("/stats", s.handleStats)
	return s
}

// Handler returns the HTTP handler, for mounting elsewhere or testing.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenAndServe blocks until Shutdown is called. It then returns
// http.ErrServerClosed.
func (s *Server) ListenAndServe() error {
	log.Info("Monitor listening on %s", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting connections and disconnects all clients.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)

	s.mu.Lock()
	for ws := range s.conns {
		ws.Close()
	}
	s.mu.Unlock()
	return err
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade: %v", err)
		return
	}
	defer ws.Close()

	s.mu.Lock()
	s.conns[ws] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, ws)
		s.mu.Unlock()
	}()

	log.Debug("Client %s connected", r.RemoteAddr)
	events := s.events.Subscribe(clientBacklog)

	// Forward events until the subscription ends or the client goes away.
	written := make(chan struct{})
	go func() {
		defer close(written)
		for p := range events {
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, p); err != nil {
				log.Debug("Write to %s: %v", r.RemoteAddr, err)
				ws.Close()
				for range events {
				}
				return
			}
		}
	}()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("Client %s: %v", r.RemoteAddr, err)
			}
			break
		}
		log.Trace(1, "Ignoring message from %s", r.RemoteAddr)
	}

	// Unsubscribe closes the channel, ending the writer. It fails if the
	// flow was closed meanwhile, which ends the writer just the same.
	s.events.Unsubscribe(events)
	<-written
	log.Debug("Client %s disconnected", r.RemoteAddr)
}

// The JSON form of media.Stats.
type stats struct {
	State          string `json:"state"`
	Frames         int    `json:"frames"`
	Submitted      int    `json:"submitted"`
	SubmittedBytes int64  `json:"submittedBytes"`
	Skipped        int    `json:"skipped"`
	Rendered       int    `json:"rendered"`
	Replays        int    `json:"replays"`
	Reason         string `json:"reason,omitempty"`
}

// SetStats attaches the source for GET /stats, typically once playback has
// started. Until then the endpoint answers 503.
func (s *Server) SetStats(fn func() media.Stats) {
	s.mu.Lock()
	s.stats = fn
	s.mu.Unlock()
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fn := s.stats
	s.mu.Unlock()
	if fn == nil {
		http.Error(w, "no feed loop", http.StatusServiceUnavailable)
		return
	}
	st := fn()
	out := stats{
		State:          st.State.String(),
		Frames:         st.Frames,
		Submitted:      st.Submitted,
		SubmittedBytes: st.SubmittedBytes,
		Skipped:        st.Skipped,
		Rendered:       st.Rendered,
		Replays:        st.Replays,
	}
	if st.Reason != nil {
		out.Reason = st.Reason.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
