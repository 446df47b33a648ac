// Package api exposes the live read surface: JSON snapshots of the session's
// heatmap, AOI statistics and counters, plus a websocket broadcast of mapped
// samples. All endpoints are pull-based or fed from a bounded queue; nothing
// here can block the mapping path.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/refgaze-data/refgaze/internal/gaze"
	"github.com/refgaze-data/refgaze/internal/monitoring"
	"github.com/refgaze-data/refgaze/internal/pipeline"
	"github.com/refgaze-data/refgaze/internal/record"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10

	// eventBuffer bounds the broadcast queue; slow websocket consumers
	// lose samples rather than stalling the publisher.
	eventBuffer = 256
)

// Server serves the HTTP and websocket read surface for one session.
type Server struct {
	session *pipeline.Session
	store   *record.Store

	upgrader websocket.Upgrader
	events   chan gaze.MappedSample

	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex
	dropped int64
}

// NewServer builds a server over a running session. The store is optional;
// without it the session listing endpoint reports not found.
func NewServer(session *pipeline.Session, store *record.Store) *Server {
	s := &Server{
		session: session,
		store:   store,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		events:  make(chan gaze.MappedSample, eventBuffer),
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}
	session.OnMapped(s.Publish)
	return s
}

// ServeMux returns the route table.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/heatmap", s.handleHeatmap)
	mux.HandleFunc("/api/aoi", s.handleAOI)
	mux.HandleFunc("/api/gaze/latest", s.handleLatest)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Publish enqueues a mapped sample for websocket broadcast without blocking;
// when the queue is full the sample is dropped and counted.
func (s *Server) Publish(m gaze.MappedSample) {
	select {
	case s.events <- m:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Run fans queued samples out to connected websocket clients until the
// context is cancelled.
func (s *Server) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-s.events:
			payload, err := json.Marshal(m)
			if err != nil {
				continue
			}
			var stale []*websocket.Conn
			s.mu.Lock()
			for conn, writeMu := range s.clients {
				if err := s.writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
					stale = append(stale, conn)
				}
			}
			s.mu.Unlock()
			for _, conn := range stale {
				s.removeClient(conn)
			}
		}
	}
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.session.Heatmap())
}

func (s *Server) handleAOI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.session.AOIStats())
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	m, ok := s.session.Latest()
	if !ok {
		http.Error(w, "no samples yet", http.StatusNotFound)
		return
	}
	writeJSON(w, m)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	clients := len(s.clients)
	dropped := s.dropped
	s.mu.Unlock()
	writeJSON(w, statsPayload{
		Session:          s.session.Stats(),
		WSClients:        clients,
		BroadcastDropped: dropped,
	})
}

type statsPayload struct {
	Session          pipeline.Stats `json:"session"`
	WSClients        int            `json:"ws_clients"`
	BroadcastDropped int64          `json:"broadcast_dropped"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "no session store", http.StatusNotFound)
		return
	}
	sessions, err := s.store.Sessions()
	if err != nil {
		http.Error(w, "failed to list sessions: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []record.SessionInfo{}
	}
	writeJSON(w, sessions)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writeMu := &sync.Mutex{}
	s.mu.Lock()
	s.clients[conn] = writeMu
	s.mu.Unlock()
	monitoring.Debugf("api: websocket client connected from %s", r.RemoteAddr)

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := s.writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
