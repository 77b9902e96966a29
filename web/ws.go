// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/events"
)

// WebSocket keepalive settings.
const (
	wsPingInterval  = 30 * time.Second
	wsWriteDeadline = 10 * time.Second
	wsStatusPeriod  = 10 * time.Second
)

// ipCounter caps concurrent websocket connections per client address.
type ipCounter struct {
	mu  sync.Mutex
	max int
	per map[string]int
}

func newIPCounter(max int) *ipCounter {
	return &ipCounter{max: max, per: make(map[string]int)}
}

func (counter *ipCounter) acquire(ip string) bool {
	counter.mu.Lock()
	defer counter.mu.Unlock()
	if counter.per[ip] >= counter.max {
		return false
	}
	counter.per[ip]++
	return true
}

func (counter *ipCounter) release(ip string) {
	counter.mu.Lock()
	defer counter.mu.Unlock()
	if counter.per[ip] <= 1 {
		delete(counter.per, ip)
	} else {
		counter.per[ip]--
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// wsAuthorized checks the api key from the query string or header;
// browsers cannot set headers on websocket dials.
func (server *Server) wsAuthorized(r *http.Request) bool {
	if server.config.APIKey == "" {
		return true
	}
	if validAPIKey(server.config.APIKey, r.URL.Query().Get("api_key")) {
		return true
	}
	return validAPIKey(server.config.APIKey, r.Header.Get("X-API-Key"))
}

// wsUpgrade authenticates, applies the per-ip cap and upgrades. The
// returned release func must be called when the connection ends.
func (server *Server) wsUpgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, func(), bool) {
	if !server.wsAuthorized(r) {
		sendJSONError(w, "forbidden", "missing or invalid api key", http.StatusForbidden)
		return nil, nil, false
	}
	ip := clientIP(r)
	if !server.wsConns.acquire(ip) {
		sendJSONError(w, "forbidden", "too many websocket connections", http.StatusForbidden)
		return nil, nil, false
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || server.originAllowed(origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		server.wsConns.release(ip)
		return nil, nil, false
	}

	release := func() {
		_ = conn.Close()
		server.wsConns.release(ip)
	}
	if err := wsWriteJSON(conn, map[string]any{"type": "connected"}); err != nil {
		release()
		return nil, nil, false
	}
	return conn, release, true
}

func wsWriteJSON(conn *websocket.Conn, value any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
	return conn.WriteJSON(value)
}

func wsWriteRaw(conn *websocket.Conn, payload []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func wsPing(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteDeadline))
}

// wsReader drains the connection so close frames and pongs are
// processed, cancelling the writer when the peer goes away.
func wsReader(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// wsJob streams one job's progress events, closing after the first
// terminal status so clients need no polling fallback.
func (server *Server) wsJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	job, err := server.db.Jobs().Get(r.Context(), id)
	if err != nil {
		sendError(w, err)
		return
	}

	conn, release, ok := server.wsUpgrade(w, r)
	if !ok {
		return
	}
	defer release()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go wsReader(conn, cancel)

	sub := server.events.Subscribe(ctx, events.JobTopic(id))
	defer func() { _ = sub.Close() }()

	// Snapshot first: a job that finished before the dial still gets its
	// terminal event.
	snapshot := events.ProgressEvent{
		JobID:     job.ID,
		Status:    string(job.Status),
		Progress:  job.Progress,
		Message:   job.StatusMessage,
		Error:     job.Error,
		Timestamp: job.UpdatedAt,
	}
	if err := wsWriteJSON(conn, snapshot); err != nil {
		return
	}
	if job.Status.Terminal() {
		return
	}

	pinger := time.NewTicker(wsPingInterval)
	defer pinger.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-pinger.C:
			if err := wsPing(conn); err != nil {
				return
			}
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			if err := wsWriteRaw(conn, []byte(msg.Payload)); err != nil {
				return
			}
			var event events.ProgressEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err == nil &&
				catalog.JobStatus(event.Status).Terminal() {
				return
			}
		}
	}
}

// wsEvents streams the global event feed.
func (server *Server) wsEvents(w http.ResponseWriter, r *http.Request) {
	conn, release, ok := server.wsUpgrade(w, r)
	if !ok {
		return
	}
	defer release()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go wsReader(conn, cancel)

	sub := server.events.Subscribe(ctx, events.GlobalTopic)
	defer func() { _ = sub.Close() }()

	pinger := time.NewTicker(wsPingInterval)
	defer pinger.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-pinger.C:
			if err := wsPing(conn); err != nil {
				return
			}
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			if err := wsWriteRaw(conn, []byte(msg.Payload)); err != nil {
				return
			}
		}
	}
}

// wsStatus pushes a periodic system snapshot; there is no subscription
// behind it.
func (server *Server) wsStatus(w http.ResponseWriter, r *http.Request) {
	conn, release, ok := server.wsUpgrade(w, r)
	if !ok {
		return
	}
	defer release()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go wsReader(conn, cancel)

	send := func() error {
		workers, err := server.queue.Workers(ctx)
		if err != nil {
			server.log.Warn("worker listing failed", zap.Error(err))
		}
		alive := 0
		for _, worker := range workers {
			if worker.Alive {
				alive++
			}
		}
		return wsWriteJSON(conn, map[string]any{
			"type":          "status",
			"workers_alive": alive,
			"timestamp":     time.Now().UTC(),
		})
	}
	if err := send(); err != nil {
		return
	}

	ticker := time.NewTicker(wsStatusPeriod)
	defer ticker.Stop()
	pinger := time.NewTicker(wsPingInterval)
	defer pinger.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := send(); err != nil {
				return
			}
		case <-pinger.C:
			if err := wsPing(conn); err != nil {
				return
			}
		}
	}
}
