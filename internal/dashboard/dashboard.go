// Package dashboard serves the sales analytics dashboard.
// It renders an HTML overview, exposes the current aggregates as JSON and
// streams updates to connected browsers over WebSocket.
package dashboard

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"supermarket-sales/internal/analytics"
	"supermarket-sales/internal/metrics"
)

const (
	defaultInterval    = 5 * time.Second
	defaultTopFeatures = 10
	writeWait          = 5 * time.Second
)

// Dashboard pushes analytics snapshots to WebSocket clients whenever a new
// prediction arrives and on a fixed interval.
type Dashboard struct {
	aggregator  *analytics.Aggregator
	clientGauge metrics.MetricsGauge
	interval    time.Duration
	topFeatures int
	page        *template.Template

	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex

	notify      chan struct{}
	stopChannel chan struct{}
	done        chan struct{}
	isRunning   bool
	mu          sync.Mutex
}

// Option configures a Dashboard.
type Option func(*Dashboard)

// WithInterval sets the periodic push interval.
func WithInterval(d time.Duration) Option {
	return func(db *Dashboard) {
		if d > 0 {
			db.interval = d
		}
	}
}

// WithTopFeatures sets how many features the importance table shows.
func WithTopFeatures(n int) Option {
	return func(db *Dashboard) {
		if n > 0 {
			db.topFeatures = n
		}
	}
}

// WithClientGauge reports the number of connected clients.
func WithClientGauge(g metrics.MetricsGauge) Option {
	return func(db *Dashboard) { db.clientGauge = g }
}

// New creates a dashboard over aggregator.
func New(aggregator *analytics.Aggregator, opts ...Option) *Dashboard {
	db := &Dashboard{
		aggregator:  aggregator,
		interval:    defaultInterval,
		topFeatures: defaultTopFeatures,
		page:        template.Must(template.New("dashboard").Parse(pageTemplate)),
		upgrader:    websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:     make(map[*websocket.Conn]bool),
		notify:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Register mounts the dashboard routes on r.
func (db *Dashboard) Register(r *mux.Router) {
	r.HandleFunc("/dashboard", db.handleDashboard).Methods(http.MethodGet)
	r.HandleFunc("/api/dashboard", db.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/ws", db.handleWebSocket).Methods(http.MethodGet)
}

// Start launches the broadcaster. A stopped dashboard can be started again.
func (db *Dashboard) Start() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.isRunning {
		return fmt.Errorf("dashboard is already running")
	}

	db.stopChannel = make(chan struct{})
	db.done = make(chan struct{})
	go db.broadcaster(db.stopChannel, db.done)

	db.isRunning = true
	log.Info().Dur("interval", db.interval).Msg("Dashboard broadcaster started")
	return nil
}

// Stop halts the broadcaster and disconnects every client.
func (db *Dashboard) Stop() {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.isRunning {
		return
	}

	close(db.stopChannel)
	<-db.done

	db.clientsMu.Lock()
	for client := range db.clients {
		client.Close()
	}
	db.clients = make(map[*websocket.Conn]bool)
	db.clientsMu.Unlock()
	db.setGauge(0)

	db.isRunning = false
	log.Info().Msg("Dashboard stopped")
}

// Notify asks for a push at the next opportunity. It never blocks.
func (db *Dashboard) Notify() {
	select {
	case db.notify <- struct{}{}:
	default:
		// a push is already pending
	}
}

// Clients returns the number of connected WebSocket clients.
func (db *Dashboard) Clients() int {
	db.clientsMu.Lock()
	defer db.clientsMu.Unlock()
	return len(db.clients)
}

func (db *Dashboard) broadcaster(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(db.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			db.broadcast()
		case <-db.notify:
			db.broadcast()
		case <-stop:
			return
		}
	}
}

// broadcast sends the current snapshot to every client, dropping those that fail.
func (db *Dashboard) broadcast() {
	db.clientsMu.Lock()
	defer db.clientsMu.Unlock()

	if len(db.clients) == 0 {
		return
	}

	data, err := json.Marshal(db.aggregator.Snapshot(db.topFeatures))
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot for broadcast")
		return
	}

	for client := range db.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug().Err(err).Msg("Dropping WebSocket client")
			client.Close()
			delete(db.clients, client)
		}
	}
	db.setGauge(float64(len(db.clients)))
}

func (db *Dashboard) setGauge(v float64) {
	if db.clientGauge != nil {
		db.clientGauge.Set(v)
	}
}

func (db *Dashboard) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := db.page.Execute(w, struct{ Dimensions []string }{analytics.Dimensions()}); err != nil {
		log.Error().Err(err).Msg("Failed to render dashboard")
	}
}

func (db *Dashboard) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(db.aggregator.Snapshot(db.topFeatures)); err != nil {
		log.Error().Err(err).Msg("Failed to encode dashboard snapshot")
	}
}

func (db *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := db.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	data, err := json.Marshal(db.aggregator.Snapshot(db.topFeatures))
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal initial snapshot")
		return
	}

	// The initial write happens under the lock so it cannot interleave with a broadcast.
	db.clientsMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		db.clientsMu.Unlock()
		return
	}
	db.clients[conn] = true
	db.setGauge(float64(len(db.clients)))
	db.clientsMu.Unlock()

	// Keep connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	db.clientsMu.Lock()
	delete(db.clients, conn)
	db.setGauge(float64(len(db.clients)))
	db.clientsMu.Unlock()
}
