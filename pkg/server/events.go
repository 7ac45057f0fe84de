package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventType represents the type of SSE event
type EventType string

const (
	EventConfigReloaded EventType = "config-reloaded"
	EventConfigError    EventType = "config-error"
)

// Event represents a server-sent event
type Event struct {
	Type EventType              `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventBroker fans events out to the connected SSE clients.
type EventBroker struct {
	clients      map[chan Event]struct{}
	clientsMutex sync.RWMutex
	logger       *slog.Logger
}

func NewEventBroker(logger *slog.Logger) *EventBroker {
	return &EventBroker{
		clients: make(map[chan Event]struct{}),
		logger:  logger,
	}
}

// Subscribe adds a new client to receive events
func (b *EventBroker) Subscribe() chan Event {
	b.clientsMutex.Lock()
	defer b.clientsMutex.Unlock()

	client := make(chan Event, 10)
	b.clients[client] = struct{}{}
	b.logger.Debug("client subscribed to events", "total_clients", len(b.clients))
	return client
}

// Unsubscribe removes a client from receiving events
func (b *EventBroker) Unsubscribe(client chan Event) {
	b.clientsMutex.Lock()
	defer b.clientsMutex.Unlock()

	delete(b.clients, client)
	close(client)
	b.logger.Debug("client unsubscribed from events", "total_clients", len(b.clients))
}

// Broadcast sends an event to all subscribed clients. A client whose buffer
// stays full for 100ms misses the event.
func (b *EventBroker) Broadcast(event Event) {
	b.clientsMutex.RLock()
	defer b.clientsMutex.RUnlock()

	b.logger.Debug("broadcasting event", "type", event.Type, "clients", len(b.clients))

	for client := range b.clients {
		select {
		case client <- event:
		case <-time.After(100 * time.Millisecond):
			b.logger.Warn("client not reading events, skipping")
		}
	}
}

// ClientCount returns the number of active clients
func (b *EventBroker) ClientCount() int {
	b.clientsMutex.RLock()
	defer b.clientsMutex.RUnlock()
	return len(b.clients)
}

// eventsHandler streams broker events as SSE until the client goes away.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported")
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	eventChan := s.eventBroker.Subscribe()
	defer s.eventBroker.Unsubscribe(eventChan)

	fmt.Fprintf(w, "event: connected\ndata: {\"message\":\"connected\"}\n\n")
	flusher.Flush()

	ctx := r.Context()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("client disconnected")
			return

		case event := <-eventChan:
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Error("failed to marshal event", "err", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// ConfigWatcher reloads the server configuration when its file changes.
// The parent directory is watched so that editors replacing the file by
// rename are seen too.
type ConfigWatcher struct {
	watcher      *fsnotify.Watcher
	server       *Server
	configPath   string
	logger       *slog.Logger
	reloadMutex  sync.Mutex
	lastReload   time.Time
	debounceTime time.Duration
}

func NewConfigWatcher(server *Server, configPath string, logger *slog.Logger) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	abs, err := filepath.Abs(configPath)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}

	return &ConfigWatcher{
		watcher:      watcher,
		server:       server,
		configPath:   abs,
		logger:       logger,
		debounceTime: 1 * time.Second,
	}, nil
}

// Start begins watching; events are handled until ctx is done or Stop.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	if err := cw.watcher.Add(filepath.Dir(cw.configPath)); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}

	cw.logger.Info("started watching config file", "path", cw.configPath)

	go cw.watch(ctx)
	return nil
}

func (cw *ConfigWatcher) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			cw.logger.Info("config watcher stopped")
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.configPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				cw.logger.Info("config file changed", "op", event.Op.String(), "path", event.Name)
				cw.handleConfigChange(ctx)
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Error("config watcher error", "err", err)
		}
	}
}

// handleConfigChange reloads the configuration and broadcasts the outcome.
// Changes within debounceTime of the last reload are ignored.
func (cw *ConfigWatcher) handleConfigChange(ctx context.Context) {
	cw.reloadMutex.Lock()
	defer cw.reloadMutex.Unlock()

	if time.Since(cw.lastReload) < cw.debounceTime {
		cw.logger.Debug("config change ignored (debounced)")
		return
	}
	defer func() { cw.lastReload = time.Now() }()

	cw.logger.Info("reloading configuration")

	if err := cw.server.ReloadConfig(ctx); err != nil {
		cw.logger.Error("failed to reload config", "err", err)
		cw.server.eventBroker.Broadcast(Event{
			Type: EventConfigError,
			Data: map[string]interface{}{
				"message": fmt.Sprintf("Failed to reload config: %v", err),
			},
		})
		return
	}

	cfg, _ := cw.server.snapshot()
	cw.logger.Info("configuration reloaded successfully")
	cw.server.eventBroker.Broadcast(Event{
		Type: EventConfigReloaded,
		Data: map[string]interface{}{
			"timestamp": time.Now().Unix(),
			"contexts":  cfg.ContextIDs(),
			"engines":   len(cfg.Engines),
		},
	})
}

// Stop stops watching the config file
func (cw *ConfigWatcher) Stop() error {
	cw.logger.Info("stopping config watcher")
	return cw.watcher.Close()
}
