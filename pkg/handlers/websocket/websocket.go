// Package websocket streams stored log records to subscribed clients
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/labring/testreport/pkg/handlers/common"
	"github.com/labring/testreport/pkg/store"
	"github.com/labring/testreport/pkg/utils"
)

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	upgrader      websocket.Upgrader
	clients       map[*websocket.Conn]*ClientInfo
	subscriptions map[string]*SubscriptionInfo // key: "clientID:type:targetID"
	mutex         sync.RWMutex
	store         *store.Store
	config        *WebSocketConfig
	ctx           context.Context
	cancel        context.CancelFunc
}

// ClientInfo holds client connection information
type ClientInfo struct {
	ID            string
	Connected     time.Time
	Timeout       time.Duration
	Subscriptions []string // list of subscription IDs

	conn       *websocket.Conn
	writeMu    sync.Mutex
	lastActive atomic.Int64
	done       chan struct{}
}

func (c *ClientInfo) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns when the client last sent a message or pong
func (c *ClientInfo) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// SubscriptionInfo holds subscription information
type SubscriptionInfo struct {
	ID        string
	Type      string // "item" or "launch"
	TargetID  string
	Client    *ClientInfo
	Levels    map[string]bool
	CreatedAt time.Time
	Active    bool

	// after is the last sequence already delivered as history
	after int64
}

func (s *SubscriptionInfo) matches(record *store.LogRecord) bool {
	if !s.Active || record.Sequence <= s.after {
		return false
	}
	switch s.Type {
	case common.TargetItem:
		if record.ItemID != s.TargetID {
			return false
		}
	case common.TargetLaunch:
		if record.LaunchID != s.TargetID {
			return false
		}
	default:
		return false
	}
	return len(s.Levels) == 0 || s.Levels[string(record.Level)]
}

// NewWebSocketHandler creates a handler streaming every record s stores
func NewWebSocketHandler(s *store.Store, config *WebSocketConfig) *WebSocketHandler {
	ctx, cancel := context.WithCancel(context.Background())

	if config == nil {
		config = NewDefaultWebSocketConfig()
	}

	ws := &WebSocketHandler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:       make(map[*websocket.Conn]*ClientInfo),
		subscriptions: make(map[string]*SubscriptionInfo),
		store:         s,
		config:        config,
		ctx:           ctx,
		cancel:        cancel,
	}

	s.OnLog(ws.BroadcastLogRecord)

	go ws.startConnectionHealthChecker()

	return ws
}

// Close disconnects every client and stops background tasks
func (h *WebSocketHandler) Close() {
	h.cancel()

	h.mutex.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mutex.Unlock()

	for _, conn := range conns {
		h.cleanupClientConnection(conn)
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := &ClientInfo{
		ID:            utils.NewNanoID(),
		Connected:     time.Now(),
		Timeout:       h.config.ReadTimeout,
		Subscriptions: []string{},
		conn:          conn,
		done:          make(chan struct{}),
	}
	client.touch()

	h.mutex.Lock()
	h.clients[conn] = client
	h.mutex.Unlock()

	slog.Debug("stream client connected", slog.String("client", client.ID), slog.String("remote", r.RemoteAddr))

	go h.handleClient(client)
}

// handleClient manages a client connection
func (h *WebSocketHandler) handleClient(client *ClientInfo) {
	conn := client.conn
	defer h.cleanupClientConnection(conn)

	conn.SetReadLimit(h.config.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(client.Timeout))
	conn.SetPongHandler(func(string) error {
		client.touch()
		return conn.SetReadDeadline(time.Now().Add(client.Timeout))
	})

	go h.startPingLoop(client)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", slog.String("error", err.Error()))
			}
			return
		}
		client.touch()
		_ = conn.SetReadDeadline(time.Now().Add(client.Timeout))

		var req common.SubscriptionRequest
		if err := json.Unmarshal(message, &req); err != nil {
			h.sendError(client, "Invalid request format", "INVALID_FORMAT")
			continue
		}

		switch req.Action {
		case "subscribe":
			if err := h.handleSubscribe(client, &req); err != nil {
				h.sendError(client, err.Error(), "SUBSCRIBE_FAILED")
			}
		case "unsubscribe":
			if err := h.handleUnsubscribe(client, &req); err != nil {
				h.sendError(client, err.Error(), "UNSUBSCRIBE_FAILED")
			}
		case "list":
			if err := h.handleList(client); err != nil {
				h.sendError(client, err.Error(), "LIST_FAILED")
			}
		default:
			h.sendError(client, "Unknown action", "UNKNOWN_ACTION")
		}
	}
}

func (h *WebSocketHandler) checkTarget(req *common.SubscriptionRequest) error {
	if req.Type == "" || req.TargetID == "" {
		return fmt.Errorf("type and targetId are required")
	}
	switch req.Type {
	case common.TargetItem:
		_, err := h.store.Item(req.TargetID)
		return err
	case common.TargetLaunch:
		_, err := h.store.LaunchDetails(req.TargetID)
		return err
	default:
		return fmt.Errorf("unsupported type '%s'", req.Type)
	}
}

func (h *WebSocketHandler) history(targetType, targetID string, tail int) []*store.LogRecord {
	if targetType == common.TargetLaunch {
		return h.store.LaunchLogs(targetID, tail)
	}
	return h.store.ItemLogs(targetID, tail)
}

// handleSubscribe registers a subscription and replays up to Tail stored records.
// The client's writer is held until the replay is written so live records follow it.
func (h *WebSocketHandler) handleSubscribe(client *ClientInfo, req *common.SubscriptionRequest) error {
	if err := h.checkTarget(req); err != nil {
		return err
	}

	tail := min(max(req.Options.Tail, 0), h.config.MaxTail)
	subscriptionID := fmt.Sprintf("%s:%s:%s", client.ID, req.Type, req.TargetID)

	levels := make(map[string]bool, len(req.Options.Levels))
	for _, level := range req.Options.Levels {
		levels[level] = true
	}

	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	h.mutex.Lock()
	if _, exists := h.subscriptions[subscriptionID]; exists {
		h.mutex.Unlock()
		return fmt.Errorf("subscription already exists")
	}

	// the newest record marks where live delivery starts even when no history is wanted
	records := h.history(req.Type, req.TargetID, max(tail, 1))
	subscription := &SubscriptionInfo{
		ID:        subscriptionID,
		Type:      req.Type,
		TargetID:  req.TargetID,
		Client:    client,
		Levels:    levels,
		CreatedAt: time.Now(),
		Active:    true,
	}
	if len(records) > 0 {
		subscription.after = records[len(records)-1].Sequence
	}
	h.subscriptions[subscriptionID] = subscription
	client.Subscriptions = append(client.Subscriptions, subscriptionID)
	h.mutex.Unlock()

	if tail == 0 {
		records = nil
	}

	response := common.SubscriptionResult{
		Action:    "subscribed",
		Type:      req.Type,
		TargetID:  req.TargetID,
		Levels:    levels,
		Timestamp: time.Now().Unix(),
		Extra:     map[string]any{"history": len(records)},
	}
	if err := h.writeJSON(client, response); err != nil {
		return err
	}

	for _, record := range records {
		if len(levels) > 0 && !levels[string(record.Level)] {
			continue
		}
		message := common.LogMessage{
			Type:      "log",
			DataType:  req.Type,
			TargetID:  req.TargetID,
			Log:       record,
			IsHistory: true,
		}
		if err := h.writeJSON(client, message); err != nil {
			slog.Error("Failed to send historical log", slog.String("error", err.Error()))
			return nil
		}
	}
	return nil
}

// handleUnsubscribe handles unsubscription requests
func (h *WebSocketHandler) handleUnsubscribe(client *ClientInfo, req *common.SubscriptionRequest) error {
	if req.Type == "" || req.TargetID == "" {
		return fmt.Errorf("type and targetId are required")
	}

	subscriptionID := fmt.Sprintf("%s:%s:%s", client.ID, req.Type, req.TargetID)

	h.mutex.Lock()
	subscription, exists := h.subscriptions[subscriptionID]
	if !exists {
		h.mutex.Unlock()
		return fmt.Errorf("subscription not found")
	}

	delete(h.subscriptions, subscriptionID)
	subscription.Active = false

	for i, subID := range client.Subscriptions {
		if subID == subscriptionID {
			client.Subscriptions = append(client.Subscriptions[:i], client.Subscriptions[i+1:]...)
			break
		}
	}
	h.mutex.Unlock()

	return h.sendJSON(client, common.SubscriptionResult{
		Action:    "unsubscribed",
		Type:      req.Type,
		TargetID:  req.TargetID,
		Timestamp: time.Now().Unix(),
	})
}

// handleList handles list requests
func (h *WebSocketHandler) handleList(client *ClientInfo) error {
	h.mutex.RLock()
	subscriptions := make([]map[string]any, 0, len(client.Subscriptions))
	for _, subID := range client.Subscriptions {
		sub, exists := h.subscriptions[subID]
		if !exists {
			continue
		}
		levels := make([]string, 0, len(sub.Levels))
		for lvl := range sub.Levels {
			levels = append(levels, lvl)
		}
		subscriptions = append(subscriptions, map[string]any{
			"id":        sub.ID,
			"type":      sub.Type,
			"targetId":  sub.TargetID,
			"logLevels": levels,
			"createdAt": sub.CreatedAt.Unix(),
			"active":    sub.Active,
		})
	}
	h.mutex.RUnlock()

	return h.sendJSON(client, map[string]any{
		"type":          "list",
		"subscriptions": subscriptions,
	})
}

// BroadcastLogRecord sends a stored record to every matching subscription
func (h *WebSocketHandler) BroadcastLogRecord(record *store.LogRecord) {
	type delivery struct {
		client  *ClientInfo
		message common.LogMessage
	}

	h.mutex.RLock()
	var deliveries []delivery
	for _, subscription := range h.subscriptions {
		if !subscription.matches(record) {
			continue
		}
		deliveries = append(deliveries, delivery{
			client: subscription.Client,
			message: common.LogMessage{
				Type:     "log",
				DataType: subscription.Type,
				TargetID: subscription.TargetID,
				Log:      record,
			},
		})
	}
	h.mutex.RUnlock()

	for _, d := range deliveries {
		if err := h.sendJSON(d.client, d.message); err != nil {
			slog.Error("Failed to send log message", slog.String("error", err.Error()), slog.String("client", d.client.ID))
		}
	}
}

// cleanupClientConnection cleans up a client connection
func (h *WebSocketHandler) cleanupClientConnection(conn *websocket.Conn) {
	h.mutex.Lock()
	client, exists := h.clients[conn]
	if !exists {
		h.mutex.Unlock()
		return
	}

	for _, subID := range client.Subscriptions {
		if sub, exists := h.subscriptions[subID]; exists {
			sub.Active = false
			delete(h.subscriptions, subID)
		}
	}
	delete(h.clients, conn)
	h.mutex.Unlock()

	close(client.done)
	_ = conn.Close()
	slog.Debug("stream client disconnected", slog.String("client", client.ID))
}

// startPingLoop starts a ping loop for a client connection
func (h *WebSocketHandler) startPingLoop(client *ClientInfo) {
	ticker := time.NewTicker(h.config.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(h.config.WriteWait)); err != nil {
				return
			}
		case <-client.done:
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// startConnectionHealthChecker starts a background task to check connection health
func (h *WebSocketHandler) startConnectionHealthChecker() {
	ticker := time.NewTicker(h.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.checkConnectionHealth()
		case <-h.ctx.Done():
			return
		}
	}
}

// checkConnectionHealth closes connections idle for longer than their timeout
func (h *WebSocketHandler) checkConnectionHealth() {
	h.mutex.RLock()
	var stale []*websocket.Conn
	now := time.Now()
	for conn, client := range h.clients {
		if now.Sub(client.LastActive()) > client.Timeout {
			slog.Info("Connection timeout, closing", slog.String("client", client.ID))
			stale = append(stale, conn)
		}
	}
	h.mutex.RUnlock()

	for _, conn := range stale {
		h.cleanupClientConnection(conn)
	}
}

// sendError sends an error message over WebSocket
func (h *WebSocketHandler) sendError(client *ClientInfo, message string, code string) {
	errorMsg := common.ErrorResponse{
		Error:     message,
		Code:      code,
		Timestamp: time.Now().Unix(),
	}
	if err := h.sendJSON(client, errorMsg); err != nil {
		slog.Debug("Failed to send stream error", slog.String("error", err.Error()))
	}
}

// sendJSON serializes writes to one client
func (h *WebSocketHandler) sendJSON(client *ClientInfo, v any) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	return h.writeJSON(client, v)
}

// writeJSON requires client.writeMu
func (h *WebSocketHandler) writeJSON(client *ClientInfo, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = client.conn.SetWriteDeadline(time.Now().Add(h.config.WriteWait))
	return client.conn.WriteMessage(websocket.TextMessage, data)
}
