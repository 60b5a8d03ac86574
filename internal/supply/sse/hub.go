package sse

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// EventWorkflowUpdate 审批/发运/签收变更事件
const EventWorkflowUpdate = "workflow_update"

// Event represents a Server-Sent Event
type Event struct {
	EventType string `json:"event"`
	Data      string `json:"data"`
}

// Client represents a connected SSE client
type Client struct {
	ID           string
	UserID       string
	DepartmentID string
	Events       chan Event
}

// Hub manages all SSE client connections
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

// NewHub creates a new SSE Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger.Named("sse"),
	}
}

// Register adds a new client to the hub
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.logger.Debug("client registered",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID),
		zap.Int("total", len(h.clients)))
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		close(client.Events)
		delete(h.clients, clientID)
		h.logger.Debug("client unregistered", zap.String("client_id", clientID), zap.Int("total", len(h.clients)))
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to all connected clients
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		h.send(client, event)
	}
}

// SendToDepartment 只推送给某部门的连接
func (h *Hub) SendToDepartment(departmentID string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.DepartmentID == departmentID {
			h.send(client, event)
		}
	}
}

func (h *Hub) send(client *Client, event Event) {
	select {
	case client.Events <- event:
	default:
		h.logger.Warn("client buffer full, skipping event", zap.String("client_id", client.ID))
	}
}

// WorkflowUpdate 事件数据
type WorkflowUpdate struct {
	Entity       string `json:"entity"` // request/approval/dispatch/delivery
	ID           string `json:"id"`
	RequestID    string `json:"request_id,omitempty"`
	DepartmentID string `json:"department_id,omitempty"`
	Action       string `json:"action"`
}

// PublishWorkflowUpdate broadcasts a workflow change. Dashboards refetch the
// affected lists on receipt.
func (h *Hub) PublishWorkflowUpdate(u WorkflowUpdate) {
	if h == nil {
		return
	}
	data, err := json.Marshal(u)
	if err != nil {
		h.logger.Error("encode workflow update", zap.Error(err))
		return
	}
	h.Broadcast(Event{EventType: EventWorkflowUpdate, Data: string(data)})
	h.logger.Debug("published workflow_update",
		zap.String("entity", u.Entity),
		zap.String("id", u.ID),
		zap.String("action", u.Action))
}
