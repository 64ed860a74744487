package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/draftforge/api/internal/model"
)

// Client represents a WebSocket client subscribed to one job.
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte
}

// Hub maintains active WebSocket connections grouped by job id and pushes
// pipeline progress to them. It satisfies the agent engine's Notifier.
type Hub struct {
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage

	mu sync.RWMutex
}

type broadcastMessage struct {
	JobID   string
	Message []byte
}

// Message types pushed over the socket.
const (
	messageTypeProgress = "progress"
	messageTypeComplete = "complete"
	messageTypeError    = "error"
)

type progressMessage struct {
	Type        string          `json:"type"`
	JobID       string          `json:"jobId"`
	Progress    int             `json:"progress"`
	Status      model.JobStatus `json:"status"`
	CurrentStep string          `json:"currentStep,omitempty"`
}

type completeMessage struct {
	Type        string          `json:"type"`
	JobID       string          `json:"jobId"`
	Status      model.JobStatus `json:"status"`
	ArtifactURL string          `json:"artifactUrl,omitempty"`
}

type errorMessage struct {
	Type    string `json:"type"`
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.JobID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.JobID)
					}
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.clients[msg.JobID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.Message:
					default:
						close(client.Send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// JobProgress pushes a progress update to all job subscribers.
func (h *Hub) JobProgress(jobID string, progress int, status model.JobStatus, step string) {
	h.send(jobID, progressMessage{
		Type:        messageTypeProgress,
		JobID:       jobID,
		Progress:    progress,
		Status:      status,
		CurrentStep: step,
	})
}

// JobCompleted pushes a completion message to all job subscribers.
func (h *Hub) JobCompleted(jobID string, job *model.Job) {
	h.send(jobID, completeMessage{
		Type:        messageTypeComplete,
		JobID:       jobID,
		Status:      job.Status,
		ArtifactURL: job.ArtifactURL,
	})
}

// JobFailed pushes a failure message to all job subscribers.
func (h *Hub) JobFailed(jobID string, message string) {
	h.send(jobID, errorMessage{
		Type:    messageTypeError,
		JobID:   jobID,
		Message: message,
	})
}

func (h *Hub) send(jobID string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal ws message: %v", err)
		return
	}
	h.broadcast <- &broadcastMessage{
		JobID:   jobID,
		Message: data,
	}
}

// HandleConnection handles a WebSocket connection for one job id.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string) {
	client := &Client{
		JobID: jobID,
		Conn:  c,
		Send:  make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	done := make(chan struct{})

	// Writer goroutine with keep-alive pings
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}

			case <-done:
				return
			}
		}
	}()

	// Reader loop: we only care about disconnects
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
	close(done)
}
