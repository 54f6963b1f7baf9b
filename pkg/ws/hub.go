package ws

import (
	"encoding/json"
	"sync"
	"time"

	"Nexus/pkg/zlog"

	"github.com/gorilla/websocket"
)

// Hub 按任务 id 维护订阅连接，摄取进度按 task_id 推送。
// 同一任务允许多个订阅端（手机 + 网页同时盯着一个上传）。
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(c *Client) {
	if c == nil || c.taskID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.taskID]
	if set == nil {
		set = make(map[*Client]struct{})
		h.clients[c.taskID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) Unregister(c *Client) {
	if c == nil || c.taskID == "" {
		return
	}
	h.mu.Lock()
	set := h.clients[c.taskID]
	if set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.taskID)
		}
	}
	h.mu.Unlock()
	c.Close()
}

// Publish 向任务的所有订阅端推送。发送缓冲满视为慢客户端，直接踢掉。
func (h *Hub) Publish(taskID string, payload []byte) bool {
	if taskID == "" || len(payload) == 0 {
		return false
	}

	h.mu.RLock()
	set := h.clients[taskID]
	h.mu.RUnlock()
	if len(set) == 0 {
		return false
	}

	ok := false
	for c := range set {
		if c == nil {
			continue
		}
		select {
		case c.send <- payload:
			ok = true
		default:
			h.Unregister(c)
		}
	}
	return ok
}

func (h *Hub) PublishJSON(taskID string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Publish(taskID, b)
	return nil
}

// CloseTask 任务进入终态后断开所有订阅端
func (h *Hub) CloseTask(taskID string) {
	if taskID == "" {
		return
	}
	h.mu.Lock()
	set := h.clients[taskID]
	delete(h.clients, taskID)
	h.mu.Unlock()
	for c := range set {
		c.Close()
	}
}

// SubscriberCount 任务当前的订阅端数量（测试与观测用）
func (h *Hub) SubscriberCount(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[taskID])
}

type Client struct {
	taskID string
	conn   *websocket.Conn
	send   chan []byte

	closeOnce sync.Once
}

func NewClient(taskID string, conn *websocket.Conn) *Client {
	return &Client{
		taskID: taskID,
		conn:   conn,
		send:   make(chan []byte, 64),
	}
}

func (c *Client) TaskID() string { return c.taskID }

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *Client) WritePump() {
	if c.conn == nil {
		return
	}
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			zlog.Error(err.Error())
			return
		}
	}
}
