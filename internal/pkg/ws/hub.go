package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qs3c/ledger_go_server/internal/pkg/pubsub"
)

// 单次写入的超时，慢连接不能拖住整个推送
const writeWait = 5 * time.Second

// Hub 按用户维护 websocket 连接，把账户事件推给该用户的所有连接
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

type Client struct {
	UserID string
	Conn   *websocket.Conn
	mu     sync.Mutex // gorilla 连接不支持并发写
}

// Message 推送给前端的消息
type Message struct {
	Type string               `json:"type"`
	Data *pubsub.AccountEvent `json:"data"`
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (c *Client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.UserID] == nil {
		h.clients[client.UserID] = make(map[*Client]struct{})
	}
	h.clients[client.UserID][client] = struct{}{}
	log.Printf("Account events: user %s subscribed, conns=%d", client.UserID, len(h.clients[client.UserID]))
}

// Unregister 可重复调用
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.clients[client.UserID]
	if !ok {
		return
	}
	if _, ok := conns[client]; !ok {
		return
	}
	delete(conns, client)
	if len(conns) == 0 {
		delete(h.clients, client.UserID)
	}
	log.Printf("Account events: user %s unsubscribed", client.UserID)
}

// Deliver 推送一条账户事件，返回成功写入的连接数；写失败的连接会被关闭并移除
func (h *Hub) Deliver(event *pubsub.AccountEvent) (int, error) {
	data, err := json.Marshal(&Message{Type: event.Type, Data: event})
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients[event.UserID]))
	for c := range h.clients[event.UserID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range clients {
		if err := c.write(data); err != nil {
			log.Printf("Account events: dropping connection of user %s: %v", event.UserID, err)
			h.Unregister(c)
			c.Conn.Close()
			continue
		}
		delivered++
	}
	return delivered, nil
}

// HandleAccountEvent Redis 订阅回调，转发给对应用户
func (h *Hub) HandleAccountEvent(event *pubsub.AccountEvent) {
	if event == nil || event.UserID == "" {
		return
	}

	if _, err := h.Deliver(event); err != nil {
		log.Printf("Failed to forward %s event to user %s: %v", event.Type, event.UserID, err)
	}
}

// IsOnline 用户是否有活跃连接
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// ConnectionCount 所有用户的连接总数
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.clients {
		total += len(conns)
	}
	return total
}
