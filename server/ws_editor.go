package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"ReelForge/core/mediacache"
	"ReelForge/core/timeline"
	"ReelForge/logger"
	"ReelForge/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 32
)

// 推送消息类型
const (
	MsgTypeDocument = "document"
	MsgTypeMedia    = "media"
	MsgTypePlayhead = "playhead"
	MsgTypePing     = "ping"
	MsgTypePong     = "pong"
)

// WSMessage is one frame pushed to editor clients.
type WSMessage struct {
	Type      string            `json:"type"`
	Origin    timeline.Origin   `json:"origin,omitempty"`
	Command   string            `json:"command,omitempty"`
	Document  *model.Document   `json:"document,omitempty"`
	Playhead  *float64          `json:"playhead,omitempty"`
	Playing   *bool             `json:"playing,omitempty"`
	Media     *mediacache.Event `json:"media,omitempty"`
	Error     string            `json:"error,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans committed document changes and media events out to every
// connected editor. Slow clients are dropped rather than blocking the store.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
	log     *zap.Logger

	unsubStore func()
	unsubMedia func()
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// NewHub 订阅 store 与媒体缓存
func NewHub(store *timeline.Store, media *mediacache.Cache) *Hub {
	h := &Hub{clients: make(map[*wsClient]struct{}), log: logger.Named("ws")}
	h.unsubStore = store.Subscribe(h.onChange)
	if media != nil {
		h.unsubMedia = media.Subscribe(h.onMedia)
	}
	return h
}

// playheadOnly 只改变播放状态的命令，不推送整个文档
var playheadOnly = map[string]bool{
	timeline.AdvancePlayhead{}.Name(): true,
	timeline.SetPlayhead{}.Name():     true,
	timeline.SetPlaying{}.Name():      true,
}

func (h *Hub) onChange(c timeline.Change) {
	// 拖拽中间帧不推送，提交时会有一次完整推送
	if c.Transient {
		return
	}
	playhead := c.State.Playhead
	if playheadOnly[c.Command] {
		playing := c.State.IsPlaying
		h.broadcast(&WSMessage{
			Type:      MsgTypePlayhead,
			Origin:    c.Origin,
			Command:   c.Command,
			Playhead:  &playhead,
			Playing:   &playing,
			Timestamp: time.Now().UnixMilli(),
		})
		return
	}
	h.broadcast(&WSMessage{
		Type:      MsgTypeDocument,
		Origin:    c.Origin,
		Command:   c.Command,
		Document:  c.State.Document(),
		Playhead:  &playhead,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (h *Hub) onMedia(e mediacache.Event) {
	msg := &WSMessage{Type: MsgTypeMedia, Media: &e, Timestamp: time.Now().UnixMilli()}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}
	h.broadcast(msg)
}

func (h *Hub) broadcast(msg *WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn("编码推送消息失败", zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("客户端发送队列已满，断开连接")
			h.removeLocked(c)
		}
	}
}

func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.once.Do(func() { close(c.send) })
}

// Len 当前连接数
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close 取消订阅并断开所有连接
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
	h.mu.Unlock()

	h.unsubStore()
	if h.unsubMedia != nil {
		h.unsubMedia()
	}
}

// EditorSocketHandler upgrades the connection, sends the current document
// and then streams every committed change.
func (s *Server) EditorSocketHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(r); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.log.Warn("Failed to upgrade WebSocket", zap.Error(err))
		return
	}

	c := &wsClient{hub: s.hub, conn: conn, send: make(chan []byte, sendBuffer)}

	// 先放入初始文档再注册，保证客户端先看到完整状态
	st := s.store.State()
	playhead := st.Playhead
	initial, _ := json.Marshal(&WSMessage{
		Type:      MsgTypeDocument,
		Origin:    timeline.OriginRemote,
		Command:   "snapshot",
		Document:  st.Document(),
		Playhead:  &playhead,
		Timestamp: time.Now().UnixMilli(),
	})
	c.send <- initial

	if !s.hub.register(c) {
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// readPump 只处理心跳和关闭
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.log.Debug("invalid message format", zap.Error(err))
			continue
		}
		if msg.Type == MsgTypePing {
			pong, _ := json.Marshal(&WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()})
			c.hub.mu.Lock()
			if _, ok := c.hub.clients[c]; ok {
				select {
				case c.send <- pong:
				default:
				}
			}
			c.hub.mu.Unlock()
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了通道
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
