// Package websocket 通过 WebSocket 向外部订阅方推送链尖变化
//
// Hub 作为 notification_sinks 组的一员，在共识管理器的独占区内被同步调用，
// 因此投递必须是非阻塞的：每个连接有独立的发送缓冲，缓冲写满的连接被直接断开，
// 订阅方可按 seq 判断是否有遗漏并通过 HTTP 接口补齐。
package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
	metricsiface "github.com/weisyn/permnode/pkg/interfaces/infrastructure/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxInboundSize = 512
)

// Options Hub 参数
type Options struct {
	MaxClients int // 同时在线的订阅连接上限
	SendBuffer int // 每个连接的待发送消息数上限
}

// Hub 订阅连接集合
type Hub struct {
	logger   log.Logger
	opts     Options
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewHub 创建推送中心
func NewHub(opts Options, logger log.Logger) *Hub {
	if opts.MaxClients <= 0 {
		opts.MaxClients = 64
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	return &Hub{
		logger: logger,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 仅监听本地地址，来源检查交给前置代理
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// client 单个订阅连接
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	topics map[Topic]bool // 为空表示订阅全部主题
	once   sync.Once
}

func (c *client) wants(t Topic) bool {
	return len(c.topics) == 0 || c.topics[t]
}

// stop 关闭发送通道，写协程随后关闭连接
func (c *client) stop() {
	c.once.Do(func() { close(c.send) })
}

// Handle 升级连接并开始推送
//
// 查询参数 topics 为逗号分隔的主题列表，例如 ?topics=block_connected,block_disconnected。
func (h *Hub) Handle(c *gin.Context) {
	topics, err := parseTopics(c.Query("topics"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.ClientCount() >= h.opts.MaxClients {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many stream clients"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnf("WebSocket 升级失败: remote=%s err=%v", c.ClientIP(), err)
		return
	}
	cl := &client{conn: conn, send: make(chan []byte, h.opts.SendBuffer), topics: topics}
	if !h.register(cl) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	h.logger.Infof("📡 订阅连接建立: remote=%s topics=%d", conn.RemoteAddr(), len(topics))

	go h.writeLoop(cl)
	h.readLoop(cl)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.stop()
}

// readLoop 只处理控制帧；对端关闭或心跳超时后注销连接
func (h *Hub) readLoop(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugf("订阅连接异常关闭: remote=%s err=%v", c.conn.RemoteAddr(), err)
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// broadcast 从不阻塞；发送缓冲已满的连接被断开
func (h *Hub) broadcast(msg Message) {
	msg.Seq = h.seq.Add(1)
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorf("序列化推送消息失败: %v", err)
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(msg.Topic) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.dropped.Add(1)
		h.logger.Warnf("订阅方消费过慢，断开连接: seq=%d", msg.Seq)
		h.unregister(c)
	}
}

// ClientCount 当前在线的订阅连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped 因消费过慢被断开的连接累计数
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Close 断开全部连接并拒绝新连接
//
// http.Server.Shutdown 不会关闭已升级的连接，需要在其之前调用。
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.stop()
	}
}

func (h *Hub) ModuleName() string { return "api.websocket" }

func (h *Hub) CollectMemoryStats() metricsiface.ModuleMemoryStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var queued int64
	for c := range h.clients {
		queued += int64(len(c.send))
	}
	return metricsiface.ModuleMemoryStats{
		Module:      h.ModuleName(),
		Objects:     int64(len(h.clients)),
		ApproxBytes: int64(len(h.clients)) * int64(h.upgrader.ReadBufferSize+h.upgrader.WriteBufferSize),
		QueueLength: queued,
	}
}

func parseTopics(raw string) (map[Topic]bool, error) {
	if raw == "" {
		return nil, nil
	}
	topics := make(map[Topic]bool)
	for _, part := range strings.Split(raw, ",") {
		t := Topic(strings.TrimSpace(part))
		if !t.valid() {
			return nil, &unknownTopicError{topic: string(t)}
		}
		topics[t] = true
	}
	return topics, nil
}

type unknownTopicError struct{ topic string }

func (e *unknownTopicError) Error() string { return "unknown topic " + e.topic }
