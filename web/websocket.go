package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"quantsim/backtest"
	"quantsim/logger"
	"quantsim/metrics"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamMessage 推送给客户端的消息
type StreamMessage struct {
	Type string      `json:"type"` // backtest, log
	Data interface{} `json:"data"`
}

// LogMessage 实时日志
type LogMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// StreamHub WebSocket 中心，向所有客户端广播回测事件和告警日志
type StreamHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	closeOnce  sync.Once
	mu         sync.RWMutex
}

// NewStreamHub 创建 WebSocket 中心
func NewStreamHub() *StreamHub {
	return &StreamHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run 运行 WebSocket 中心，Close 后退出
func (h *StreamHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.GetPrometheusMetrics().SetStreamClients(0)
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			n := len(h.clients)
			h.mu.Unlock()
			metrics.GetPrometheusMetrics().SetStreamClients(n)

		case conn := <-h.unregister:
			h.remove(conn)

		case message := <-h.broadcast:
			h.mu.RLock()
			var failed []*websocket.Conn
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range failed {
				h.remove(conn)
			}
		}
	}
}

func (h *StreamHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.GetPrometheusMetrics().SetStreamClients(n)
}

// Close 关闭所有连接并停止 Run
func (h *StreamHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ClientCount 当前客户端数量
func (h *StreamHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish 广播消息，队列满时丢弃
func (h *StreamHub) Publish(msgType string, data interface{}) {
	payload, err := json.Marshal(StreamMessage{Type: msgType, Data: data})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- payload:
	default:
	}
}

// Observer 把回测事件转发给所有客户端
func (h *StreamHub) Observer() backtest.Observer {
	return backtest.ObserverFunc(func(e backtest.Event) {
		h.Publish("backtest", e)
	})
}

// LogSink 返回日志订阅函数，只转发 minLevel 及以上的日志
func (h *StreamHub) LogSink(minLevel logger.LogLevel) func(level logger.LogLevel, message string) {
	return func(level logger.LogLevel, message string) {
		if level < minLevel {
			return
		}
		h.Publish("log", LogMessage{Timestamp: time.Now(), Level: level.String(), Message: message})
	}
}

func (h *StreamHub) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	// 保持连接，客户端断开后注销
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
			return
		}
	}
}
