// Package ws relays chat replies over a WebSocket connection.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/mood-coach/backend/internal/errs"
	"github.com/zhouzirui/mood-coach/backend/internal/model/chat"
	"github.com/zhouzirui/mood-coach/backend/internal/service/relay"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Outbound frame types.
const (
	TypeContent = "content"
	TypeDone    = "done"
	TypeError   = "error"
)

// Handler WebSocket聊天处理器
type Handler struct {
	relay    *relay.Relay
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(r *relay.Relay) *Handler {
	return &Handler{
		relay: r,
		upgrader: websocket.Upgrader{
			// Origin policy is enforced by the CORS middleware on the router.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

// Inbound 客户端发送的聊天消息
type Inbound struct {
	Content        string              `json:"content"`
	Mood           string              `json:"mood"`
	ConversationID chat.ConversationID `json:"conversationId,omitempty"`
}

// frame is one read from the socket; err is set when the payload could not be decoded.
type frame struct {
	msg Inbound
	err error
}

// Outbound 服务端推送的帧
type Outbound struct {
	Type           string `json:"type"`
	Content        string `json:"content"`
	ConversationID string `json:"conversationId"`
	Code           string `json:"code,omitempty"`
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimSpace(r.URL.Query().Get("conversationId"))
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[ws] new connection for conversation: %s", conversationID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go pingLoop(ctx, conn)

	// Messages are answered one at a time by a single writer while the read loop keeps
	// serving pongs.
	inbox := make(chan frame, 8)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.serve(ctx, conn, conversationID, inbox)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read error: %v", err)
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[ws] conversation=%s invalid message: %v", conversationID, err)
			inbox <- frame{err: err}
			continue
		}
		inbox <- frame{msg: msg}
	}

	cancel()
	close(inbox)
	wg.Wait()
	log.Printf("[ws] connection closed for conversation: %s", conversationID)
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, defaultID string, inbox <-chan frame) {
	for in := range inbox {
		if ctx.Err() != nil {
			continue
		}
		if in.err != nil {
			sink := &wsSink{conn: conn, conversationID: defaultID}
			sink.Fail(errs.Validation("invalid message", nil))
			continue
		}

		msg := in.msg
		id := strings.TrimSpace(msg.ConversationID.String())
		if id == "" {
			id = defaultID
		}

		sink := &wsSink{conn: conn, conversationID: id}
		err := h.relay.Stream(ctx, relay.StreamRequest{
			ConversationID: id,
			Content:        msg.Content,
			Mood:           msg.Mood,
			Transport:      relay.TransportWebSocket,
		}, sink)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[ws] conversation=%s exchange failed: %v", id, err)
		}
	}
}

// wsSink forwards relay output as JSON frames. Only the serve goroutine writes data
// frames, so no extra locking is needed.
type wsSink struct {
	conn           *websocket.Conn
	conversationID string
}

func (s *wsSink) Delta(content string) error {
	return send(s.conn, Outbound{Type: TypeContent, Content: content, ConversationID: s.conversationID})
}

func (s *wsSink) Done(full string) error {
	return send(s.conn, Outbound{Type: TypeDone, Content: full, ConversationID: s.conversationID})
}

func (s *wsSink) Fail(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	out := Outbound{
		Type:           TypeError,
		Content:        errs.Message(err),
		ConversationID: s.conversationID,
		Code:           string(errs.KindOf(err)),
	}
	if sendErr := send(s.conn, out); sendErr != nil {
		log.Printf("[ws] write error failed: %v", sendErr)
	}
}

func send(conn *websocket.Conn, msg Outbound) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
