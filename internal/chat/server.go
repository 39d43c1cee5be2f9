// Package chat はログインユーザー向けのWebSocketチャットを提供する。
package chat

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/hitoshi/codeial/internal/middleware"
	"github.com/hitoshi/codeial/internal/model"
)

// maxRoomLength はルーム名の最大長。
const maxRoomLength = 64

// クライアントから受け取るメッセージ種別
const (
	TypeJoin    = "join"
	TypeMessage = "message"
)

// サーバーから配送するイベント種別
const (
	EventUserJoined = "user_joined"
	EventMessage    = "message"
	EventError      = "error"
)

// Inbound はクライアントから送られるメッセージ。
type Inbound struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Text string `json:"text,omitempty"`
}

// Event はルーム参加者に配送されるイベント。
type Event struct {
	Type     string    `json:"type"`
	Room     string    `json:"room,omitempty"`
	UserName string    `json:"user_name,omitempty"`
	Text     string    `json:"text,omitempty"`
	SentAt   time.Time `json:"sent_at"`
}

// Server はチャットのWebSocketエンドポイント。
// ハンドシェイク時点で伝播済みのユーザーを要求し、匿名の接続はアップグレード前に拒否する。
type Server struct {
	hub       *Hub
	sanitizer *Sanitizer
	logger    *slog.Logger
	now       func() time.Time
}

// NewServer はServerを生成する。
func NewServer(hub *Hub, sanitizer *Sanitizer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub:       hub,
		sanitizer: sanitizer,
		logger:    logger,
		now:       time.Now,
	}
}

// ServeHTTP はWebSocketハンドシェイクを処理する。
// GET /chat/ws
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		s.logger.Warn("chat handshake rejected: anonymous")
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewSignInRequiredError())
		return
	}

	ws := websocket.Server{
		Handshake: checkSameOrigin,
		Handler: func(conn *websocket.Conn) {
			s.serveConn(conn, user)
		},
	}
	ws.ServeHTTP(w, r)
}

// checkSameOrigin はOriginヘッダーがリクエスト先ホストと一致することを確認する。
func checkSameOrigin(cfg *websocket.Config, r *http.Request) error {
	origin, err := websocket.Origin(cfg, r)
	if err != nil {
		return err
	}
	if origin == nil || origin.Host != r.Host {
		return errors.New("cross-origin websocket handshake")
	}
	cfg.Origin = origin
	return nil
}

// serveConn は接続1件の読み取りループを実行する。
func (s *Server) serveConn(conn *websocket.Conn, user *model.User) {
	// ハイジャック前にhttp.Serverが設定した期限を解除する
	conn.SetDeadline(time.Time{})

	c := newClient(user.ID)
	done := make(chan struct{})
	go s.writeLoop(conn, c, done)

	defer func() {
		s.hub.leave(c)
		<-done
		conn.Close()
	}()

	s.logger.Info("chat connected", slog.String("user_id", user.ID))

	for {
		var in Inbound
		if err := websocket.JSON.Receive(conn, &in); err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("chat receive failed",
					slog.String("user_id", user.ID),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		s.handle(c, user, in)
	}
}

// handle は受信したメッセージを処理する。
func (s *Server) handle(c *client, user *model.User, in Inbound) {
	room := strings.TrimSpace(in.Room)
	if room == "" || len(room) > maxRoomLength {
		s.reply(c, Event{Type: EventError, Text: "invalid room"})
		return
	}

	switch in.Type {
	case TypeJoin:
		if s.hub.join(room, c) {
			s.hub.broadcast(room, Event{Type: EventUserJoined, Room: room, UserName: user.Name, SentAt: s.now()})
		}
	case TypeMessage:
		text, ok := s.sanitizer.Sanitize(in.Text)
		if !ok {
			s.reply(c, Event{Type: EventError, Room: room, Text: "empty message"})
			return
		}
		s.hub.join(room, c)
		s.hub.broadcast(room, Event{Type: EventMessage, Room: room, UserName: user.Name, Text: text, SentAt: s.now()})
	default:
		s.reply(c, Event{Type: EventError, Text: "unknown message type"})
	}
}

// reply は送信者本人にのみイベントを返す。
func (s *Server) reply(c *client, ev Event) {
	ev.SentAt = s.now()
	s.hub.deliver(c, ev)
}

// writeLoop は送信キューのイベントを接続へ書き出す。キューが閉じられると終了する。
func (s *Server) writeLoop(conn *websocket.Conn, c *client, done chan<- struct{}) {
	defer close(done)
	for ev := range c.send {
		if err := websocket.JSON.Send(conn, ev); err != nil {
			s.logger.Warn("chat send failed",
				slog.String("user_id", c.userID),
				slog.String("error", err.Error()),
			)
			// 読み取りループを終わらせる
			conn.Close()
			for range c.send {
			}
			return
		}
	}
}
