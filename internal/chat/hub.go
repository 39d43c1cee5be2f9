package chat

import "sync"

// sendBuffer はクライアントごとの送信キューの長さ。
const sendBuffer = 16

// client はルームに参加しているWebSocket接続1件。
// rooms と closed は Hub.mu で保護する。
type client struct {
	userID string
	send   chan Event
	rooms  map[string]struct{}
	closed bool
}

func newClient(userID string) *client {
	return &client{
		userID: userID,
		send:   make(chan Event, sendBuffer),
		rooms:  make(map[string]struct{}),
	}
}

// Hub はチャットルームとその参加者を管理する。
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*client]struct{}
}

// NewHub はHubを生成する。
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*client]struct{})}
}

// join はクライアントをルームに追加する。既に参加済みの場合はfalseを返す。
func (h *Hub) join(room string, c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*client]struct{})
		h.rooms[room] = members
	}
	if _, joined := members[c]; joined {
		return false
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
	return true
}

// leave はクライアントを全ルームから外し、送信キューを閉じる。
func (h *Hub) leave(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	for room := range c.rooms {
		members := h.rooms[room]
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	c.rooms = map[string]struct{}{}
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// broadcast はルームの全参加者にイベントを配送する。
// 送信キューが詰まっているクライアントは切断する。
func (h *Hub) broadcast(room string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[room] {
		select {
		case c.send <- ev:
		default:
			h.removeLocked(c)
		}
	}
}

// deliver は送信者本人にのみイベントを配送する。キューが詰まっている場合は捨てる。
func (h *Hub) deliver(c *client, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- ev:
	default:
	}
}

// RoomSize はルームの参加者数を返す。
func (h *Hub) RoomSize(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}
