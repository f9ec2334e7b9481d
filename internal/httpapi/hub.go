package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/duisenbekovayan/order_live/internal/bridge"
	xlog "github.com/duisenbekovayan/order_live/internal/log"
	"github.com/duisenbekovayan/order_live/internal/models"
)

var ErrUnknownClient = errors.New("unknown client")

// DefaultMaxNotifications bounds the shown system notifications. The oldest is closed
// when a new tag would exceed it.
const DefaultMaxNotifications = 64

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Command is a hub -> client frame.
type Command struct {
	Type         string                      `json:"type"`
	Notification *models.NotificationPayload `json:"notification,omitempty"`
	Tag          string                      `json:"tag,omitempty"`
	URL          string                      `json:"url,omitempty"`
	ClientID     string                      `json:"clientId,omitempty"`
}

// Hub commands.
const (
	CommandHello             = "hello"
	CommandShowNotification  = "show_notification"
	CommandCloseNotification = "close_notification"
	CommandFocus             = "focus"
	CommandNavigate          = "navigate"
	CommandOpenWindow        = "open_window"
)

// clientFrame is a client -> hub frame.
type clientFrame struct {
	Type    string          `json:"type"` // "location", "focus", "message"
	URL     string          `json:"url,omitempty"`
	Focused bool            `json:"focused,omitempty"`
	Message *bridge.Message `json:"message,omitempty"`
}

type hubClient struct {
	id   string
	conn *websocket.Conn
	send chan Command

	mu      sync.Mutex
	url     string
	focused bool
	closed  bool
}

func (c *hubClient) snapshot() bridge.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bridge.Client{ID: c.id, URL: c.url, Focused: c.focused}
}

// Hub relays the agent's host operations to foreground clients connected over websocket.
// System notifications are kept per tag, so a new payload with the same tag replaces the
// shown one.
type Hub struct {
	logger zerolog.Logger
	// onMessage receives foreground messages sent over the socket.
	onMessage func(context.Context, bridge.Message) error
	// onEmpty runs when the last client disconnects.
	onEmpty func(context.Context) error

	mu            sync.Mutex
	clients       map[string]*hubClient
	notifications map[string]models.NotificationPayload
	order         []string // tags, oldest first
	maxShown      int
	wg            sync.WaitGroup
}

var _ bridge.Host = (*Hub)(nil)

func NewHub(logger *zerolog.Logger) *Hub {
	l := xlog.WithComponent("hub")
	if logger != nil {
		l = *logger
	}
	return &Hub{
		logger:        l,
		clients:       make(map[string]*hubClient),
		notifications: make(map[string]models.NotificationPayload),
		maxShown:      DefaultMaxNotifications,
	}
}

// Bind wires the hub to the agent registration.
func (h *Hub) Bind(onMessage func(context.Context, bridge.Message) error, onEmpty func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = onMessage
	h.onEmpty = onEmpty
}

func (h *Hub) ShowNotification(_ context.Context, p models.NotificationPayload) error {
	h.mu.Lock()
	if _, ok := h.notifications[p.Tag]; ok {
		h.dropTagLocked(p.Tag)
	}
	h.notifications[p.Tag] = p
	h.order = append(h.order, p.Tag)
	var evicted []string
	for len(h.order) > h.maxShown {
		oldest := h.order[0]
		h.order = h.order[1:]
		delete(h.notifications, oldest)
		evicted = append(evicted, oldest)
	}
	h.mu.Unlock()

	for _, tag := range evicted {
		h.logger.Debug().Str(xlog.FieldTag, tag).Msg("notification evicted")
		h.broadcast(Command{Type: CommandCloseNotification, Tag: tag})
	}
	h.broadcast(Command{Type: CommandShowNotification, Notification: &p, Tag: p.Tag})
	return nil
}

func (h *Hub) CloseNotification(_ context.Context, tag string) error {
	h.mu.Lock()
	_, ok := h.notifications[tag]
	if ok {
		delete(h.notifications, tag)
		h.dropTagLocked(tag)
	}
	h.mu.Unlock()
	if ok {
		h.broadcast(Command{Type: CommandCloseNotification, Tag: tag})
	}
	return nil
}

func (h *Hub) dropTagLocked(tag string) {
	for i, t := range h.order {
		if t == tag {
			h.order = append(h.order[:i], h.order[i+1:]...)
			return
		}
	}
}

// Notifications returns the shown system notifications, oldest first.
func (h *Hub) Notifications() []models.NotificationPayload {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.NotificationPayload, 0, len(h.order))
	for _, tag := range h.order {
		out = append(out, h.notifications[tag])
	}
	return out
}

func (h *Hub) Clients(context.Context) ([]bridge.Client, error) {
	h.mu.Lock()
	list := make([]*hubClient, 0, len(h.clients))
	for _, c := range h.clients {
		list = append(list, c)
	}
	h.mu.Unlock()

	out := make([]bridge.Client, 0, len(list))
	for _, c := range list {
		out = append(out, c.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (h *Hub) Focus(_ context.Context, clientID string) error {
	return h.sendTo(clientID, Command{Type: CommandFocus, ClientID: clientID})
}

func (h *Hub) Navigate(_ context.Context, clientID, url string) error {
	c := h.client(clientID)
	if c == nil {
		return ErrUnknownClient
	}
	c.mu.Lock()
	c.url = url
	c.mu.Unlock()
	return h.sendTo(clientID, Command{Type: CommandNavigate, ClientID: clientID, URL: url})
}

// OpenWindow asks every connected client to open url. With no client connected the
// request is only logged.
func (h *Hub) OpenWindow(_ context.Context, url string) error {
	if h.ClientCount() == 0 {
		h.logger.Info().Str(xlog.FieldURL, url).Msg("open window requested with no client connected")
		return nil
	}
	h.broadcast(Command{Type: CommandOpenWindow, URL: url})
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) client(id string) *hubClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients[id]
}

func (h *Hub) sendTo(id string, cmd Command) error {
	c := h.client(id)
	if c == nil {
		return ErrUnknownClient
	}
	h.deliver(c, cmd)
	return nil
}

func (h *Hub) broadcast(cmd Command) {
	h.mu.Lock()
	list := make([]*hubClient, 0, len(h.clients))
	for _, c := range h.clients {
		list = append(list, c)
	}
	h.mu.Unlock()
	for _, c := range list {
		h.deliver(c, cmd)
	}
}

// deliver never blocks; a client that cannot keep up loses the command.
func (h *Hub) deliver(c *hubClient, cmd Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- cmd:
	default:
		h.logger.Warn().Str(xlog.FieldClientID, c.id).Str("command", cmd.Type).Msg("client send buffer full")
	}
}

// ServeHTTP upgrades a foreground client. The client reports its page with ?url=.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &hubClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan Command, 32),
		url:  r.URL.Query().Get("url"),
	}
	c.send <- Command{Type: CommandHello, ClientID: c.id}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.logger.Info().Str(xlog.FieldClientID, c.id).Str(xlog.FieldURL, c.url).Msg("client connected")

	h.wg.Add(1)
	go h.writeLoop(c)
	h.readLoop(r.Context(), c)
}

func (h *Hub) writeLoop(c *hubClient) {
	defer h.wg.Done()
	for cmd := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteJSON(cmd); err != nil {
			h.logger.Debug().Err(err).Str(xlog.FieldClientID, c.id).Msg("client write failed")
			_ = c.conn.Close()
			for range c.send {
			}
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = c.conn.Close()
}

func (h *Hub) readLoop(ctx context.Context, c *hubClient) {
	defer h.disconnect(c)
	for {
		var f clientFrame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Type {
		case "location":
			c.mu.Lock()
			c.url = f.URL
			c.mu.Unlock()
		case "focus":
			c.mu.Lock()
			c.focused = f.Focused
			c.mu.Unlock()
		case "message":
			h.mu.Lock()
			onMessage := h.onMessage
			h.mu.Unlock()
			if f.Message == nil || onMessage == nil {
				continue
			}
			if err := onMessage(context.WithoutCancel(ctx), *f.Message); err != nil {
				h.logger.Warn().Err(err).Str(xlog.FieldClientID, c.id).Msg("client message rejected")
			}
		default:
			h.logger.Debug().Str("frame", f.Type).Msg("unknown client frame")
		}
	}
}

func (h *Hub) disconnect(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c.id)
	empty := len(h.clients) == 0
	onEmpty := h.onEmpty
	h.mu.Unlock()

	c.mu.Lock()
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	h.logger.Info().Str(xlog.FieldClientID, c.id).Msg("client disconnected")

	if empty && onEmpty != nil {
		if err := onEmpty(context.Background()); err != nil {
			h.logger.Warn().Err(err).Msg("promote waiting agent")
		}
	}
}

// Close disconnects every client and waits for their writers.
func (h *Hub) Close() {
	h.mu.Lock()
	for _, c := range h.clients {
		_ = c.conn.Close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}
