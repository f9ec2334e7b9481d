package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	xlog "github.com/duisenbekovayan/order_live/internal/log"
	"github.com/duisenbekovayan/order_live/internal/models"
)

// Phoenix channel protocol events used by the realtime backend.
const (
	phxJoin         = "phx_join"
	phxLeave        = "phx_leave"
	phxReply        = "phx_reply"
	phxError        = "phx_error"
	phxClose        = "phx_close"
	phxHeartbeat    = "heartbeat"
	postgresChanges = "postgres_changes"
	systemEvent     = "system"
)

var ErrSocketClosed = errors.New("realtime socket closed")

type SocketConfig struct {
	URL         string // e.g. wss://<project>.supabase.co/realtime/v1/websocket
	APIKey      string
	Heartbeat   time.Duration
	JoinTimeout time.Duration
	Dialer      *websocket.Dialer
	Logger      *zerolog.Logger
}

type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

type phxReplyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changesPayload struct {
	Data struct {
		Schema    string            `json:"schema"`
		Table     string            `json:"table"`
		Type      models.ChangeType `json:"type"`
		Record    json.RawMessage   `json:"record"`
		OldRecord json.RawMessage   `json:"old_record"`
		CommitAt  time.Time         `json:"commit_timestamp"`
	} `json:"data"`
}

// Socket is a Phoenix-protocol websocket to the realtime backend. Channels share the
// socket; a transport failure errors every joined channel and is not retried.
type Socket struct {
	cfg    SocketConfig
	logger zerolog.Logger

	ref atomic.Uint64

	mu       sync.Mutex
	conn     *websocket.Conn
	channels map[string]*socketChannel // topic -> channel
	pending  map[string]*socketChannel // join ref -> channel
	closed   bool
	done     chan struct{}
	wg       sync.WaitGroup

	writeMu sync.Mutex
}

func NewSocket(cfg SocketConfig) *Socket {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 25 * time.Second
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 10 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	l := xlog.WithComponent("realtime_socket")
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	return &Socket{
		cfg:      cfg,
		logger:   l,
		channels: make(map[string]*socketChannel),
		pending:  make(map[string]*socketChannel),
	}
}

func (s *Socket) Channel(name string, filter Filter) Channel {
	return &socketChannel{socket: s, topic: "realtime:" + name, filter: filter}
}

func (s *Socket) endpoint() (string, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	if s.cfg.APIKey != "" {
		q.Set("apikey", s.cfg.APIKey)
	}
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// connect dials once; later calls reuse the connection.
func (s *Socket) connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSocketClosed
	}
	if s.conn != nil {
		return nil
	}
	endpoint, err := s.endpoint()
	if err != nil {
		return err
	}
	conn, _, err := s.cfg.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial realtime: %w", err)
	}
	s.conn = conn
	s.done = make(chan struct{})
	s.wg.Add(2)
	go s.readLoop(conn, s.done)
	go s.heartbeatLoop(conn, s.done)
	s.logger.Info().Msg("realtime socket connected")
	return nil
}

func (s *Socket) nextRef() string {
	return strconv.FormatUint(s.ref.Add(1), 10)
}

func (s *Socket) send(conn *websocket.Conn, m phxMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(m)
}

func (s *Socket) currentConn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Socket) heartbeatLoop(conn *websocket.Conn, done chan struct{}) {
	defer s.wg.Done()
	t := time.NewTicker(s.cfg.Heartbeat)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			ref := s.nextRef()
			err := s.send(conn, phxMessage{Topic: "phoenix", Event: phxHeartbeat, Payload: json.RawMessage(`{}`), Ref: &ref})
			if err != nil {
				s.fail(conn, fmt.Errorf("heartbeat: %w", err))
				return
			}
		}
	}
}

func (s *Socket) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer s.wg.Done()
	for {
		var m phxMessage
		if err := conn.ReadJSON(&m); err != nil {
			select {
			case <-done:
			default:
				s.fail(conn, fmt.Errorf("read: %w", err))
			}
			return
		}
		s.route(m)
	}
}

func (s *Socket) route(m phxMessage) {
	switch m.Event {
	case phxReply:
		if m.Topic == "phoenix" || m.Ref == nil {
			return
		}
		s.mu.Lock()
		ch := s.pending[*m.Ref]
		delete(s.pending, *m.Ref)
		s.mu.Unlock()
		if ch == nil {
			return
		}
		var reply phxReplyPayload
		if err := json.Unmarshal(m.Payload, &reply); err != nil {
			ch.status(StatusChannelError, fmt.Errorf("decode join reply: %w", err))
			return
		}
		if reply.Status != "ok" {
			ch.status(StatusChannelError, fmt.Errorf("join %s rejected: %s", ch.topic, string(reply.Response)))
			return
		}
		ch.status(StatusSubscribed, nil)

	case postgresChanges:
		ch := s.channel(m.Topic)
		if ch == nil {
			return
		}
		var p changesPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			s.logger.Warn().Err(err).Str(xlog.FieldChannel, m.Topic).Msg("undecodable change payload")
			return
		}
		rc := models.RowChange{
			Schema: p.Data.Schema, Table: p.Data.Table, Type: p.Data.Type,
			Record: p.Data.Record, OldRecord: p.Data.OldRecord, CommitAt: p.Data.CommitAt,
		}
		if ch.filter.Match(rc) {
			ch.emit(rc)
		}

	case systemEvent:
		ch := s.channel(m.Topic)
		if ch == nil {
			return
		}
		var p struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(m.Payload, &p); err == nil && p.Status == "error" {
			ch.status(StatusChannelError, errors.New(p.Message))
		}

	case phxError:
		if ch := s.channel(m.Topic); ch != nil {
			ch.status(StatusChannelError, errors.New("channel error"))
		}

	case phxClose:
		if ch := s.channel(m.Topic); ch != nil {
			ch.status(StatusClosed, nil)
		}
	}
}

func (s *Socket) channel(topic string) *socketChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[topic]
}

// fail tears down conn and errors every channel that was on it.
func (s *Socket) fail(conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	close(s.done)
	affected := make([]*socketChannel, 0, len(s.channels))
	for _, ch := range s.channels {
		affected = append(affected, ch)
	}
	s.channels = make(map[string]*socketChannel)
	s.pending = make(map[string]*socketChannel)
	s.mu.Unlock()

	_ = conn.Close()
	s.logger.Warn().Err(err).Int("channels", len(affected)).Msg("realtime socket failed")
	for _, ch := range affected {
		ch.status(StatusChannelError, err)
	}
}

// Close shuts the socket down and waits for its goroutines.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	if conn != nil {
		close(s.done)
	}
	s.channels = make(map[string]*socketChannel)
	s.pending = make(map[string]*socketChannel)
	s.mu.Unlock()

	var err error
	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = conn.Close()
	}
	s.wg.Wait()
	return err
}

type socketChannel struct {
	socket *Socket
	topic  string
	filter Filter

	mu       sync.Mutex
	onChange func(models.RowChange)
	onStatus func(ChannelStatus, error)
	joinRef  string
	timer    *time.Timer
	left     bool
}

func (c *socketChannel) OnChange(fn func(models.RowChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

func (c *socketChannel) Subscribe(ctx context.Context, onStatus func(ChannelStatus, error)) error {
	c.mu.Lock()
	c.onStatus = onStatus
	c.mu.Unlock()

	if err := c.socket.connect(ctx); err != nil {
		return err
	}

	ref := c.socket.nextRef()
	c.socket.mu.Lock()
	conn := c.socket.conn
	if conn == nil {
		c.socket.mu.Unlock()
		return ErrSocketClosed
	}
	c.socket.channels[c.topic] = c
	c.socket.pending[ref] = c
	c.socket.mu.Unlock()

	c.mu.Lock()
	c.joinRef = ref
	c.timer = time.AfterFunc(c.socket.cfg.JoinTimeout, func() {
		c.socket.mu.Lock()
		_, waiting := c.socket.pending[ref]
		delete(c.socket.pending, ref)
		c.socket.mu.Unlock()
		if waiting {
			c.status(StatusTimedOut, fmt.Errorf("join %s timed out", c.topic))
		}
	})
	c.mu.Unlock()

	payload, err := json.Marshal(joinPayload(c.filter, c.socket.cfg.APIKey))
	if err != nil {
		return err
	}
	return c.socket.send(conn, phxMessage{Topic: c.topic, Event: phxJoin, Payload: payload, Ref: &ref, JoinRef: &ref})
}

func joinPayload(f Filter, token string) map[string]any {
	change := map[string]any{
		"event":  string(f.Event),
		"schema": f.Schema,
		"table":  f.Table,
	}
	if fs := f.String(); fs != "" {
		change["filter"] = fs
	}
	p := map[string]any{
		"config": map[string]any{
			"broadcast":        map[string]any{"self": false},
			"presence":         map[string]any{"key": ""},
			"postgres_changes": []any{change},
		},
	}
	if token != "" {
		p["access_token"] = token
	}
	return p
}

func (c *socketChannel) Unsubscribe(context.Context) error {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return nil
	}
	c.left = true
	if c.timer != nil {
		c.timer.Stop()
	}
	joinRef := c.joinRef
	c.mu.Unlock()

	s := c.socket
	s.mu.Lock()
	if s.channels[c.topic] == c {
		delete(s.channels, c.topic)
	}
	delete(s.pending, joinRef)
	conn := s.conn
	s.mu.Unlock()

	if conn == nil || joinRef == "" {
		return nil
	}
	ref := s.nextRef()
	if err := s.send(conn, phxMessage{Topic: c.topic, Event: phxLeave, Payload: json.RawMessage(`{}`), Ref: &ref, JoinRef: &joinRef}); err != nil {
		s.logger.Debug().Err(err).Str(xlog.FieldChannel, c.topic).Msg("leave not sent")
	}
	return nil
}

func (c *socketChannel) status(st ChannelStatus, err error) {
	c.mu.Lock()
	fn, left := c.onStatus, c.left
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()
	if left || fn == nil {
		return
	}
	fn(st, err)
}

func (c *socketChannel) emit(rc models.RowChange) {
	c.mu.Lock()
	fn, left := c.onChange, c.left
	c.mu.Unlock()
	if !left && fn != nil {
		fn(rc)
	}
}
