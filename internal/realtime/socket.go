package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nhle/auditwatch/internal/model"
)

// ChannelState is reported by a Transport when the multiplexer
// acknowledges or ends a channel.
type ChannelState int

const (
	ChannelJoined ChannelState = iota
	ChannelClosed
)

// EventFunc receives row changes for a channel, in delivery order.
type EventFunc func(model.ChangeEvent)

// StateFunc receives asynchronous channel acknowledgements. err is set
// when state is ChannelClosed.
type StateFunc func(state ChannelState, err error)

// Channel is an open subscription on a Transport.
type Channel interface {
	// Unsubscribe leaves the channel. No StateFunc callback follows.
	Unsubscribe() error
}

// Transport opens channels on the remote multiplexer. Callbacks for one
// channel are never invoked concurrently.
type Transport interface {
	Subscribe(name string, filters []ChangeFilter, onEvent EventFunc, onState StateFunc) (Channel, error)
}

const (
	writeTimeout     = 10 * time.Second
	defaultHeartbeat = 25 * time.Second
)

// Socket is a Transport over a single websocket connection speaking the
// Phoenix channel protocol.
type Socket struct {
	conn      *websocket.Conn
	log       logrus.FieldLogger
	heartbeat time.Duration

	writeMu sync.Mutex

	mu       sync.Mutex
	channels map[string]*socketChannel
	ref      uint64
	token    string
	closed   bool

	done chan struct{}
}

type socketChannel struct {
	socket  *Socket
	topic   string
	joinRef string
	onEvent EventFunc
	onState StateFunc
	joined  bool
}

// Dial connects to the realtime endpoint (see EndpointURL) and starts the
// read and heartbeat loops. token is the user's access token; it is sent
// with every join so row-level security applies to the subscription.
func Dial(
	ctx context.Context,
	endpoint string,
	token string,
	heartbeat time.Duration,
	log logrus.FieldLogger,
) (*Socket, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing realtime (%d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing realtime: %w", err)
	}

	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	s := &Socket{
		conn:      conn,
		log:       log,
		heartbeat: heartbeat,
		channels:  make(map[string]*socketChannel),
		token:     token,
		done:      make(chan struct{}),
	}

	go s.readLoop()
	go s.heartbeatLoop()

	return s, nil
}

// Done is closed when the connection has ended.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Closed reports whether the socket can no longer open channels.
func (s *Socket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close closes the connection without reporting channel closures.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.channels = make(map[string]*socketChannel)
	s.mu.Unlock()

	s.writeMu.Lock()
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	s.writeMu.Unlock()

	return s.conn.Close()
}

// SetAccessToken replaces the token used for joins and pushes it to every
// joined channel.
func (s *Socket) SetAccessToken(token string) {
	s.mu.Lock()
	s.token = token
	var topics []string
	for topic, ch := range s.channels {
		if ch.joined {
			topics = append(topics, topic)
		}
	}
	s.mu.Unlock()

	for _, topic := range topics {
		if err := s.push(topic, eventAccessToken, tokenPayload{AccessToken: token}, ""); err != nil {
			s.log.WithError(err).WithField("topic", topic).Warn("pushing access token")
		}
	}
}

// Subscribe joins realtime:<name> with the given change filters.
func (s *Socket) Subscribe(
	name string,
	filters []ChangeFilter,
	onEvent EventFunc,
	onState StateFunc,
) (Channel, error) {
	topic := topicPrefix + name

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	ch := &socketChannel{
		socket:  s,
		topic:   topic,
		joinRef: s.nextRefLocked(),
		onEvent: onEvent,
		onState: onState,
	}
	s.channels[topic] = ch
	token := s.token
	s.mu.Unlock()

	payload := joinPayload{
		Config: joinConfig{
			PostgresChanges: filters,
		},
		AccessToken: token,
	}
	if err := s.push(topic, eventJoin, payload, ch.joinRef); err != nil {
		s.removeChannel(ch)
		return nil, fmt.Errorf("joining %s: %w", topic, err)
	}

	return ch, nil
}

// Unsubscribe leaves the channel.
func (c *socketChannel) Unsubscribe() error {
	if !c.socket.removeChannel(c) {
		return nil
	}
	if err := c.socket.push(c.topic, eventLeave, struct{}{}, ""); err != nil {
		return fmt.Errorf("leaving %s: %w", c.topic, err)
	}
	return nil
}

// removeChannel drops c from the routing table if it is still current.
func (s *Socket) removeChannel(c *socketChannel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channels[c.topic] != c {
		return false
	}
	delete(s.channels, c.topic)
	return true
}

func (s *Socket) nextRefLocked() string {
	s.ref++
	return strconv.FormatUint(s.ref, 10)
}

// push writes one message. joinRef is set on join messages only.
func (s *Socket) push(topic, event string, payload interface{}, joinRef string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", event, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	ref := joinRef
	if ref == "" {
		ref = s.nextRefLocked()
	}
	s.mu.Unlock()

	msg := Message{
		Topic:   topic,
		Event:   event,
		Payload: data,
		Ref:     ref,
		JoinRef: joinRef,
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("writing %s to %s: %w", event, topic, err)
	}
	return nil
}

// heartbeatLoop keeps the connection alive. A failed write closes the
// connection so the read loop reports the loss.
func (s *Socket) heartbeatLoop() {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.push(phoenixTopic, eventHeartbeat, struct{}{}, ""); err != nil {
				s.log.WithError(err).Warn("realtime heartbeat failed")
				s.conn.Close()
				return
			}
		}
	}
}

// readLoop routes inbound messages to channels until the connection ends,
// then reports every remaining channel as closed.
func (s *Socket) readLoop() {
	defer close(s.done)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.connectionLost(err)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.WithError(err).Warn("dropping malformed realtime frame")
			continue
		}
		s.route(msg)
	}
}

func (s *Socket) route(msg Message) {
	if msg.Topic == phoenixTopic {
		return
	}

	s.mu.Lock()
	ch := s.channels[msg.Topic]
	s.mu.Unlock()
	if ch == nil {
		return
	}

	switch msg.Event {
	case eventReply:
		if msg.Ref != ch.joinRef {
			return
		}
		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			s.log.WithError(err).WithField("topic", msg.Topic).Warn("malformed join reply")
			return
		}
		if reply.Status == "ok" {
			s.mu.Lock()
			ch.joined = true
			s.mu.Unlock()
			ch.onState(ChannelJoined, nil)
			return
		}
		if s.removeChannel(ch) {
			ch.onState(ChannelClosed, fmt.Errorf("%w: %s", ErrJoinRejected, string(reply.Response)))
		}

	case eventPostgresChanges:
		var changes changesPayload
		if err := json.Unmarshal(msg.Payload, &changes); err != nil {
			s.log.WithError(err).WithField("topic", msg.Topic).Warn("dropping malformed change payload")
			return
		}
		ch.onEvent(changes.Data)

	case eventClose:
		if s.removeChannel(ch) {
			ch.onState(ChannelClosed, nil)
		}

	case eventError:
		if s.removeChannel(ch) {
			ch.onState(ChannelClosed, ErrChannelError)
		}

	case eventSystem:
		s.log.WithField("topic", msg.Topic).Debugf("realtime system message: %s", string(msg.Payload))
	}
}

func (s *Socket) connectionLost(err error) {
	s.mu.Lock()
	wasClosed := s.closed
	s.closed = true
	channels := s.channels
	s.channels = make(map[string]*socketChannel)
	s.mu.Unlock()

	if wasClosed {
		return
	}

	s.log.WithError(err).Warn("realtime connection lost")
	for _, ch := range channels {
		ch.onState(ChannelClosed, fmt.Errorf("%w: %v", ErrConnectionLost, err))
	}
}
