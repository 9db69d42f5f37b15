package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/nhle/auditwatch/internal/model"
)

// Phoenix channel protocol events used by the realtime multiplexer.
const (
	eventJoin            = "phx_join"
	eventLeave           = "phx_leave"
	eventReply           = "phx_reply"
	eventClose           = "phx_close"
	eventError           = "phx_error"
	eventHeartbeat       = "heartbeat"
	eventAccessToken     = "access_token"
	eventPostgresChanges = "postgres_changes"
	eventSystem          = "system"

	phoenixTopic = "phoenix"
	topicPrefix  = "realtime:"
)

var (
	// ErrClosed is returned when using a socket or manager after Close.
	ErrClosed = errors.New("realtime: closed")

	// ErrJoinRejected is reported when the multiplexer refuses a join.
	ErrJoinRejected = errors.New("realtime: join rejected")

	// ErrChannelError is reported when the multiplexer errors a channel.
	ErrChannelError = errors.New("realtime: channel error")

	// ErrConnectionLost is reported for channels open when the socket drops.
	ErrConnectionLost = errors.New("realtime: connection lost")

	// ErrUnknownHandle is returned for handles the manager does not own.
	ErrUnknownHandle = errors.New("realtime: unknown handle")
)

// Message is the Phoenix wire envelope.
type Message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

// ChangeFilter selects the row changes a channel receives.
type ChangeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type joinConfig struct {
	Broadcast       broadcastConfig `json:"broadcast"`
	Presence        presenceConfig  `json:"presence"`
	PostgresChanges []ChangeFilter  `json:"postgres_changes"`
}

type broadcastConfig struct {
	Ack  bool `json:"ack"`
	Self bool `json:"self"`
}

type presenceConfig struct {
	Key string `json:"key"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changesPayload struct {
	IDs  []int64           `json:"ids"`
	Data model.ChangeEvent `json:"data"`
}

type tokenPayload struct {
	AccessToken string `json:"access_token"`
}

// EndpointURL derives the realtime websocket URL from the backend project
// URL: https://abc.supabase.co becomes
// wss://abc.supabase.co/realtime/v1/websocket?apikey=...&vsn=1.0.0.
func EndpointURL(baseURL, apiKey string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing backend url: %w", err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported backend url scheme %q", u.Scheme)
	}

	u.Path += "/realtime/v1/websocket"
	q := u.Query()
	q.Set("apikey", apiKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()

	return u.String(), nil
}
