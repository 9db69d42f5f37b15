package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const dialTimeout = 15 * time.Second

// Dialer is a Transport that owns the current Socket and dials a new one
// when a channel is opened after the previous connection was lost. It
// never dials on its own: a new connection is made only when a caller
// subscribes.
type Dialer struct {
	endpoint  string
	heartbeat time.Duration
	log       logrus.FieldLogger

	mu     sync.Mutex
	sock   *Socket
	token  string
	closed bool
}

// NewDialer creates a Dialer for the given realtime endpoint.
func NewDialer(endpoint, token string, heartbeat time.Duration, log logrus.FieldLogger) *Dialer {
	return &Dialer{
		endpoint:  endpoint,
		token:     token,
		heartbeat: heartbeat,
		log:       log,
	}
}

// Subscribe opens a channel on the current connection, dialing first if
// there is none.
func (d *Dialer) Subscribe(
	name string,
	filters []ChangeFilter,
	onEvent EventFunc,
	onState StateFunc,
) (Channel, error) {
	sock, err := d.socket()
	if err != nil {
		return nil, err
	}
	return sock.Subscribe(name, filters, onEvent, onState)
}

func (d *Dialer) socket() (*Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	if d.sock != nil && !d.sock.Closed() {
		return d.sock, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	sock, err := Dial(ctx, d.endpoint, d.token, d.heartbeat, d.log)
	if err != nil {
		return nil, err
	}
	d.log.Info("realtime connected")
	d.sock = sock
	return sock, nil
}

// SetAccessToken updates the token for future joins and pushes it to the
// live connection.
func (d *Dialer) SetAccessToken(token string) {
	d.mu.Lock()
	d.token = token
	sock := d.sock
	d.mu.Unlock()

	if sock != nil && !sock.Closed() {
		sock.SetAccessToken(token)
	}
}

// Close closes the live connection and refuses further subscriptions.
func (d *Dialer) Close() error {
	d.mu.Lock()
	d.closed = true
	sock := d.sock
	d.sock = nil
	d.mu.Unlock()

	if sock == nil {
		return nil
	}
	return sock.Close()
}
