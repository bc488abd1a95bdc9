// Package eventbus fans out a live feed of decode events over a ZeroMQ
// PUB socket for the diagnostic tap command. Publish waits for the
// socket's Send to return; an event that cannot be sent at once is not
// dropped, so the calling goroutine waits for it.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
)

// Event is one decode outcome broadcast to tap subscribers.
type Event struct {
	ConnectionID string    `json:"connection_id"`
	SerialID     uint64    `json:"serial_id"`
	MoteID       string    `json:"mote_id"`
	Sequence     uint8     `json:"sequence"`
	SensorCount  int       `json:"sensor_count"`
	SoftError    string    `json:"soft_error,omitempty"`
	FatalError   string    `json:"fatal_error,omitempty"`
	At           time.Time `json:"at"`
}

// Bus owns a ZeroMQ PUB socket. One Bus is shared process-wide; Publish
// is safe for concurrent callers (zmq4's socket is not, so a mutex guards
// every Send).
type Bus struct {
	mu     sync.Mutex
	sock   zmq4.Socket
	ctx    context.Context
	cancel context.CancelFunc
}

// Open binds a PUB socket at address (e.g. "tcp://127.0.0.1:5556" or
// "ipc:///tmp/libellium-tap"). Subscribers connect with a SUB socket and
// an empty subscription filter to receive every event.
func Open(address string) (*Bus, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sock := zmq4.NewPub(ctx)
	if err := sock.Listen(address); err != nil {
		cancel()
		return nil, fmt.Errorf("eventbus: listen on %s: %w", address, err)
	}
	return &Bus{sock: sock, ctx: ctx, cancel: cancel}, nil
}

// Publish encodes ev as JSON and sends it as a single-frame message.
// Errors are returned rather than logged here so the caller (which has
// the connection ID in scope) can decide how noisy to be.
func (b *Bus) Publish(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.sock.Send(zmq4.NewMsg(payload)); err != nil {
		return fmt.Errorf("eventbus: send: %w", err)
	}
	return nil
}

// Close cancels the socket's context and closes the underlying transport.
func (b *Bus) Close() error {
	b.cancel()
	return b.sock.Close()
}

// Subscriber is a SUB-side reader used by the tap CLI.
type Subscriber struct {
	sock zmq4.Socket
	ctx  context.Context
}

// Dial connects a SUB socket to a Bus's PUB address and subscribes to
// every event (an empty topic filter, matching zmq4's convention).
func Dial(ctx context.Context, address string) (*Subscriber, error) {
	sock := zmq4.NewSub(ctx)
	if err := sock.Dial(address); err != nil {
		return nil, fmt.Errorf("eventbus: dial %s: %w", address, err)
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		sock.Close()
		return nil, fmt.Errorf("eventbus: subscribe: %w", err)
	}
	return &Subscriber{sock: sock, ctx: ctx}, nil
}

// Next blocks for the next Event, decoding it from the wire. It returns
// ctx.Err() once the Subscriber's context is canceled.
func (s *Subscriber) Next() (Event, error) {
	msg, err := s.sock.Recv()
	if err != nil {
		return Event{}, err
	}
	if len(msg.Frames) == 0 {
		return Event{}, fmt.Errorf("eventbus: empty message")
	}
	var ev Event
	if err := json.Unmarshal(msg.Frames[0], &ev); err != nil {
		return Event{}, fmt.Errorf("eventbus: unmarshal event: %w", err)
	}
	return ev, nil
}

// Close closes the subscriber's socket.
func (s *Subscriber) Close() error {
	return s.sock.Close()
}
