// Package ingest runs the TCP accept loop: one goroutine per connection,
// each decoding exactly one frame, building its envelope, and publishing
// it before exiting.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agsys-edge/libellium-ingest/internal/dedupe"
	"github.com/agsys-edge/libellium-ingest/internal/envelope"
	"github.com/agsys-edge/libellium-ingest/internal/eventbus"
	"github.com/agsys-edge/libellium-ingest/internal/frame"
	"github.com/agsys-edge/libellium-ingest/internal/registry"
)

// Publisher is the narrow interface the server needs from a broker
// session. internal/publisher.Client satisfies it; tests substitute a
// fake so the accept loop can be exercised without a broker.
type Publisher interface {
	Connect() error
	Publish(payload []byte) error
	Stop()
}

// PublisherFactory builds one short-lived Publisher per connection,
// tagged with that connection's correlation ID as its MQTT client ID.
type PublisherFactory func(connectionID string) (Publisher, error)

// Config holds the TCP listener's tunable surface.
type Config struct {
	Host          string
	Port          int
	BufferSize    int
	Backlog       int
	ReadTimeout   time.Duration
	ShutdownGrace time.Duration
}

// DefaultConfig returns the listener's out-of-the-box defaults.
func DefaultConfig() Config {
	return Config{
		Host:          "0.0.0.0",
		Port:          7000,
		BufferSize:    1024,
		Backlog:       5,
		ReadTimeout:   30 * time.Second,
		ShutdownGrace: 5 * time.Second,
	}
}

// Server is the TCP ingest listener.
type Server struct {
	cfg       Config
	registry  *registry.Registry
	meta      envelope.Metadata
	newClient PublisherFactory
	dedup     *dedupe.Cache // nil disables the repeat check
	bus       *eventbus.Bus // nil disables the diagnostic feed

	listener net.Listener
	wg       sync.WaitGroup
}

// New builds a Server. dedup and bus may be nil to disable those ambient
// features entirely.
func New(cfg Config, reg *registry.Registry, meta envelope.Metadata, newClient PublisherFactory, dedup *dedupe.Cache, bus *eventbus.Bus) *Server {
	return &Server{
		cfg:       cfg,
		registry:  reg,
		meta:      meta,
		newClient: newClient,
		dedup:     dedup,
		bus:       bus,
	}
}

// Listen binds the TCP listener without accepting any connections yet.
// Separated from Serve so a caller (or a test) can learn the bound
// address, useful when cfg.Port == 0 requests an ephemeral port.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("ingest: listen on %s: %w", addr, err)
	}
	// Go's net.Listener exposes no raw SO_LISTEN backlog knob; the kernel
	// default is used regardless of cfg.Backlog. Recorded here rather than
	// silently ignored.
	log.Printf("ingest: listening on %s (backlog=%d is a hint only; the standard library doesn't expose it)", ln.Addr(), s.cfg.Backlog)
	s.listener = ln
	return nil
}

// Addr returns the bound listener's address. Valid only after Listen
// has succeeded.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is canceled, spawning one goroutine
// per connection. Listen must have already succeeded.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Printf("ingest: accept error: %v", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Run binds the listener and serves until ctx is canceled. A bind/listen
// failure is fatal and returned immediately.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Shutdown waits up to cfg.ShutdownGrace for in-flight connections after
// the caller has already canceled Run's context.
func (s *Server) Shutdown() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGrace):
		log.Printf("ingest: shutdown grace period (%s) elapsed with connections still outstanding", s.cfg.ShutdownGrace)
	}
}

// handleConnection implements the ACCEPTED -> READ -> DECODED ->
// PUBLISHED -> CLOSED state machine for a single connection. It always
// terminates: every branch either publishes or logs and returns.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	connID := uuid.NewString()
	log.Printf("ingest[%s]: accepted connection from %s", connID, conn.RemoteAddr())

	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
		log.Printf("ingest[%s]: set read deadline: %v", connID, err)
		return
	}

	buf := make([]byte, s.cfg.BufferSize)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		log.Printf("ingest[%s]: read: %v", connID, err)
		return
	}
	hexFrame := string(buf[:n])

	f, decodeErr := frame.Decode(hexFrame, s.registry)
	if f == nil {
		// fatal decode error: nothing to publish
		log.Printf("ingest[%s]: decode failed: %v", connID, decodeErr)
		s.emitEvent(connID, nil, decodeErr)
		return
	}
	if decodeErr != nil {
		log.Printf("ingest[%s]: decode produced a partial frame: %v", connID, decodeErr)
	}

	if s.dedup != nil {
		repeat, err := s.dedup.Seen(f.SerialID, f.MoteID, f.Sequence, time.Now())
		if err != nil {
			log.Printf("ingest[%s]: dedupe check failed (continuing): %v", connID, err)
		} else if repeat {
			log.Printf("ingest[%s]: duplicate of a recently seen (serial=%d, mote=%s, seq=%d) frame", connID, f.SerialID, f.MoteID, f.Sequence)
		}
	}

	env := envelope.Build(f, s.registry, s.meta, time.Now())
	payload, err := json.Marshal(env)
	if err != nil {
		log.Printf("ingest[%s]: marshal envelope: %v", connID, err)
		return
	}

	if err := s.publish(connID, payload); err != nil {
		log.Printf("ingest[%s]: publish failed: %v", connID, err)
	} else {
		log.Printf("ingest[%s]: published %d measurement(s) for mote %s", connID, len(f.Measurements), f.MoteID)
	}

	s.emitEvent(connID, f, decodeErr)
}

func (s *Server) publish(connID string, payload []byte) error {
	if s.newClient == nil {
		return fmt.Errorf("ingest: no publisher factory configured")
	}
	client, err := s.newClient(connID)
	if err != nil {
		return fmt.Errorf("build publisher: %w", err)
	}
	defer client.Stop()

	if err := client.Connect(); err != nil {
		return err
	}
	return client.Publish(payload)
}

func (s *Server) emitEvent(connID string, f *frame.DecodedFrame, decodeErr error) {
	if s.bus == nil {
		return
	}
	ev := eventbus.Event{ConnectionID: connID, At: time.Now()}
	if f != nil {
		ev.SerialID = f.SerialID
		ev.MoteID = f.MoteID
		ev.Sequence = f.Sequence
		ev.SensorCount = len(f.Measurements)
	}
	if decodeErr != nil {
		if fe, ok := decodeErr.(*frame.Error); ok && fe.Soft() {
			ev.SoftError = fe.Error()
		} else {
			ev.FatalError = decodeErr.Error()
		}
	}
	if err := s.bus.Publish(ev); err != nil {
		log.Printf("ingest[%s]: eventbus publish failed: %v", connID, err)
	}
}
