package ingest

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agsys-edge/libellium-ingest/internal/envelope"
	"github.com/agsys-edge/libellium-ingest/internal/registry"
)

// fakePublisher records every published payload instead of talking to a
// broker, so the accept loop can be exercised end-to-end without network
// dependencies beyond the loopback TCP connection itself.
type fakePublisher struct {
	mu       sync.Mutex
	payloads [][]byte
	connErr  error
	pubErr   error
}

func (p *fakePublisher) Connect() error { return p.connErr }
func (p *fakePublisher) Publish(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pubErr != nil {
		return p.pubErr
	}
	p.payloads = append(p.payloads, append([]byte(nil), payload...))
	return nil
}
func (p *fakePublisher) Stop() {}

func (p *fakePublisher) last() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.payloads) == 0 {
		return nil
	}
	return p.payloads[len(p.payloads)-1]
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sensors.yaml")
	contents := `
sensors:
  - binary_id: 52
    ascii_id: BAT
    field_count: 1
    field_type: u8
    field_width: 1
    unit: "%"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write registry file: %v", err)
	}
	reg, err := registry.Load(path)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	return reg
}

func startTestServer(t *testing.T, pub *fakePublisher) (*Server, context.CancelFunc) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.ReadTimeout = 2 * time.Second
	cfg.ShutdownGrace = 2 * time.Second

	srv := New(cfg, testRegistry(t), envelope.Metadata{Topic: "sensors/test"},
		func(connID string) (Publisher, error) { return pub, nil }, nil, nil)

	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		srv.Shutdown()
	})
	return srv, cancel
}

func sendFrame(t *testing.T, addr net.Addr, hexFrame string) {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(hexFrame)); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestServerDecodesAndPublishes(t *testing.T) {
	pub := &fakePublisher{}
	srv, _ := startTestServer(t, pub)

	hexFrame := "3C3D3E0001" + "0000000000000001" + "6D23" + "01" + "3464"
	sendFrame(t, srv.Addr(), hexFrame)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pub.last() != nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	payload := pub.last()
	if payload == nil {
		t.Fatal("no envelope was published")
	}
	var env envelope.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if env.Data["BAT"] != "100 %" {
		t.Fatalf(`Data["BAT"] = %q, want "100 %%"`, env.Data["BAT"])
	}
}

func TestServerConcurrentConnectionsDontBlockEachOther(t *testing.T) {
	pub := &fakePublisher{}
	srv, _ := startTestServer(t, pub)

	hexFrame1 := "3C3D3E0001" + "0000000000000001" + "6D3123" + "01" + "3464"
	hexFrame2 := "3C3D3E0001" + "0000000000000002" + "6D3223" + "02" + "3465"

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); sendFrame(t, srv.Addr(), hexFrame1) }()
	go func() { defer wg.Done(); sendFrame(t, srv.Addr(), hexFrame2) }()
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pub.mu.Lock()
		n := len(pub.payloads)
		pub.mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.payloads) != 2 {
		t.Fatalf("published %d envelopes, want 2", len(pub.payloads))
	}
}

func TestServerBadMagicDoesNotPublish(t *testing.T) {
	pub := &fakePublisher{}
	srv, _ := startTestServer(t, pub)

	sendFrame(t, srv.Addr(), "AAAAAA0000000000000000000000")

	time.Sleep(200 * time.Millisecond)
	if pub.last() != nil {
		t.Fatal("a fatally malformed frame must not be published")
	}
}
