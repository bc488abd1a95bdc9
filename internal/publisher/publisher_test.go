package publisher

import "testing"

func TestNewRequiresTopic(t *testing.T) {
	_, err := New(DefaultConfig(), "test-client")
	if err == nil {
		t.Fatal("expected error when Topic is unset")
	}
	pe, ok := err.(*Error)
	if !ok || pe.Kind != KindTopicUnspecified {
		t.Fatalf("err = %v, want KindTopicUnspecified", err)
	}
}

func TestNewAcceptsEmptyClientID(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Broker = "localhost"
	cfg.Topic = "sensors/edge-01"

	c, err := New(cfg, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c == nil {
		t.Fatal("New returned nil client")
	}
}

func TestConnectOutcomeKnownCodes(t *testing.T) {
	cases := map[byte]string{
		0: "SUCCESS",
		1: "FAILURE - unacceptable protocol version",
		2: "FAILURE - identifier rejected",
		3: "FAILURE - server unavailable",
		4: "FAILURE - bad username or password",
		5: "FAILURE - not authorized",
	}
	for code, want := range cases {
		if got := ConnectOutcome(code); got != want {
			t.Errorf("ConnectOutcome(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestConnectOutcomeUnknownCode(t *testing.T) {
	if got := ConnectOutcome(200); got != "FAILURE - unknown reason" {
		t.Fatalf("ConnectOutcome(200) = %q, want unknown-reason fallback", got)
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errConnect("broker.local", errTopicUnspecified())
	if inner.Unwrap() == nil {
		t.Fatal("Unwrap() = nil, want wrapped error")
	}
}
