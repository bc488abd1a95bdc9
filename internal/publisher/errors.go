package publisher

import "fmt"

// Kind distinguishes the three MQTT failure modes the reference client
// exposes as exception types.
type Kind int

const (
	KindConnect Kind = iota
	KindPublish
	KindSubscribe
	KindTopicUnspecified
)

// Error is the publisher's single error type, covering connect, publish
// and subscribe failures plus the "no topic configured" misconfiguration.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("publisher: %s: %v", e.msg, e.err)
	}
	return "publisher: " + e.msg
}

func (e *Error) Unwrap() error { return e.err }

func errConnect(broker string, err error) *Error {
	return &Error{Kind: KindConnect, msg: fmt.Sprintf("connect to %s", broker), err: err}
}

func errPublish(topic string, err error) *Error {
	return &Error{Kind: KindPublish, msg: fmt.Sprintf("publish to %s", topic), err: err}
}

func errSubscribe(topic string, err error) *Error {
	return &Error{Kind: KindSubscribe, msg: fmt.Sprintf("subscribe to %s", topic), err: err}
}

func errTopicUnspecified() *Error {
	return &Error{Kind: KindTopicUnspecified, msg: "no topic configured"}
}

// connectOutcomes is the MQTT CONNACK return-code table rendered by
// ConnectOutcome. Client.Connect does not consult it.
var connectOutcomes = map[byte]string{
	0: "SUCCESS",
	1: "FAILURE - unacceptable protocol version",
	2: "FAILURE - identifier rejected",
	3: "FAILURE - server unavailable",
	4: "FAILURE - bad username or password",
	5: "FAILURE - not authorized",
}

// ConnectOutcome renders a CONNACK return code the way the reference
// client logs it, falling back to an "unknown reason" label for any code
// outside the MQTT 3.1.1 table (the reference client catches a KeyError
// the same way).
func ConnectOutcome(code byte) string {
	if s, ok := connectOutcomes[code]; ok {
		return s
	}
	return "FAILURE - unknown reason"
}
