// Package transport carries published envelopes to subscribers and command
// requests from controllers.
package transport

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"hedge-sync-go/internal/config"
	"hedge-sync-go/internal/wire"
)

var (
	// ErrEncryptionUnavailable is returned when encryption was requested but
	// cannot be provided. Transports never fall back to plaintext.
	ErrEncryptionUnavailable = errors.New("transport encryption unavailable")
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport closed")
)

// Info describes where a transport is reachable.
type Info struct {
	Kind            string
	DataEndpoint    string
	CommandEndpoint string
	DataPort        int
	CommandPort     int
	CurveEnabled    bool
	CurvePublicKey  string
}

// Transport is a publish channel plus an optional command channel.
type Transport interface {
	// Publish sends payload under topic without blocking.
	Publish(topic wire.Topic, payload []byte) error
	// Requests delivers command requests. It is nil when commands are disabled.
	Requests() <-chan Request
	Info() Info
	// Close shuts the command channel first and the publish channel second.
	Close() error
}

// Request is one command awaiting a reply.
type Request struct {
	Body  []byte
	reply chan []byte
}

// NewRequest creates a request and the channel its reply arrives on.
func NewRequest(body []byte) (Request, <-chan []byte) {
	ch := make(chan []byte, 1)
	return Request{Body: body, reply: ch}, ch
}

// Reply answers the request. Only the first reply is delivered.
func (r Request) Reply(b []byte) bool {
	select {
	case r.reply <- b:
		return true
	default:
		return false
	}
}

// Options are the settings shared by every transport kind.
type Options struct {
	BindHost         string
	DataPort         int
	CommandPort      int
	EnableCommands   bool
	EnableEncryption bool
	ReplyTimeout     time.Duration
	FileDir          string
	FileMaxBytes     int64
}

// OptionsFromConfig maps the transport configuration section.
func OptionsFromConfig(cfg *config.Transport) Options {
	return Options{
		BindHost:         cfg.BindHost,
		DataPort:         cfg.DataPort,
		CommandPort:      cfg.CommandPort,
		EnableCommands:   cfg.EnableCommands,
		EnableEncryption: cfg.EnableEncryption,
		ReplyTimeout:     cfg.ReplyTimeout,
		FileDir:          cfg.FileDir,
		FileMaxBytes:     cfg.FileMaxBytes,
	}
}

// Open creates and binds the transport of the given kind.
func Open(kind string, opts Options, logger *zap.Logger) (Transport, error) {
	switch kind {
	case "zmq":
		return OpenZMQ(opts, logger)
	case "ws":
		return OpenWS(opts, logger)
	case "file":
		return OpenFile(opts, logger)
	default:
		return nil, fmt.Errorf("unknown transport kind %q", kind)
	}
}

// dispatch hands body to the engine and waits for its reply, bounded by
// timeout. On timeout or shutdown a structured failure is returned instead.
func dispatch(requests chan<- Request, stop <-chan struct{}, body []byte, timeout time.Duration) []byte {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	req, reply := NewRequest(body)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case requests <- req:
	case <-timer.C:
		return failureReply(body, wire.CodeTimeout, "Command timed out")
	case <-stop:
		return failureReply(body, wire.CodeInternal, "Shutting down")
	}

	select {
	case b := <-reply:
		return b
	case <-timer.C:
		return failureReply(body, wire.CodeTimeout, "Command timed out")
	case <-stop:
		return failureReply(body, wire.CodeInternal, "Shutting down")
	}
}

func failureReply(body []byte, code, msg string) []byte {
	var req wire.Request
	_ = wire.Unmarshal(body, &req)
	b, err := wire.Marshal(wire.Failure(req.Action, wire.FormatTime(time.Now()), code, msg))
	if err != nil {
		return []byte(`{"success":false,"action":"","error":"internal error"}`)
	}
	return b
}
