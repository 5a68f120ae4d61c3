package transport

import (
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"

	"hedge-sync-go/internal/wire"
)

// Call sends one command to a master's REP endpoint and waits up to timeout
// for the reply. serverKey enables CURVE when non-empty.
func Call(endpoint, serverKey string, req wire.Request, timeout time.Duration) ([]byte, error) {
	body, err := wire.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ctx, err := zmq.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create zmq context: %w", err)
	}
	defer ctx.Term()

	sock, err := ctx.NewSocket(zmq.REQ)
	if err != nil {
		return nil, fmt.Errorf("create request socket: %w", err)
	}
	defer sock.Close()
	if err := sock.SetLinger(0); err != nil {
		return nil, err
	}
	if err := curveClient(sock, serverKey); err != nil {
		return nil, err
	}
	if err := sock.Connect(endpoint); err != nil {
		return nil, fmt.Errorf("connect %s: %w", endpoint, err)
	}
	if _, err := sock.SendBytes(body, 0); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	poller := zmq.NewPoller()
	poller.Add(sock, zmq.POLLIN)
	polled, err := poller.Poll(timeout)
	if err != nil {
		return nil, fmt.Errorf("poll reply: %w", err)
	}
	if len(polled) == 0 {
		return nil, fmt.Errorf("no reply from %s within %s", endpoint, timeout)
	}
	reply, err := sock.RecvBytes(0)
	if err != nil {
		return nil, fmt.Errorf("receive reply: %w", err)
	}
	return reply, nil
}

// Subscriber receives envelopes from a master's PUB endpoint.
type Subscriber struct {
	ctx    *zmq.Context
	sock   *zmq.Socket
	poller *zmq.Poller
}

// Subscribe connects to endpoint for the given topics; no topics means all.
func Subscribe(endpoint, serverKey string, topics ...wire.Topic) (*Subscriber, error) {
	ctx, err := zmq.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create zmq context: %w", err)
	}
	sock, err := ctx.NewSocket(zmq.SUB)
	if err != nil {
		ctx.Term()
		return nil, fmt.Errorf("create subscriber: %w", err)
	}
	fail := func(err error) (*Subscriber, error) {
		sock.Close()
		ctx.Term()
		return nil, err
	}
	if err := sock.SetLinger(0); err != nil {
		return fail(err)
	}
	if err := curveClient(sock, serverKey); err != nil {
		return fail(err)
	}
	if len(topics) == 0 {
		topics = []wire.Topic{""}
	}
	for _, topic := range topics {
		if err := sock.SetSubscribe(string(topic)); err != nil {
			return fail(fmt.Errorf("subscribe %q: %w", topic, err))
		}
	}
	if err := sock.Connect(endpoint); err != nil {
		return fail(fmt.Errorf("connect %s: %w", endpoint, err))
	}
	poller := zmq.NewPoller()
	poller.Add(sock, zmq.POLLIN)
	return &Subscriber{ctx: ctx, sock: sock, poller: poller}, nil
}

// Receive waits up to timeout for one message. ok is false on timeout.
func (s *Subscriber) Receive(timeout time.Duration) (topic wire.Topic, payload []byte, ok bool, err error) {
	polled, err := s.poller.Poll(timeout)
	if err != nil {
		return "", nil, false, fmt.Errorf("poll subscriber: %w", err)
	}
	if len(polled) == 0 {
		return "", nil, false, nil
	}
	parts, err := s.sock.RecvMessageBytes(0)
	if err != nil {
		return "", nil, false, fmt.Errorf("receive: %w", err)
	}
	if len(parts) != 2 {
		return "", nil, false, fmt.Errorf("expected 2 frames, got %d", len(parts))
	}
	return wire.Topic(parts[0]), parts[1], true, nil
}

// Close releases the socket and its context.
func (s *Subscriber) Close() error {
	s.sock.Close()
	return s.ctx.Term()
}

func curveClient(sock *zmq.Socket, serverKey string) error {
	if serverKey == "" {
		return nil
	}
	if !zmq.HasCurve() {
		return ErrEncryptionUnavailable
	}
	public, secret, err := zmq.NewCurveKeypair()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryptionUnavailable, err)
	}
	if err := sock.SetCurveServerkey(serverKey); err != nil {
		return fmt.Errorf("%w: %v", ErrEncryptionUnavailable, err)
	}
	if err := sock.SetCurvePublickey(public); err != nil {
		return fmt.Errorf("%w: %v", ErrEncryptionUnavailable, err)
	}
	if err := sock.SetCurveSecretkey(secret); err != nil {
		return fmt.Errorf("%w: %v", ErrEncryptionUnavailable, err)
	}
	return nil
}
