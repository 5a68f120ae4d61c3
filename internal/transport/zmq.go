package transport

import (
	"fmt"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"
	"go.uber.org/zap"

	"hedge-sync-go/internal/wire"
)

const commandPollInterval = 100 * time.Millisecond

// ZMQ publishes on a PUB socket and serves commands on a REP socket. Each
// instance owns its context so repeated open/close cycles release everything.
type ZMQ struct {
	ctx          *zmq.Context
	pub          *zmq.Socket
	pubMu        sync.Mutex
	info         Info
	replyTimeout time.Duration
	requests     chan Request
	stop         chan struct{}
	done         chan struct{}
	closeOnce    sync.Once
	closed       bool
	logger       *zap.Logger
}

var _ Transport = (*ZMQ)(nil)

// OpenZMQ binds the sockets. With encryption enabled a fresh CURVE keypair is
// generated and both sockets act as CURVE servers; if CURVE is not available
// nothing is bound.
func OpenZMQ(opts Options, logger *zap.Logger) (*ZMQ, error) {
	logger = logger.Named("zmq")
	if opts.EnableEncryption && !zmq.HasCurve() {
		return nil, fmt.Errorf("%w: libzmq built without CURVE", ErrEncryptionUnavailable)
	}

	var public, secret string
	if opts.EnableEncryption {
		var err error
		public, secret, err = zmq.NewCurveKeypair()
		if err != nil {
			return nil, fmt.Errorf("%w: generate keypair: %v", ErrEncryptionUnavailable, err)
		}
	}

	ctx, err := zmq.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create zmq context: %w", err)
	}
	t := &ZMQ{
		ctx:          ctx,
		replyTimeout: opts.ReplyTimeout,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		logger:       logger,
		info: Info{
			Kind:           "zmq",
			DataPort:       opts.DataPort,
			DataEndpoint:   fmt.Sprintf("tcp://%s:%d", opts.BindHost, opts.DataPort),
			CurveEnabled:   opts.EnableEncryption,
			CurvePublicKey: public,
		},
	}

	t.pub, err = t.bind(zmq.PUB, t.info.DataEndpoint, secret)
	if err != nil {
		ctx.Term()
		return nil, fmt.Errorf("bind publisher: %w", err)
	}

	if !opts.EnableCommands {
		close(t.done)
		logger.Info("Publisher bound", zap.String("endpoint", t.info.DataEndpoint), zap.Bool("curve", opts.EnableEncryption))
		return t, nil
	}

	t.info.CommandPort = opts.CommandPort
	t.info.CommandEndpoint = fmt.Sprintf("tcp://%s:%d", opts.BindHost, opts.CommandPort)
	rep, err := t.bind(zmq.REP, t.info.CommandEndpoint, secret)
	if err != nil {
		t.pub.Unbind(t.info.DataEndpoint)
		t.pub.Close()
		ctx.Term()
		return nil, fmt.Errorf("bind command socket: %w", err)
	}
	t.requests = make(chan Request)
	go t.serve(rep)

	logger.Info("Transport bound",
		zap.String("data", t.info.DataEndpoint),
		zap.String("command", t.info.CommandEndpoint),
		zap.Bool("curve", opts.EnableEncryption))
	return t, nil
}

func (t *ZMQ) bind(kind zmq.Type, endpoint, secret string) (*zmq.Socket, error) {
	sock, err := t.ctx.NewSocket(kind)
	if err != nil {
		return nil, err
	}
	if err := sock.SetLinger(0); err != nil {
		sock.Close()
		return nil, err
	}
	if secret != "" {
		if err := sock.SetCurveServer(1); err != nil {
			sock.Close()
			return nil, fmt.Errorf("%w: %v", ErrEncryptionUnavailable, err)
		}
		if err := sock.SetCurveSecretkey(secret); err != nil {
			sock.Close()
			return nil, fmt.Errorf("%w: %v", ErrEncryptionUnavailable, err)
		}
	}
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		return nil, err
	}
	return sock, nil
}

// Publish implements Transport. The topic is the first frame.
func (t *ZMQ) Publish(topic wire.Topic, payload []byte) error {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if _, err := t.pub.SendMessageDontwait(string(topic), payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Requests implements Transport.
func (t *ZMQ) Requests() <-chan Request { return t.requests }

// Info implements Transport.
func (t *ZMQ) Info() Info { return t.info }

// serve owns the REP socket for its whole life, including closing it.
func (t *ZMQ) serve(rep *zmq.Socket) {
	defer close(t.done)
	defer func() {
		rep.Unbind(t.info.CommandEndpoint)
		rep.Close()
	}()

	poller := zmq.NewPoller()
	poller.Add(rep, zmq.POLLIN)
	for {
		select {
		case <-t.stop:
			return
		default:
		}

		polled, err := poller.Poll(commandPollInterval)
		if err != nil {
			if zmq.AsErrno(err) == zmq.ETERM {
				return
			}
			t.logger.Warn("Command poll failed", zap.Error(err))
			continue
		}
		if len(polled) == 0 {
			continue
		}

		body, err := rep.RecvBytes(0)
		if err != nil {
			t.logger.Warn("Command receive failed", zap.Error(err))
			continue
		}
		reply := dispatch(t.requests, t.stop, body, t.replyTimeout)
		if _, err := rep.SendBytes(reply, 0); err != nil {
			t.logger.Warn("Command reply failed", zap.Error(err))
		}
	}
}

// Close implements Transport.
func (t *ZMQ) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		<-t.done

		t.pubMu.Lock()
		t.closed = true
		t.pub.Unbind(t.info.DataEndpoint)
		if cerr := t.pub.Close(); cerr != nil {
			err = fmt.Errorf("close publisher: %w", cerr)
		}
		t.pubMu.Unlock()

		if terr := t.ctx.Term(); terr != nil && err == nil {
			err = fmt.Errorf("terminate context: %w", terr)
		}
		t.logger.Info("Transport closed")
	})
	return err
}
