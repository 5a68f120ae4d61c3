package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"hedge-sync-go/internal/wire"
)

// File names used by the file transport inside its directory.
const (
	EventsFile   = "events.log"
	RequestFile  = "command.req"
	ResponseFile = "command.res"
)

// defaultFileMaxBytes applies when Options.FileMaxBytes is unset.
const defaultFileMaxBytes = 16 << 20

// File appends "TOPIC <json>" lines to an events file and answers commands
// dropped into a request file by writing a response file. It serves hosts
// that cannot open sockets. Once the events file passes maxBytes it is moved
// to events.log.1, replacing the previous generation.
type File struct {
	dir          string
	path         string
	f            *os.File
	w            *bufio.Writer
	size         int64
	maxBytes     int64
	mu           sync.Mutex
	closed       bool
	closeOnce    sync.Once
	info         Info
	replyTimeout time.Duration
	requests     chan Request
	stop         chan struct{}
	done         chan struct{}
	logger       *zap.Logger
}

var _ Transport = (*File)(nil)

// OpenFile prepares the directory and starts the request poller.
func OpenFile(opts Options, logger *zap.Logger) (*File, error) {
	if opts.EnableEncryption {
		return nil, fmt.Errorf("%w: file transport has no encryption", ErrEncryptionUnavailable)
	}
	if err := os.MkdirAll(opts.FileDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir transport dir: %w", err)
	}
	path := filepath.Join(opts.FileDir, EventsFile)
	f, size, err := openEvents(path)
	if err != nil {
		return nil, err
	}
	maxBytes := opts.FileMaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultFileMaxBytes
	}

	t := &File{
		dir:          opts.FileDir,
		path:         path,
		f:            f,
		w:            bufio.NewWriter(f),
		size:         size,
		maxBytes:     maxBytes,
		replyTimeout: opts.ReplyTimeout,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		logger:       logger.Named("file"),
		info:         Info{Kind: "file", DataEndpoint: "file://" + path},
	}
	if opts.EnableCommands {
		t.info.CommandEndpoint = "file://" + filepath.Join(opts.FileDir, RequestFile)
		t.requests = make(chan Request)
		go t.serve()
	} else {
		close(t.done)
	}
	return t, nil
}

// Publish implements Transport. Each message is flushed as one line.
func (t *File) Publish(topic wire.Topic, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.size >= t.maxBytes {
		if err := t.rotate(); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	}
	t.w.WriteString(string(topic))
	t.w.WriteByte(' ')
	t.w.Write(payload)
	t.w.WriteByte('\n')
	if err := t.w.Flush(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	t.size += int64(len(topic) + len(payload) + 2)
	return nil
}

// rotate moves the full events file aside and starts a new one. Caller holds mu.
func (t *File) rotate() error {
	if err := t.f.Close(); err != nil {
		return fmt.Errorf("close events file: %w", err)
	}
	if err := os.Rename(t.path, t.path+".1"); err != nil {
		t.logger.Warn("Rotate events file failed, truncating", zap.Error(err))
		if err := os.Truncate(t.path, 0); err != nil {
			return fmt.Errorf("truncate events file: %w", err)
		}
	}
	f, size, err := openEvents(t.path)
	if err != nil {
		return err
	}
	t.f = f
	t.w.Reset(f)
	t.size = size
	t.logger.Info("Events file rotated", zap.String("path", t.path), zap.Int64("max_bytes", t.maxBytes))
	return nil
}

func openEvents(path string) (*os.File, int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("open events file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat events file: %w", err)
	}
	return f, st.Size(), nil
}

// Requests implements Transport.
func (t *File) Requests() <-chan Request { return t.requests }

// Info implements Transport.
func (t *File) Info() Info { return t.info }

func (t *File) serve() {
	defer close(t.done)
	ticker := time.NewTicker(commandPollInterval)
	defer ticker.Stop()

	reqPath := filepath.Join(t.dir, RequestFile)
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
		}

		body, err := os.ReadFile(reqPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				t.logger.Warn("Read request failed", zap.Error(err))
			}
			continue
		}
		if err := os.Remove(reqPath); err != nil {
			t.logger.Warn("Remove request failed", zap.Error(err))
		}
		body = bytes.TrimSpace(body)
		if len(body) == 0 {
			continue
		}

		reply := dispatch(t.requests, t.stop, body, t.replyTimeout)
		if err := writeAtomic(filepath.Join(t.dir, ResponseFile), reply); err != nil {
			t.logger.Warn("Write response failed", zap.Error(err))
		}
	}
}

// Close implements Transport.
func (t *File) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		<-t.done

		t.mu.Lock()
		defer t.mu.Unlock()
		t.closed = true
		if ferr := t.w.Flush(); ferr != nil {
			err = fmt.Errorf("flush events file: %w", ferr)
		}
		if cerr := t.f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
