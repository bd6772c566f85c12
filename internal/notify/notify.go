// Package notify delivers run completion events over socket.io.
//
// Compute nodes publish an Event when execute-run finishes; the submitting
// process keeps a Listener connected to the same server so it can collect
// finished runs without waiting for the scheduler's accounting to catch up.
package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/vk/labgrid/internal/config"
	"github.com/vk/labgrid/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// DefaultEvent is the event name used when none is configured.
const DefaultEvent = "run_completed"

const (
	connectTimeout = 15 * time.Second
	ackTimeout     = 10 * time.Second
)

// Event announces that a run reached a terminal state.
type Event struct {
	RunID   string `json:"run_id"`
	JobID   string `json:"job_id,omitempty"`
	Outcome string `json:"outcome,omitempty"`
}

func eventName(cfg config.Notifier) string {
	if cfg.Event == "" {
		return DefaultEvent
	}
	return cfg.Event
}

// dial connects a socket.io client and waits for the connection to be
// established.
func dial(ctx context.Context, cfg config.Notifier) (*socket.Socket, error) {
	logger := ctxlog.FromContext(ctx).With("notifier", cfg.URL)

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	opts := socket.DefaultOptions()
	if cfg.Path != "" {
		opts.SetPath(cfg.Path)
	} else if u.Path != "" {
		opts.SetPath(u.Path)
	}
	if cfg.Insecure {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connected := make(chan error, 1)
	manager := socket.NewManager(fmt.Sprintf("%s://%s", u.Scheme, u.Host), opts)
	io := manager.Socket(cfg.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Debug("Connected to notifier.", "sid", io.Id())
		connected <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		connected <- err
	})
	io.Connect()

	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return io, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, ctx.Err()
	case <-time.After(connectTimeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", connectTimeout)
	}
}

// Publish connects, emits ev and disconnects once the server has
// acknowledged the event.
func Publish(ctx context.Context, cfg config.Notifier, ev Event) error {
	io, err := dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer io.Disconnect()

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	emit := func(name string, args ...any) { io.Emit(name, args...) }
	return emitAcked(ctx, emit, eventName(cfg), payload, ackTimeout)
}

// emitAcked emits payload with an acknowledgement callback and waits for it.
func emitAcked(ctx context.Context, emit func(string, ...any), name string, payload any, timeout time.Duration) error {
	acked := make(chan error, 1)
	emit(name, payload, socket.Ack(func(_ []any, err error) {
		acked <- err
	}))

	select {
	case err := <-acked:
		if err != nil {
			return fmt.Errorf("event %s not acknowledged: %w", name, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("timed out after %s waiting for acknowledgement of %s", timeout, name)
	}
}

// Listener collects completion events.
type Listener struct {
	logger *slog.Logger
	io     *socket.Socket

	mu   sync.Mutex
	done map[string]Event
}

// Listen connects to the notifier and starts collecting events.
func Listen(ctx context.Context, cfg config.Notifier) (*Listener, error) {
	io, err := dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	l := newListener(ctxlog.FromContext(ctx))
	l.io = io
	io.On(types.EventName(eventName(cfg)), l.handle)
	return l, nil
}

func newListener(logger *slog.Logger) *Listener {
	return &Listener{logger: logger, done: make(map[string]Event)}
}

func (l *Listener) handle(data ...any) {
	if len(data) == 0 {
		l.logger.Warn("Ignoring completion event without payload.")
		return
	}
	ev, err := Decode(data[0])
	if err != nil {
		l.logger.Warn("Ignoring malformed completion event.", "error", err)
		return
	}
	l.mu.Lock()
	l.done[ev.RunID] = ev
	l.mu.Unlock()
	l.logger.Debug("Run completion received.", "run", ev.RunID, "outcome", ev.Outcome)
}

// Completed returns the event received for runID, if any.
func (l *Listener) Completed(runID string) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev, ok := l.done[runID]
	return ev, ok
}

// Close disconnects from the notifier.
func (l *Listener) Close() error {
	if l.io != nil {
		l.io.Disconnect()
	}
	return nil
}

// Decode converts an event payload as delivered by socket.io (a decoded JSON
// object, or raw JSON text) into an Event.
func Decode(payload any) (Event, error) {
	var raw []byte
	switch v := payload.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		var err error
		if raw, err = json.Marshal(v); err != nil {
			return Event{}, fmt.Errorf("encoding payload: %w", err)
		}
	}
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("decoding payload: %w", err)
	}
	if ev.RunID == "" {
		return Event{}, errors.New("payload has no run_id")
	}
	return ev, nil
}
