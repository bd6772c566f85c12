package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/labgrid/internal/config"
	"github.com/vk/labgrid/internal/testutil"
	"github.com/zishang520/socket.io-client-go/socket"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		name    string
		payload any
		want    Event
		wantErr string
	}{
		{
			name:    "decoded object",
			payload: map[string]any{"run_id": "a/d/p", "job_id": "17", "outcome": "success"},
			want:    Event{RunID: "a/d/p", JobID: "17", Outcome: "success"},
		},
		{
			name:    "json text",
			payload: `{"run_id":"a/d/p","outcome":"oom"}`,
			want:    Event{RunID: "a/d/p", Outcome: "oom"},
		},
		{
			name:    "raw bytes",
			payload: []byte(`{"run_id":"x"}`),
			want:    Event{RunID: "x"},
		},
		{name: "missing run id", payload: map[string]any{"outcome": "success"}, wantErr: "no run_id"},
		{name: "not json", payload: "nope", wantErr: "decoding payload"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(tc.payload)
			if tc.wantErr != "" {
				assert.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestListenerCollectsEvents(t *testing.T) {
	logger, logs := testutil.NewLogger(t)
	l := newListener(logger)

	l.handle(map[string]any{"run_id": "a", "outcome": "timeout"})
	l.handle()
	l.handle("garbage")

	ev, ok := l.Completed("a")
	require.True(t, ok)
	assert.Equal(t, "timeout", ev.Outcome)
	_, ok = l.Completed("b")
	assert.False(t, ok)
	assert.Contains(t, logs.String(), "Ignoring malformed completion event.")
	assert.NoError(t, l.Close())
}

func TestEventName(t *testing.T) {
	assert.Equal(t, DefaultEvent, eventName(config.Notifier{}))
	assert.Equal(t, "done", eventName(config.Notifier{Event: "done"}))
}

func TestDialFailsFast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Listen(ctx, config.Notifier{URL: "http://127.0.0.1:1"})
	assert.Error(t, err)

	_, err = Listen(ctx, config.Notifier{URL: "://bad"})
	assert.ErrorContains(t, err, "failed to parse URL")
}

// fakeEmitter records emitted events and answers acknowledgements with reply.
type fakeEmitter struct {
	names []string
	reply func(socket.Ack)
}

func (f *fakeEmitter) emit(name string, args ...any) {
	f.names = append(f.names, name)
	ack, ok := args[len(args)-1].(socket.Ack)
	if ok && f.reply != nil {
		go f.reply(ack)
	}
}

func TestEmitAcked(t *testing.T) {
	payload := map[string]any{"run_id": "a/d/p"}

	t.Run("acknowledged", func(t *testing.T) {
		f := &fakeEmitter{reply: func(ack socket.Ack) { ack([]any{"ok"}, nil) }}
		require.NoError(t, emitAcked(context.Background(), f.emit, "done", payload, time.Second))
		assert.Equal(t, []string{"done"}, f.names)
	})

	t.Run("rejected", func(t *testing.T) {
		f := &fakeEmitter{reply: func(ack socket.Ack) { ack(nil, errors.New("disconnected")) }}
		err := emitAcked(context.Background(), f.emit, "done", payload, time.Second)
		assert.ErrorContains(t, err, "event done not acknowledged: disconnected")
	})

	t.Run("never acknowledged", func(t *testing.T) {
		f := &fakeEmitter{}
		err := emitAcked(context.Background(), f.emit, "done", payload, 20*time.Millisecond)
		assert.ErrorContains(t, err, "timed out after 20ms waiting for acknowledgement of done")
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := emitAcked(ctx, (&fakeEmitter{}).emit, "done", payload, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
