// Package progress reports render progress to external observers.
//
// Observers are best-effort: they never return errors to the engine and
// a failing observer never stops a render. Failures are logged.
package progress

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gogpu/cedartoy"
)

// Kind identifies an event.
type Kind string

const (
	KindStart      Kind = "start"
	KindTile       Kind = "tile"
	KindFrameSaved Kind = "frame_saved"
	KindDone       Kind = "done"
	KindError      Kind = "error"
)

// Event is one progress notification.
type Event struct {
	Kind  Kind `json:"type"`
	Frame int  `json:"frame"`
	// Total is the number of frames in the run.
	Total   int           `json:"total"`
	Path    string        `json:"path,omitempty"`
	Eye     string        `json:"eye,omitempty"`
	Tile    int           `json:"tile,omitempty"`
	Tiles   int           `json:"tiles,omitempty"`
	Elapsed time.Duration `json:"-"`
	Message string        `json:"message,omitempty"`
}

// MarshalJSON encodes Elapsed in seconds.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	return json.Marshal(struct {
		plain
		Elapsed float64 `json:"elapsed"`
	}{plain(e), e.Elapsed.Seconds()})
}

// Observer receives progress events.
type Observer interface {
	Observe(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event)

// Observe calls f(ctx, e).
func (f ObserverFunc) Observe(ctx context.Context, e Event) { f(ctx, e) }

// Nop discards events.
var Nop Observer = ObserverFunc(func(context.Context, Event) {})

// Multi fans an event out to every observer in order.
type Multi []Observer

// Observe implements Observer.
func (m Multi) Observe(ctx context.Context, e Event) {
	for _, o := range m {
		o.Observe(ctx, e)
	}
}

// LogObserver writes events to a structured logger. Tile events are logged
// at Debug, errors at Error, the rest at Info.
type LogObserver struct {
	Logger *slog.Logger
}

// Observe implements Observer.
func (o LogObserver) Observe(ctx context.Context, e Event) {
	log := o.Logger
	if log == nil {
		log = cedartoy.Logger()
	}
	level := slog.LevelInfo
	switch e.Kind {
	case KindTile:
		level = slog.LevelDebug
	case KindError:
		level = slog.LevelError
	}
	attrs := []slog.Attr{slog.Int("frame", e.Frame), slog.Int("total", e.Total)}
	if e.Path != "" {
		attrs = append(attrs, slog.String("path", e.Path))
	}
	if e.Eye != "" {
		attrs = append(attrs, slog.String("eye", e.Eye))
	}
	if e.Tiles > 0 {
		attrs = append(attrs, slog.Int("tile", e.Tile), slog.Int("tiles", e.Tiles))
	}
	if e.Elapsed > 0 {
		attrs = append(attrs, slog.Duration("elapsed", e.Elapsed))
	}
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	log.LogAttrs(ctx, level, msg, attrs...)
}

// JSONObserver writes one JSON object per line. It is the event stream a
// supervising process reads from the CLI's stdout or stderr.
type JSONObserver struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONObserver returns an observer writing to w.
func NewJSONObserver(w io.Writer) *JSONObserver {
	return &JSONObserver{enc: json.NewEncoder(w)}
}

// Observe implements Observer.
func (o *JSONObserver) Observe(_ context.Context, e Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.enc.Encode(e); err != nil {
		cedartoy.Logger().Warn("progress: write json event", "error", err)
	}
}

// Publisher is the subset of a Redis client used by RedisObserver.
// *redis.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisObserver publishes JSON events on a Redis channel.
type RedisObserver struct {
	pub     Publisher
	channel string
	timeout time.Duration
}

// DefaultRedisTimeout bounds each PUBLISH.
const DefaultRedisTimeout = 2 * time.Second

// NewRedisObserver returns an observer publishing on channel.
func NewRedisObserver(pub Publisher, channel string) *RedisObserver {
	return &RedisObserver{pub: pub, channel: channel, timeout: DefaultRedisTimeout}
}

// Observe implements Observer.
func (o *RedisObserver) Observe(ctx context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		cedartoy.Logger().Warn("progress: encode event", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	if err := o.pub.Publish(ctx, o.channel, payload).Err(); err != nil {
		cedartoy.Logger().Warn("progress: redis publish failed", "channel", o.channel, "error", err)
	}
}
