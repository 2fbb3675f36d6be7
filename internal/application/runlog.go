package application

import (
	"context"
	"log/slog"
	"sync"
	"unicode/utf8"
)

// maxOutput is the number of trailing characters of run diagnostics kept.
const maxOutput = 500

// MaxErrorText is the number of trailing characters of an error message
// reported to clients.
const MaxErrorText = 500

// TrimErrorText keeps the last MaxErrorText characters of msg. The most
// recent failure is wrapped last, so the tail carries it.
func TrimErrorText(msg string) string {
	if utf8.RuneCountInString(msg) <= MaxErrorText {
		return msg
	}
	r := []rune(msg)
	return string(r[len(r)-MaxErrorText:])
}

// tailBuffer is an io.Writer keeping only the last limit runes written.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []rune
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, []rune(string(p))...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// teeHandler sends every record to both handlers.
type teeHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func newTeeHandler(primary, secondary slog.Handler) *teeHandler {
	return &teeHandler{primary: primary, secondary: secondary}
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.primary.Enabled(ctx, r.Level) {
		err = h.primary.Handle(ctx, r.Clone())
	}
	if h.secondary.Enabled(ctx, r.Level) {
		if serr := h.secondary.Handle(ctx, r); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{primary: h.primary.WithAttrs(attrs), secondary: h.secondary.WithAttrs(attrs)}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{primary: h.primary.WithGroup(name), secondary: h.secondary.WithGroup(name)}
}

// newRunLogger returns a logger that writes to base and to a fresh tail
// buffer holding the run's diagnostics. The tail omits timestamps.
func newRunLogger(base *slog.Logger) (*slog.Logger, *tailBuffer) {
	tail := newTailBuffer(maxOutput)
	text := slog.NewTextHandler(tail, &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})
	return slog.New(newTeeHandler(base.Handler(), text)), tail
}
