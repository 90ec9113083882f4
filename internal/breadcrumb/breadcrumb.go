// Package breadcrumb records lightweight diagnostic trails for security flows.
// Breadcrumbs are write-only context: recorders never return errors and
// recording never blocks the calling operation.
package breadcrumb

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/plateful/doorman/internal/logging"
)

// Crumb is a single breadcrumb entry.
type Crumb struct {
	Category  string         `json:"category"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Recorder accepts breadcrumbs. Implementations must be safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, category, message string, data map[string]any)
}

// SlogRecorder writes breadcrumbs to the structured log at debug level,
// with user-supplied data redacted.
type SlogRecorder struct{}

// NewSlogRecorder creates a log-backed recorder.
func NewSlogRecorder() *SlogRecorder {
	return &SlogRecorder{}
}

func (r *SlogRecorder) Record(ctx context.Context, category, message string, data map[string]any) {
	logging.L(ctx).LogAttrs(ctx, slog.LevelDebug, "breadcrumb",
		slog.String("category", category),
		slog.String("message", message),
		logging.Redacted("data", data),
	)
}

// MemoryRecorder keeps the most recent breadcrumbs in a ring buffer.
// Used in tests and by the diagnostics endpoint.
type MemoryRecorder struct {
	mu     sync.Mutex
	crumbs []Crumb
	max    int
}

// NewMemoryRecorder creates a recorder that retains up to max entries.
func NewMemoryRecorder(max int) *MemoryRecorder {
	if max <= 0 {
		max = 100
	}
	return &MemoryRecorder{max: max}
}

func (r *MemoryRecorder) Record(ctx context.Context, category, message string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.crumbs = append(r.crumbs, Crumb{
		Category:  category,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	})
	if len(r.crumbs) > r.max {
		r.crumbs = r.crumbs[len(r.crumbs)-r.max:]
	}
}

// Crumbs returns a copy of the retained breadcrumbs, oldest first.
func (r *MemoryRecorder) Crumbs() []Crumb {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Crumb, len(r.crumbs))
	copy(out, r.crumbs)
	return out
}
