package errs

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CrashError is returned by Boundary when the wrapped function panics.
type CrashError struct {
	ID    string
	Value any
	Stack string
	Time  time.Time
}

func (e *CrashError) Error() string {
	return fmt.Sprintf("unexpected failure (error id %s): %v", e.ID, e.Value)
}

// Diagnostics renders the text a user can copy into a bug report.
func (e *CrashError) Diagnostics(version string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Error ID: %s\n", e.ID)
	fmt.Fprintf(&sb, "Time:     %s\n", e.Time.Format(time.RFC3339))
	if version != "" {
		fmt.Fprintf(&sb, "Version:  %s\n", version)
	}
	fmt.Fprintf(&sb, "Message:  %v\n\n", e.Value)
	sb.WriteString(e.Stack)
	return sb.String()
}

// Boundary runs fn and converts a panic into a *CrashError with an opaque id.
// The crash is logged and, in production, sent to the reporter.
func (h *Handler) Boundary(fn func() error) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		crash := &CrashError{
			ID:    uuid.New().String(),
			Value: r,
			Stack: string(debug.Stack()),
			Time:  time.Now(),
		}
		h.logger.Error("recovered panic",
			zap.String("error_id", crash.ID),
			zap.Any("panic", r),
		)
		if h.production && h.reporter != nil {
			h.reporter.Report(context.Background(), Report{
				ID:        crash.ID,
				Message:   "unexpected failure",
				Error:     fmt.Sprint(r),
				Stack:     crash.Stack,
				Version:   h.version,
				Timestamp: crash.Time,
			})
		}
		err = crash
	}()
	return fn()
}
