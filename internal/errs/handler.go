package errs

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notifier shows a message to the user.
type Notifier interface {
	Notify(level Level, message string)
}

// Reporter forwards handled errors to an external sink.
type Reporter interface {
	Report(ctx context.Context, r Report)
}

type Report struct {
	ID        string    `json:"id,omitempty"`
	Context   string    `json:"context,omitempty"`
	Message   string    `json:"message"`
	Error     string    `json:"error"`
	Stack     string    `json:"stack,omitempty"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Options struct {
	// Context names the operation, e.g. "delete test case".
	Context string
	// Notify shows the translated message; callers that print their own text leave it off.
	Notify bool
}

// Handler is the central error-handling service.
type Handler struct {
	logger     *zap.Logger
	notifier   Notifier
	reporter   Reporter
	production bool
	version    string
}

func NewHandler(logger *zap.Logger, notifier Notifier, reporter Reporter, production bool) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger:     logger,
		notifier:   notifier,
		reporter:   reporter,
		production: production,
	}
}

func (h *Handler) SetVersion(v string) {
	h.version = v
}

// Handle logs err, reports it in production, optionally notifies, and returns
// the translated message.
func (h *Handler) Handle(err error, opts Options) string {
	if err == nil {
		return ""
	}
	msg := Translate(err)

	fields := []zap.Field{zap.Error(err), zap.String("display", msg)}
	if opts.Context != "" {
		fields = append(fields, zap.String("context", opts.Context))
	}
	if h.production {
		h.logger.Error("operation failed", fields...)
		if h.reporter != nil {
			h.reporter.Report(context.Background(), Report{
				Context:   opts.Context,
				Message:   msg,
				Error:     err.Error(),
				Version:   h.version,
				Timestamp: time.Now(),
			})
		}
	} else {
		h.logger.Debug("operation failed", fields...)
	}

	if opts.Notify {
		h.notify(LevelForError(err), msg)
	}
	return msg
}

func (h *Handler) notify(level Level, msg string) {
	if h.notifier != nil {
		h.notifier.Notify(level, msg)
	}
}

// LevelForError picks warning for transient failures and error for permanent ones.
func LevelForError(err error) Level {
	if IsTransient(err) {
		return LevelWarning
	}
	return LevelError
}

var (
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

// WriterNotifier prints notifications to a terminal stream.
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

func (n *WriterNotifier) Notify(level Level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch level {
	case LevelInfo:
		fmt.Fprintln(n.w, infoStyle.Render("ℹ "+message))
	case LevelWarning:
		fmt.Fprintln(n.w, warningStyle.Render("⚠ "+message+"（可重试）"))
	default:
		fmt.Fprintln(n.w, errorStyle.Render("✗ "+message))
	}
}

// LogReporter is the placeholder external sink: it records reports in the log.
type LogReporter struct {
	Logger *zap.Logger
}

func (r LogReporter) Report(ctx context.Context, rep Report) {
	if r.Logger == nil {
		return
	}
	r.Logger.Info("error report",
		zap.String("id", rep.ID),
		zap.String("context", rep.Context),
		zap.String("message", rep.Message),
		zap.String("error", rep.Error),
		zap.String("version", rep.Version),
		zap.Time("timestamp", rep.Timestamp),
	)
}
