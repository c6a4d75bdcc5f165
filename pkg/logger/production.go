package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// Options configures a ProductionLogger.
type Options struct {
	// Level is the minimum level: debug, info, warn or error. Default info.
	Level string
	// Format is "json" or "text". Default is DefaultFormat().
	Format string
	// Output defaults to os.Stdout.
	Output io.Writer
	// ServiceName is attached to every record as "service" when set.
	ServiceName string
}

// ProductionLogger implements ComponentAwareLogger on top of log/slog.
type ProductionLogger struct {
	logger    *slog.Logger
	component string
}

// NewProductionLogger creates a logger from opts.
func NewProductionLogger(opts Options) *ProductionLogger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	format := opts.Format
	if format == "" {
		format = DefaultFormat()
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	l := slog.New(handler)
	if opts.ServiceName != "" {
		l = l.With(slog.String("service", opts.ServiceName))
	}
	return &ProductionLogger{logger: l}
}

// DefaultFormat returns "json" inside Kubernetes and "text" elsewhere.
func DefaultFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	return "text"
}

// ParseLevel maps a level name to a slog level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.log(slog.LevelInfo, msg, fields)
}

func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	l.log(slog.LevelError, msg, fields)
}

func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(slog.LevelWarn, msg, fields)
}

func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(slog.LevelDebug, msg, fields)
}

// WithComponent returns a child logger whose records carry component.
func (l *ProductionLogger) WithComponent(component string) Logger {
	return &ProductionLogger{
		logger:    l.logger.With(slog.String("component", component)),
		component: component,
	}
}

func (l *ProductionLogger) log(level slog.Level, msg string, fields map[string]interface{}) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}

	// Sorted so text output is stable between runs.
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		v := fields[k]
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.LogAttrs(ctx, level, msg, attrs...)
}
