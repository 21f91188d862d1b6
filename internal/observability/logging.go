// Package observability is the assistant process's own diagnostic
// logger — startup, shutdown, and wiring-failure messages that happen
// before or outside of any one conversation turn. Domain events (tool
// calls, completion requests) go through the router's logging.Sink
// instead; this package exists so the process itself has somewhere to
// report when a provider, an MCP server, or the router fails to start.
package observability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger wraps slog with request correlation and secret redaction, so
// a stray API key in an error string never reaches stdout verbatim.
//
// Example:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "text",
//	})
//	ctx = observability.AddTurnID(ctx, turnID)
//	logger.Error(ctx, "mcp server failed to start", "server", name, "error", err)
type Logger struct {
	logger  *slog.Logger
	cfg     LogConfig
	redacts []*regexp.Regexp
}

// LogConfig configures one Logger.
type LogConfig struct {
	// Level is the minimum level emitted: "debug", "info", "warn", "error".
	Level string

	// Format is "json" (for shipping to a log collector) or "text"
	// (for a developer's terminal).
	Format string

	// Output defaults to os.Stdout.
	Output io.Writer

	// AddSource includes the file:line the log call came from.
	AddSource bool

	// RedactPatterns are extra regexes to scrub, appended to
	// DefaultRedactPatterns.
	RedactPatterns []string
}

// ContextKey namespaces the context keys this package reads and writes.
type ContextKey string

const (
	// TurnIDKey correlates every log line emitted while handling one
	// router turn.
	TurnIDKey ContextKey = "turn_id"

	// ConversationIDKey identifies the conversation a turn belongs to.
	ConversationIDKey ContextKey = "conversation_id"

	// UserIDKey identifies the human on the other end of a turn.
	UserIDKey ContextKey = "user_id"

	// EndpointKey identifies which LLM or MCP endpoint a log line
	// concerns (e.g. "llm:cloud", "mcp:fs").
	EndpointKey ContextKey = "endpoint"
)

// DefaultRedactPatterns scrub the secrets this process handles most:
// provider API keys (passed straight through to the LLM Gateway) and
// bearer tokens MCP servers may echo back in error bodies.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["\']?([a-zA-Z0-9_\-]{16,})["\']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["\']?([^\s"']{8,})["\']?`,

	// Anthropic API keys.
	`sk-ant-[a-zA-Z0-9_-]{95,}`,

	// OpenAI-shaped API keys.
	`sk-[a-zA-Z0-9]{48,}`,

	// JWTs.
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,

	// Generic hex secrets.
	`(?i)(secret|key|token)[\s:=]+["\']?([a-fA-F0-9]{32,})["\']?`,
}

// NewLogger builds a Logger from cfg, applying defaults for any zero
// fields (Output -> os.Stdout, Level -> "info", Format -> "json").
func NewLogger(cfg LogConfig) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	patterns := append(append([]string{}, DefaultRedactPatterns...), cfg.RedactPatterns...)
	redacts := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{
		logger:  slog.New(handler),
		cfg:     cfg,
		redacts: redacts,
	}
}

// MustNewLogger is NewLogger for a startup path with no good recovery
// from a nil logger.
func MustNewLogger(cfg LogConfig) *Logger {
	logger := NewLogger(cfg)
	if logger == nil {
		panic("observability: failed to build logger")
	}
	return logger
}

// WithContext returns a Logger that stamps every subsequent record
// with whichever of turn_id/conversation_id/user_id/endpoint are set
// on ctx, without the caller repeating them on each call.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	attrs := contextAttrs(ctx)
	if len(attrs) == 0 {
		return l
	}

	anyAttrs := make([]any, len(attrs))
	for i, attr := range attrs {
		anyAttrs[i] = attr
	}

	return &Logger{
		logger:  l.logger.With(slog.Group("turn", anyAttrs...)),
		cfg:     l.cfg,
		redacts: l.redacts,
	}
}

// WithFields returns a Logger that includes args on every record it emits.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{
		logger:  l.logger.With(args...),
		cfg:     l.cfg,
		redacts: l.redacts,
	}
}

// Debug logs at debug level.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// Info logs at info level.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs at error level. Pass the failing error as one of args and
// its message is redacted the same as any other field.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	msg = l.redactString(msg)

	redacted := make([]any, len(args))
	for i, arg := range args {
		redacted[i] = l.redactValue(arg)
	}

	attrs := make([]any, 0, len(redacted)+8)
	for _, a := range contextAttrs(ctx) {
		attrs = append(attrs, a.Key, a.Value.String())
	}
	attrs = append(attrs, redacted...)

	l.logger.Log(ctx, level, msg, attrs...)
}

// contextAttrs reads the well-known correlation keys off ctx.
func contextAttrs(ctx context.Context) []slog.Attr {
	attrs := make([]slog.Attr, 0, 4)

	if v, ok := ctx.Value(TurnIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("turn_id", v))
	}
	if v, ok := ctx.Value(ConversationIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("conversation_id", v))
	}
	if v, ok := ctx.Value(UserIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("user_id", v))
	}
	if v, ok := ctx.Value(EndpointKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("endpoint", v))
	}
	return attrs
}

// redactValue applies redaction to a logged value, recursing into
// maps and falling back to a JSON round-trip for arbitrary structs.
func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		return l.redactString(val.Error())
	case []byte:
		return l.redactString(string(val))
	case map[string]any:
		return l.redactMap(val)
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, v := range val {
			m[k] = v
		}
		return l.redactMap(m)
	default:
		if b, err := json.Marshal(v); err == nil {
			return l.redactString(string(b))
		}
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

var sensitiveFieldNames = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"private_key":   true,
	"privatekey":    true,
	"auth":          true,
	"authorization": true,
}

func (l *Logger) redactMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		key := strings.ToLower(strings.ReplaceAll(k, "-", "_"))
		if sensitiveFieldNames[key] {
			result[k] = "[REDACTED]"
		} else {
			result[k] = l.redactValue(v)
		}
	}
	return result
}

// AddTurnID stamps ctx with the router turn id a downstream log call
// should be correlated to.
func AddTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, TurnIDKey, turnID)
}

// AddConversationID stamps ctx with the conversation a turn belongs to.
func AddConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, conversationID)
}

// AddUserID stamps ctx with the user driving a turn.
func AddUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// AddEndpoint stamps ctx with the LLM or MCP endpoint a log line concerns.
func AddEndpoint(ctx context.Context, endpoint string) context.Context {
	return context.WithValue(ctx, EndpointKey, endpoint)
}

// GetTurnID reads back the turn id AddTurnID stamped onto ctx, if any.
func GetTurnID(ctx context.Context) string {
	if v, ok := ctx.Value(TurnIDKey).(string); ok {
		return v
	}
	return ""
}

// GetConversationID reads back the conversation id, if any.
func GetConversationID(ctx context.Context) string {
	if v, ok := ctx.Value(ConversationIDKey).(string); ok {
		return v
	}
	return ""
}

// parseLevel maps a config string to a slog.Level, defaulting to info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogLevelFromString is parseLevel exported for callers (config
// validation, CLI flags) that need to resolve a level string without
// building a full Logger.
func LogLevelFromString(s string) slog.Level {
	return parseLevel(s)
}
