package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type batchScopeKey struct{}

func NewLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

// BatchScope names the batch submission, and optionally the chunk, a unit of work belongs to.
type BatchScope struct {
	Token    string
	IssuerID string
	// Chunk is the 0-based chunk index, or -1 for work on the batch as a whole.
	Chunk int
}

// WithBatch scopes ctx to one batch submission.
func WithBatch(ctx context.Context, token, issuerID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, batchScopeKey{}, BatchScope{Token: token, IssuerID: issuerID, Chunk: -1})
}

// WithChunk narrows the batch scope of ctx to one chunk. A ctx without a batch scope is
// returned unchanged.
func WithChunk(ctx context.Context, index int) context.Context {
	scope, ok := BatchScopeFromContext(ctx)
	if !ok || index < 0 {
		return ctx
	}

	scope.Chunk = index
	return context.WithValue(ctx, batchScopeKey{}, scope)
}

func BatchScopeFromContext(ctx context.Context) (BatchScope, bool) {
	if ctx == nil {
		return BatchScope{}, false
	}

	scope, ok := ctx.Value(batchScopeKey{}).(BatchScope)
	if !ok || scope.Token == "" {
		return BatchScope{}, false
	}

	return scope, true
}

// WithContextLogger adds the batch token, issuer and chunk carried by ctx to logger.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	scope, ok := BatchScopeFromContext(ctx)
	if !ok {
		return logger
	}

	fields := []zap.Field{zap.String("batchToken", scope.Token)}
	if scope.IssuerID != "" {
		fields = append(fields, zap.String("issuerId", scope.IssuerID))
	}
	if scope.Chunk >= 0 {
		fields = append(fields, zap.Int("chunk", scope.Chunk))
	}
	return logger.With(fields...)
}
