package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Config controls logger construction.
type Config struct {
	Level  string
	Pretty bool
}

type requestIDKey struct{}

var _logger = NewTmpLogger()

func NewLogger(cfg Config) (*zap.Logger, error) {
	var c zap.Config
	var opts []zap.Option
	if cfg.Pretty {
		c = zap.NewDevelopmentConfig()
		opts = append(opts, zap.AddStacktrace(zap.ErrorLevel))
	} else {
		c = zap.NewProductionConfig()
	}

	level := zap.NewAtomicLevel()

	levelName := "INFO"
	if cfg.Level != "" {
		levelName = cfg.Level
	}

	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return nil, fmt.Errorf("could not parse log level %s", cfg.Level)
	}
	c.Level = level

	return c.Build(opts...)
}

func InitLogger(cfg Config) (err error) {
	_logger, err = NewLogger(cfg)
	return err
}

func NewTmpLogger() *zap.Logger {
	c := zap.NewProductionConfig()
	c.DisableStacktrace = true
	l, err := c.Build()
	if err != nil {
		panic(err)
	}
	return l
}

// WithRequestID stores the request id on the context so Logger picks it
// up further down the call chain.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Logger Return new logger with context value
// ctx:  nillable
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return _logger
	}
	return injectXRequestID(_logger, ctx)
}

func injectXRequestID(logger *zap.Logger, ctx context.Context) *zap.Logger {
	requestID, ok := ctx.Value(requestIDKey{}).(string)
	if !ok || requestID == "" {
		return logger
	}
	return logger.With(zap.String("x_request_id", requestID))
}
