package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rainbow-me/ctxfields/common/fields"
	"github.com/rainbow-me/ctxfields/common/logger"
)

// NewLogger returns a logger that only prints if a test fails
func NewLogger(t *testing.T) *logger.Logger {
	return logger.NewLogger(zaptest.NewLogger(t))
}

// Context returns a context carrying the test logger.
func Context(t *testing.T) context.Context {
	return logger.ContextWithLogger(context.Background(), *NewLogger(t))
}

// NewConfig parses and validates a field document, failing the test on error.
func NewConfig(t *testing.T, doc string) *fields.Config {
	t.Helper()
	cfg, err := fields.Parse([]byte(doc))
	require.NoError(t, err)
	return cfg
}
