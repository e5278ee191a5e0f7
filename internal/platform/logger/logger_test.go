package logger

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/fukkingsnow/arq-sub003/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		level string
	}{
		{"debug"},
		{"info"},
		{"warn"},
		{"error"},
	}

	for _, tc := range tests {
		t.Run(tc.level, func(t *testing.T) {
			log, err := Setup(config.ServerConfig{Port: 8080, LogLevel: tc.level})
			require.NoError(t, err)
			assert.NotNil(t, log)
		})
	}
}

func TestSetup_InvalidLevelFallsBackToInfo(t *testing.T) {
	log, err := Setup(config.ServerConfig{Port: 8080, LogLevel: "chatty"})
	require.NoError(t, err)

	assert.True(t, log.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, log.Enabled(context.Background(), slog.LevelDebug))
}

func TestFromContext(t *testing.T) {
	base := slog.New(slog.NewTextHandler(io.Discard, nil)).With("job_id", "j1")

	ctx := WithLogger(context.Background(), base)
	assert.Same(t, base, FromContext(ctx))

	// without a stored logger the process default applies
	assert.NotNil(t, FromContext(context.Background()))
}
