package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestInitWritesJSONOutsideDevelopment(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Environment: "production", Output: &buf})
	defer zerolog.SetGlobalLevel(zerolog.DebugLevel)

	log.Info().Msg("hidden")
	log.Warn().Str("card_id", "abc").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"card_id":"abc"`)
}

func TestFromContextPrefersRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	reqLogger := zerolog.New(&buf).With().Str("request_id", "r-1").Logger()
	ctx := reqLogger.WithContext(context.Background())

	FromContext(ctx).Info().Msg("hello")

	assert.Contains(t, buf.String(), `"request_id":"r-1"`)
	assert.NotNil(t, FromContext(context.Background()))
}
