package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Msg("test message")

	assert.Contains(t, buf.String(), "test message")
}

func TestNewHonorsLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")

	log := New()
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())
}

func TestNewIgnoresInvalidLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "loud")

	log := New()
	assert.NotEqual(t, zerolog.Disabled, log.GetLevel())
}

func TestContextRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	testLog := NewWithWriter(buf)
	ctx := WithContext(context.Background(), testLog)

	ctxLog := FromContext(ctx)
	ctxLog.Info().Msg("from context")

	assert.Contains(t, buf.String(), "from context")
}

func TestFromContextDefault(t *testing.T) {
	log := FromContext(context.Background())
	assert.NotEqual(t, zerolog.Disabled, log.GetLevel())
}
