package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// capture points the global logger at a buffer and restores it afterwards.
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	prev := Logger
	buf := &bytes.Buffer{}
	Logger = zerolog.New(buf)
	t.Cleanup(func() { Logger = prev })
	return buf
}

func TestWithComponentEmitsField(t *testing.T) {
	buf := capture(t)

	log := WithComponent("partition")
	log.Info().Msg("hello")

	assert.Contains(t, buf.String(), `"component":"partition"`)
	assert.Contains(t, buf.String(), `"message":"hello"`)
}

func TestWithTriggerEmitsScope(t *testing.T) {
	buf := capture(t)

	log := WithTrigger("t1", "tr1")
	log.Warn().Msg("scoped")

	assert.Contains(t, buf.String(), `"tenant_id":"t1"`)
	assert.Contains(t, buf.String(), `"trigger_id":"tr1"`)
}

func TestWithRequestIDEmitsField(t *testing.T) {
	buf := capture(t)

	log := WithRequestID("abc-123")
	log.Error().Msg("boom")

	assert.Contains(t, buf.String(), `"request_id":"abc-123"`)
}
