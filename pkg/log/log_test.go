package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitJSONOutputWritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	WithComponent("coap").Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"component":"coap"`)
	assert.Contains(t, out, `"message":"hello"`)
}

func TestInitConsoleOutputDoesNotPanic(t *testing.T) {
	var buf bytes.Buffer
	assert.NotPanics(t, func() {
		Init(Config{Level: InfoLevel, JSONOutput: false, Output: &buf})
		WithComponent("engine").Warn().Msg("careful")
	})
	assert.True(t, strings.Contains(buf.String(), "careful"))
}
