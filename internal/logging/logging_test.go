package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseLevel(t *testing.T) {
	for _, in := range []string{"none", "debug", "INFO", " warn ", "error"} {
		_, err := ParseLevel(in)
		assert.NoError(t, err, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_Levels(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(LevelNone, &buf)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zap.ErrorLevel))

	l, err = New(LevelInfo, &buf)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.InfoLevel))
	assert.False(t, l.Core().Enabled(zap.DebugLevel))

	_, err = New("verbose", &buf)
	assert.Error(t, err)
}

func TestNew_WritesConsoleLines(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(LevelWarn, &buf)
	require.NoError(t, err)

	l.Info("quiet")
	l.Warn("publishing result failed", zap.String("fingerprint", "abc"))
	require.NoError(t, l.Sync())

	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "publishing result failed")
	assert.Contains(t, out, `"fingerprint": "abc"`)
}
