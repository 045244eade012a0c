package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		level   string
		format  string
		enabled zapcore.Level
		err     bool
	}{
		"JSONDebug":   {level: "debug", format: FormatJSON, enabled: zapcore.DebugLevel},
		"ConsoleWarn": {level: "warn", format: FormatConsole, enabled: zapcore.WarnLevel},
		"DefaultInfo": {level: "info", enabled: zapcore.InfoLevel},
		"BadLevel":    {level: "loud", err: true},
		"BadFormat":   {level: "info", format: "xml", err: true},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			l, err := New(tc.level, tc.format)
			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			assert.True(t, l.Core().Enabled(tc.enabled))
			assert.False(t, l.Core().Enabled(tc.enabled-1))
		})
	}
}

func TestNewEmptyLevel(t *testing.T) {
	t.Parallel()

	l, err := New("", "")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.FatalLevel))
}

func TestNamed(t *testing.T) {
	t.Parallel()

	l := Named(nil, "docstore")
	require.NotNil(t, l)
	assert.Equal(t, "docstore", l.Name())
}
