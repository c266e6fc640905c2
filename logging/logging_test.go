package logging

import (
	"bytes"
	"testing"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/require"
)

func TestLogLevelNames(t *testing.T) {
	for _, lvl := range []int{TraceLevel, DebugLevel, InfoLevel, WarnLevel, ErrorLevel, FatalLevel} {
		require.Equal(t, lvl, ParseLogLevel(LogLevelToString(lvl)))
	}
	require.Equal(t, "WARN", LogLevelToString(ParseLogLevel(" warn ")))
	require.Equal(t, InfoLevel, ParseLogLevel("verbose"))
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := WithRank(New(&buf, WarnLevel), 3)
	level.Info(logger).Log("msg", "hidden")
	level.Warn(logger).Log("msg", "shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "msg=shown")
	require.Contains(t, buf.String(), "rank=3")
	require.Contains(t, buf.String(), "caller=logging_test.go:")
}
