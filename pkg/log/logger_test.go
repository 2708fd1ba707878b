package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"zipsend/pkg/config"
	"zipsend/pkg/testutil"
)

func TestFormatPlain(t *testing.T) {
	entry := &logrus.Entry{
		Time:    time.Date(2024, 3, 9, 7, 5, 1, 0, time.UTC),
		Level:   logrus.InfoLevel,
		Message: "archive created",
		Data: logrus.Fields{
			"role":    "sender",
			"archive": "1700000000.zip",
			"error":   errors.New("boom"),
		},
	}

	out, err := (&FancyLogFormatter{}).Format(entry)
	require.NoError(t, err)
	require.Equal(
		t,
		"09.03.2024/07:05:01 ⚐ archive created [archive=1700000000.zip error=boom role=sender]\n",
		string(out),
	)
}

func TestFormatColored(t *testing.T) {
	entry := &logrus.Entry{
		Time:    time.Now(),
		Level:   logrus.ErrorLevel,
		Message: "transfer failed",
	}

	out, err := (&FancyLogFormatter{UseColors: true}).Format(entry)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(out), "\x1b["), "expected ANSI escapes in %q", out)
	require.True(t, strings.HasSuffix(string(out), " transfer failed\n"))
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, _, err := New(config.LogConfig{Level: "chatty"})
	require.Error(t, err)
}

func TestNewLogsToFile(t *testing.T) {
	path := filepath.Join(testutil.TempDir(t, "zipsend-log-"), "zipsend.log")
	logger, closer, err := New(config.LogConfig{Level: "debug", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.WithField("peer", "localhost:6969").Debug("connected")
	require.NoError(t, closer.Close())

	data := readFile(t, path)
	require.Contains(t, data, "connected [peer=localhost:6969]")
	require.NotContains(t, data, "\x1b[")
}

func TestNewStderr(t *testing.T) {
	logger, closer, err := New(config.LogConfig{Level: "info"})
	require.NoError(t, err)
	require.NoError(t, closer.Close())
	require.Equal(t, logrus.InfoLevel, logger.GetLevel())

	buf := &bytes.Buffer{}
	require.False(t, isTerminal(buf))
}

func readFile(t *testing.T, path string) string {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
