package logger

import (
	"bytes"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLoggerReleaseMode(t *testing.T) {
	InitLogger(&Config{Mode: "release", Output: io.Discard})

	log := GetLogger()
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
}

func TestInitLoggerDebugMode(t *testing.T) {
	InitLogger(&Config{Mode: "debug", Output: io.Discard})

	log := GetLogger()
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &CustomFormatter{}, log.Formatter)
}

func TestFormatterOrdersCacheFields(t *testing.T) {
	f := &CustomFormatter{FullTimestamp: true}
	entry := logrus.WithFields(logrus.Fields{
		"hit_rate":  0.85,
		"key":       "user:42:profile",
		"operation": "GET",
	})
	entry.Message = "Cache read"
	entry.Level = logrus.DebugLevel

	out, err := f.Format(entry)
	require.NoError(t, err)

	line := string(out)
	assert.Contains(t, line, "operation=GET")
	assert.Contains(t, line, "key=user:42:profile")
	assert.Less(t,
		bytes.Index(out, []byte("key=")),
		bytes.Index(out, []byte("hit_rate=")),
	)
}
