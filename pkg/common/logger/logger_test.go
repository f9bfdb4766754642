package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusops/batchline/pkg/common/logger"
)

func TestInfoWritesJSONRecord(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(&buf, logger.LevelInfo, "test-service", nil)

	log.Info(context.Background(), "startup complete", "port", 8080)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "INFO", record["level"])
	assert.Equal(t, "startup complete", record["msg"])
	assert.Equal(t, "test-service", record["service"])
	assert.EqualValues(t, 8080, record["port"])
}

func TestNewStdLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(&buf, logger.LevelInfo, "test-service", nil)

	std := logger.NewStdLogger(log, logger.LevelError)
	srv := http.Server{ErrorLog: std}
	require.NotNil(t, srv.ErrorLog)

	std.Print("accept tcp: connection reset")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "ERROR", record["level"])
	assert.Equal(t, "accept tcp: connection reset", record["msg"])
	assert.Equal(t, "test-service", record["service"])
}

func TestNewStdLoggerBelowMinLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(&buf, logger.LevelError, "test-service", nil)

	logger.NewStdLogger(log, logger.LevelInfo).Print("dropped")

	assert.Empty(t, buf.String())
}
