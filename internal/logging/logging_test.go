package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/filevault/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewWithWriterText(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(config.LogConfig{Level: "info", Format: "text"}, &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("file added", "name", "report.pdf")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=\"file added\"")
	assert.Contains(t, out, "name=report.pdf")
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(config.LogConfig{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Debug("file extracted", "artifact", "abc.enc")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "DEBUG", record["level"])
	assert.Equal(t, "file extracted", record["msg"])
	assert.Equal(t, "abc.enc", record["artifact"])
}

func TestNewWithWriterInvalid(t *testing.T) {
	_, err := NewWithWriter(config.LogConfig{Level: "info", Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = NewWithWriter(config.LogConfig{Level: "nope", Format: "text"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestNewToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filevault.log")

	logger, closer, err := New(config.LogConfig{Level: "warn", Format: "text", File: path})
	require.NoError(t, err)

	logger.Warn("vault locked")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "vault locked")
}
