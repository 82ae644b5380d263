package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roach88/causality/internal/config"
	"github.com/roach88/causality/internal/ir"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default().Log
	cfg.Format = "json"

	log, err := newLogger(cfg, &buf)
	require.NoError(t, err)
	log.Debug("hidden")
	log.Info("compiled", zap.String("artifact", "ab12"))
	require.NoError(t, log.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "compiled", entry["msg"])
	assert.Equal(t, "info", entry["level"])
}

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default().Log
	cfg.Level = "debug"

	log, err := newLogger(cfg, &buf)
	require.NoError(t, err)
	log.Debug("step")
	require.NoError(t, log.Sync())
	assert.Contains(t, buf.String(), "step")
}

func TestNew_File(t *testing.T) {
	cfg := config.Default().Log
	cfg.Format = "json"
	cfg.File = filepath.Join(t.TempDir(), "logs", "causality.log")

	log, err := New(cfg)
	require.NoError(t, err)
	log.Info("to file")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(cfg.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestNew_Rejects(t *testing.T) {
	cfg := config.Default().Log
	cfg.Level = "loud"
	_, err := New(cfg)
	assert.Equal(t, ir.CategoryValidation, ir.CategoryOf(err))

	cfg = config.Default().Log
	cfg.Format = "xml"
	_, err = New(cfg)
	assert.Equal(t, ir.CategoryValidation, ir.CategoryOf(err))
}

func TestNamed_Nil(t *testing.T) {
	assert.NotNil(t, Named(nil, "executor"))
}
