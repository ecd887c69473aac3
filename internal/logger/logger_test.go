package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T, verboseOn bool) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbose(verboseOn)
	t.Cleanup(func() {
		SetVerbose(false)
		SetOutput(os.Stderr)
	})
	return &buf
}

func TestSetVerbose(t *testing.T) {
	capture(t, false)
	assert.False(t, IsVerbose())
	SetVerbose(true)
	assert.True(t, IsVerbose())
}

func TestGatedLevels(t *testing.T) {
	buf := capture(t, false)
	Debug("d %d", 1)
	Info("i")
	Warn("w")
	assert.Empty(t, buf.String())

	SetVerbose(true)
	Debug("d %d", 1)
	Info("i")
	Warn("w")
	assert.Equal(t, "[DEBUG] d 1\n[INFO] i\n[WARN] w\n", buf.String())
}

func TestErrorAlwaysPrints(t *testing.T) {
	buf := capture(t, false)
	Error("boom: %s", "disk")
	assert.Equal(t, "[ERROR] boom: disk\n", buf.String())
}
