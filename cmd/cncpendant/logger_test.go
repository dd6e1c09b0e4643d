package main

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  slog.Level
		fails bool
	}{
		{name: "empty is info", in: "", want: slog.LevelInfo},
		{name: "warning alias", in: "Warning", want: slog.LevelWarn},
		{name: "trace", in: " trace ", want: LevelTrace},
		{name: "invalid", in: "loud", fails: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLogLevel(tt.in)
			if tt.fails {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestColorHandler_GroupsQualifyLaterAttrsOnly(t *testing.T) {
	var buf bytes.Buffer
	h := &colorHandler{w: &buf, level: slog.LevelDebug, mu: &sync.Mutex{}}
	logger := slog.New(h).
		With("sink", "grbl").
		WithGroup("serial").
		With("device", "/dev/ttyUSB0").
		WithGroup("line")

	logger.Info("opened", "baud", 115200)

	out := buf.String()
	assert.Contains(t, out, " sink=grbl")
	assert.NotContains(t, out, "serial.sink")
	assert.Contains(t, out, " serial.device=/dev/ttyUSB0")
	assert.Contains(t, out, " serial.line.baud=115200")
}

func TestColorHandler_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(&colorHandler{w: &buf, level: slog.LevelInfo, mu: &sync.Mutex{}})
	logger.Debug("hidden")
	logger.Log(context.Background(), LevelTrace, "hidden too")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}
