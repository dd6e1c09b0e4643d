package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"
)

const (
	openRetries    = 20
	openRetryDelay = 100 * time.Millisecond
)

// DeviceInfo describes an attached joystick device.
type DeviceInfo struct {
	Name    string
	Axes    int
	Buttons int
}

// Available reports whether a device node exists at path.
func Available(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// OpenDevice opens the device for reading. A freshly created node may not be
// readable until udev applies its permissions, so permission errors are
// retried for a short while.
func OpenDevice(ctx context.Context, path string) (*os.File, error) {
	for attempt := 0; ; attempt++ {
		f, err := os.Open(path)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrPermission) || attempt >= openRetries {
			return nil, fmt.Errorf("open device: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(openRetryDelay):
		}
	}
}

// pollForDevice checks for path once per defaultAttachRetry.
func pollForDevice(ctx context.Context, path string) error {
	ticker := time.NewTicker(defaultAttachRetry)
	defer ticker.Stop()
	for {
		if Available(path) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Attach waits for the device at path to appear and opens it.
func Attach(ctx context.Context, path string, logger *slog.Logger) (*os.File, error) {
	if !Available(path) {
		logger.Info("waiting for gamepad", "device", path)
		if err := WaitForDevice(ctx, path); err != nil {
			return nil, err
		}
	}

	f, err := OpenDevice(ctx, path)
	if err != nil {
		return nil, err
	}

	info, err := QueryDevice(f)
	if err != nil {
		logger.Debug("device query failed", "device", path, "error", err)
		logger.Info("gamepad attached", "device", path)
	} else {
		logger.Info("gamepad attached", "device", path, "name", info.Name, "axes", info.Axes, "buttons", info.Buttons)
	}
	return f, nil
}
