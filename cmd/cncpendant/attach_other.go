//go:build !linux

package main

import (
	"context"
	"errors"
	"os"
)

// WaitForDevice polls for path until it appears or ctx is canceled.
func WaitForDevice(ctx context.Context, path string) error {
	return pollForDevice(ctx, path)
}

// QueryDevice is only supported on Linux.
func QueryDevice(f *os.File) (DeviceInfo, error) {
	return DeviceInfo{}, errors.ErrUnsupported
}
