//go:build linux

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Joystick ioctls from linux/joystick.h.
const (
	jsiocgAxes    = 0x80016a11 // JSIOCGAXES, u8
	jsiocgButtons = 0x80016a12 // JSIOCGBUTTONS, u8
	jsNameLen     = 128
)

// jsiocgName is JSIOCGNAME(len): _IOC(_IOC_READ, 'j', 0x13, len).
func jsiocgName(n int) uintptr {
	return uintptr(2)<<30 | uintptr(n)<<16 | uintptr('j')<<8 | 0x13
}

const inotifyWaitMillis = 250

// WaitForDevice blocks until a node appears at path or ctx is canceled. It
// watches the parent directory with inotify and falls back to polling when
// the directory cannot be watched.
func WaitForDevice(ctx context.Context, path string) error {
	if Available(path) {
		return nil
	}

	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return pollForDevice(ctx, path)
	}
	defer unix.Close(fd)

	if _, err := unix.InotifyAddWatch(fd, filepath.Dir(path), unix.IN_CREATE|unix.IN_ATTRIB|unix.IN_MOVED_TO); err != nil {
		return pollForDevice(ctx, path)
	}

	buf := make([]byte, 4096)
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		// Checked after the watch is armed so a node created in between is not missed.
		if Available(path) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := unix.Poll(fds, inotifyWaitMillis)
		if err != nil && !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("poll inotify: %w", err)
		}
		if n > 0 {
			// Contents do not matter; any event triggers a re-check.
			_, _ = unix.Read(fd, buf)
		}
	}
}

// QueryDevice reads the driver name and control counts of a joystick device.
func QueryDevice(f *os.File) (DeviceInfo, error) {
	rc, err := f.SyscallConn()
	if err != nil {
		return DeviceInfo{}, err
	}

	var (
		info  DeviceInfo
		qerr  error
		name  [jsNameLen]byte
		count uint8
	)
	err = rc.Control(func(fd uintptr) {
		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, jsiocgName(jsNameLen), uintptr(unsafe.Pointer(&name[0]))); errno != 0 {
			qerr = fmt.Errorf("JSIOCGNAME: %w", errno)
			return
		}
		info.Name = string(bytes.TrimRight(name[:], "\x00"))

		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, jsiocgAxes, uintptr(unsafe.Pointer(&count))); errno != 0 {
			qerr = fmt.Errorf("JSIOCGAXES: %w", errno)
			return
		}
		info.Axes = int(count)

		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, jsiocgButtons, uintptr(unsafe.Pointer(&count))); errno != 0 {
			qerr = fmt.Errorf("JSIOCGBUTTONS: %w", errno)
			return
		}
		info.Buttons = int(count)
	})
	if err != nil {
		return DeviceInfo{}, err
	}
	return info, qerr
}
