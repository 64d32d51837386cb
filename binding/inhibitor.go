package binding

import (
	"fmt"
	"syscall"

	"github.com/godbus/dbus/v5"
)

// SuspendLock holds a systemd inhibitor lock so the system cannot suspend
// while a binding operation is mid-flight. The lock is released when the
// file descriptor is closed.
type SuspendLock struct {
	fd   int
	name string
}

// AcquireSuspendLock acquires a "sleep:shutdown" block inhibitor via D-Bus.
//
// - name: application identifier
// - why: reason shown in `systemd-inhibit --list`
//
// Returns an error if the lock cannot be acquired (D-Bus unavailable,
// suspend already in progress); callers treat that as best-effort.
func AcquireSuspendLock(name, why string) (*SuspendLock, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer conn.Close()

	obj := conn.Object("org.freedesktop.login1", "/org/freedesktop/login1")
	call := obj.Call("org.freedesktop.login1.Manager.Inhibit", 0,
		"sleep:shutdown",
		name,
		why,
		"block")

	if call.Err != nil {
		return nil, fmt.Errorf("failed to acquire inhibitor lock: %w", call.Err)
	}

	var fd dbus.UnixFD
	if err := call.Store(&fd); err != nil {
		return nil, fmt.Errorf("failed to extract file descriptor: %w", err)
	}

	return &SuspendLock{
		fd:   int(fd),
		name: name,
	}, nil
}

// Release closes the inhibitor file descriptor, allowing suspend again.
func (l *SuspendLock) Release() error {
	if l.fd < 0 {
		return nil
	}

	if err := syscall.Close(l.fd); err != nil {
		return fmt.Errorf("failed to close inhibitor fd: %w", err)
	}

	l.fd = -1
	return nil
}

// IsActive returns true if the lock is still held.
func (l *SuspendLock) IsActive() bool {
	return l.fd >= 0
}
