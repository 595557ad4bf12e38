// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// LockFileName is the per-domain session lock file, living directly in
// the domain directory.
const LockFileName = ".reqevo.lock"

// StaleLockAge is the age past which a lock is presumed abandoned even
// if its holder cannot be probed.
const StaleLockAge = 1 * time.Hour

// SessionLock serializes sessions on one Domain across processes.
//
// # Description
//
// Uses flock(2) on a lock file inside the domain directory. Interactive
// sessions hold the lock for their lifetime; the headless feedback
// command holds it only around the mutation. A stale lock (holder dead,
// or older than StaleLockAge) is broken on acquire.
//
// # Thread Safety
//
// SessionLock is NOT safe for concurrent use from multiple goroutines.
// It provides inter-process exclusion, not intra-process; the
// controller's per-domain mutex covers the latter.
type SessionLock struct {
	path string
	file *os.File
}

// NewSessionLock returns a lock for the given domain directory. The
// lock is not yet acquired.
func NewSessionLock(domainDir string) *SessionLock {
	return &SessionLock{path: filepath.Join(domainDir, LockFileName)}
}

// Path returns the lock file location, for error messages.
func (l *SessionLock) Path() string {
	return l.path
}

// Acquire takes the lock without blocking.
//
// # Outputs
//
//   - error: nil when acquired; *LockHeldError when a live session holds
//     it; other errors for filesystem failures.
func (l *SessionLock) Acquire() error {
	return l.acquire(true)
}

func (l *SessionLock) acquire(breakStale bool) error {
	if l.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0750); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("opening lock file: %w", err)
	}

	err = unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		file.Close()
		if err != unix.EWOULDBLOCK {
			return fmt.Errorf("flock %s: %w", l.path, err)
		}
		if breakStale && l.IsStale() {
			// Removing the file orphans the holder's inode; a fresh
			// create below gets a lockable one.
			_ = os.Remove(l.path)
			return l.acquire(false)
		}
		return &LockHeldError{Path: l.path, HolderPID: l.HolderPID()}
	}

	// Record the holder for diagnostics. Failure to write is non-fatal;
	// the flock is what matters.
	_ = file.Truncate(0)
	_, _ = file.Seek(0, 0)
	_, _ = fmt.Fprintf(file, "pid=%d\ntime=%s\n", os.Getpid(), time.Now().Format(time.RFC3339))

	l.file = file
	return nil
}

// Release drops the lock and removes the lock file. Safe to call twice
// or on a lock never acquired.
func (l *SessionLock) Release() error {
	if l.file == nil {
		return nil
	}

	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	_ = os.Remove(l.path)

	return err
}

// HolderPID reads the recorded holder PID, or 0 when unknown.
func (l *SessionLock) HolderPID() int {
	content, err := os.ReadFile(l.path)
	if err != nil {
		return 0
	}

	var pid int
	if _, err := fmt.Sscanf(string(content), "pid=%d", &pid); err != nil {
		return 0
	}
	return pid
}

// IsStale reports whether the lock file looks abandoned: older than
// StaleLockAge, or recording a holder that no longer exists.
func (l *SessionLock) IsStale() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		return false
	}

	if time.Since(info.ModTime()) > StaleLockAge {
		return true
	}

	pid := l.HolderPID()
	if pid > 0 {
		process, err := os.FindProcess(pid)
		if err != nil {
			return true
		}
		// Signal 0 probes existence without disturbing the process.
		if err := process.Signal(unix.Signal(0)); err != nil {
			return true
		}
	}

	return false
}
