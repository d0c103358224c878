package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// PIDFile reads and writes the server's PID record
type PIDFile struct {
	path  string
	pid   int
	alive func(pid int) bool
}

// NewPIDFile creates a PIDFile at path for the current process
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path, pid: os.Getpid(), alive: ProcessAlive}
}

// Path returns the file location
func (f *PIDFile) Path() string { return f.path }

// Read returns the stored record, or nil when there is none
func (f *PIDFile) Read() (*Record, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read PID file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse PID file: %w", err)
	}
	rec.Ownership = Observed
	if rec.PID == f.pid {
		rec.Ownership = Owned
	}
	return &rec, nil
}

// Running returns the record of a live server. A record whose process has
// exited is removed.
func (f *PIDFile) Running() (*Record, error) {
	rec, err := f.Read()
	if err != nil || rec == nil {
		return nil, err
	}
	if !f.alive(rec.PID) {
		if err := f.remove(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return rec, nil
}

// Claim records this process as the server listening on addr
func (f *PIDFile) Claim(addr, version string) (*Record, error) {
	running, err := f.Running()
	if err != nil {
		return nil, err
	}
	if running != nil && running.Ownership != Owned {
		return nil, &AlreadyRunningError{Record: *running}
	}

	rec := &Record{
		PID:       f.pid,
		Addr:      addr,
		StartedAt: time.Now().UTC(),
		Version:   version,
		Ownership: Owned,
	}
	if err := f.write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Release removes the record when policy says its server ends for reason.
// A record since claimed by another process is left alone.
func (f *PIDFile) Release(rec *Record, reason Reason) error {
	if rec == nil || !ShouldTerminate(*rec, reason) {
		return nil
	}
	current, err := f.Read()
	if err != nil || current == nil || current.PID != rec.PID {
		return err
	}
	return f.remove()
}

// Terminate sends SIGTERM to the server in rec when policy allows it and
// reports whether a signal was sent
func (f *PIDFile) Terminate(rec *Record, reason Reason) (bool, error) {
	if rec == nil || !ShouldTerminate(*rec, reason) || !f.alive(rec.PID) {
		return false, nil
	}
	proc, err := os.FindProcess(rec.PID)
	if err != nil {
		return false, fmt.Errorf("failed to find process %d: %w", rec.PID, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return false, fmt.Errorf("failed to signal process %d: %w", rec.PID, err)
	}
	return true, nil
}

func (f *PIDFile) write(rec *Record) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal PID record: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

func (f *PIDFile) remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// ProcessAlive probes pid with signal 0. EPERM means the process exists
// but belongs to another user.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return true
	case errors.Is(err, syscall.EPERM):
		return true
	default:
		return false
	}
}
