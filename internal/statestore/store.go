// Package statestore implements the durable, cross-process-safe
// persistence of the candidate gateway set: an advisory-locked
// read-modify-write cycle over a JSON file, writing only on change
// and signalling a running daemon when it does.
package statestore

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"

	"github.com/kuuji/defaultconfd/internal/gateway"
	"github.com/kuuji/defaultconfd/internal/gwerr"
	"github.com/kuuji/defaultconfd/pkg/gwproto"
)

// Store is the on-disk candidate-gateway state at Path, guarded by an
// advisory lock file at Path+".lock".
type Store struct {
	Path string
}

// New returns a Store backed by path.
func New(path string) *Store {
	return &Store{Path: path}
}

// Load parses the state file, treating a missing file as an empty
// State.
func (s *Store) Load() (gateway.State, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return gateway.NewState(), nil
		}
		return gateway.State{}, &gwerr.IOError{Op: "read state file", Err: err}
	}
	state, err := gwproto.Unmarshal(data)
	if err != nil {
		return gateway.State{}, &gwerr.ParseError{Context: "state file " + s.Path, Err: err}
	}
	return state, nil
}

// Update acquires the advisory lock, lets mutator edit a freshly
// loaded State, and writes it back only if the canonical serialization
// changed, signalling pidPath's process on change. The lock is always
// released, even if mutator or the write fails.
func (s *Store) Update(pidPath string, mutator func(*gateway.State) error) (changed bool, err error) {
	if dir := filepath.Dir(s.Path); dir != "." {
		if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
			return false, &gwerr.IOError{Op: "create state directory", Err: mkErr}
		}
	}

	lock := flock.New(s.Path + ".lock")
	if lockErr := lock.Lock(); lockErr != nil {
		return false, &gwerr.IOError{Op: "lock state file", Err: lockErr}
	}
	defer lock.Unlock()

	before, loadErr := s.Load()
	if loadErr != nil {
		return false, loadErr
	}
	beforeCanon, marshalErr := gwproto.Marshal(before)
	if marshalErr != nil {
		return false, &gwerr.ParseError{Context: "canonicalize pre-image", Err: marshalErr}
	}

	after := before
	if mutErr := mutator(&after); mutErr != nil {
		return false, mutErr
	}
	afterCanon, marshalErr := gwproto.Marshal(after)
	if marshalErr != nil {
		return false, &gwerr.ParseError{Context: "canonicalize post-image", Err: marshalErr}
	}

	if bytes.Equal(beforeCanon, afterCanon) {
		return false, nil
	}

	if writeErr := writeAtomic(s.Path, afterCanon); writeErr != nil {
		return false, writeErr
	}

	if pidPath != "" {
		if sigErr := SignalDaemon(pidPath); sigErr != nil {
			return true, sigErr
		}
	}
	return true, nil
}

// writeAtomic writes data to a sibling temp file and renames it over
// path, so a concurrent reader never observes a partial write.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return &gwerr.IOError{Op: "create temp state file", Err: err}
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &gwerr.IOError{Op: "write temp state file", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &gwerr.IOError{Op: "close temp state file", Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &gwerr.IOError{Op: "rename state file", Err: err}
	}
	return nil
}

// SignalDaemon reads a PID from pidPath and delivers SIGUSR1 to it,
// the reload signal the supervisor's state-reload worker waits on.
func SignalDaemon(pidPath string) error {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return &gwerr.IOError{Op: "read pid file", Err: err}
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return &gwerr.ParseError{Context: "pid file " + pidPath, Err: err}
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return &gwerr.IOError{Op: "find daemon process", Err: err}
	}
	if err := proc.Signal(syscall.SIGUSR1); err != nil {
		return &gwerr.IOError{Op: "signal daemon", Err: err}
	}
	return nil
}

// WritePID writes the current process id to pidPath, used by the
// daemon's startup sequence so defaultconfctl can find it.
func WritePID(pidPath string) error {
	if dir := filepath.Dir(pidPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &gwerr.IOError{Op: "create pid directory", Err: err}
		}
	}
	data := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(pidPath, data, 0644); err != nil {
		return &gwerr.IOError{Op: "write pid file", Err: err}
	}
	return nil
}
