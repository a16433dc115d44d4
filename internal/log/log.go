// Package log provides the logging backend shared by meshcrypt components,
// built on go-logging.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/op/go-logging.v1"
)

const logFormat = "%{time:15:04:05.000} %{level:.4s} %{module}: %{message}"

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// Backend is a leveled log backend writing to stdout, a file, or nowhere.
type Backend struct {
	sync.RWMutex

	backend logging.LeveledBackend
	w       io.WriteCloser

	file    string
	level   string
	disable bool
}

// Log implements logging.Backend.
func (b *Backend) Log(level logging.Level, calldepth int, record *logging.Record) error {
	b.RLock()
	defer b.RUnlock()
	return b.backend.Log(level, calldepth, record)
}

func (b *Backend) GetLevel(module string) logging.Level {
	b.RLock()
	defer b.RUnlock()
	return b.backend.GetLevel(module)
}

func (b *Backend) SetLevel(level logging.Level, module string) {
	b.RLock()
	defer b.RUnlock()
	b.backend.SetLevel(level, module)
}

func (b *Backend) IsEnabledFor(level logging.Level, module string) bool {
	b.RLock()
	defer b.RUnlock()
	return b.backend.IsEnabledFor(level, module)
}

// GetLogger returns a per-module logger that writes to the backend.
func (b *Backend) GetLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(b)
	return l
}

// Rotate reopens the log file, for use from a SIGHUP handler.
func (b *Backend) Rotate() error {
	b.Lock()
	defer b.Unlock()

	if err := b.w.Close(); err != nil {
		return err
	}
	return b.newBackend()
}

// Close releases the log file, if any.
func (b *Backend) Close() error {
	b.Lock()
	defer b.Unlock()
	return b.w.Close()
}

func (b *Backend) newBackend() error {
	lvl, err := LevelFromString(b.level)
	if err != nil {
		return err
	}

	switch {
	case b.disable:
		b.w = nopCloser{io.Discard}
	case b.file == "":
		b.w = nopCloser{os.Stdout}
	default:
		const fileMode = 0600
		flags := os.O_CREATE | os.O_APPEND | os.O_WRONLY
		f, err := os.OpenFile(b.file, flags, fileMode)
		if err != nil {
			return fmt.Errorf("log: failed to create log file: %v", err)
		}
		b.w = f
	}

	base := logging.NewLogBackend(b.w, "", 0)
	formatted := logging.NewBackendFormatter(base, logging.MustStringFormatter(logFormat))
	b.backend = logging.AddModuleLevel(formatted)
	b.backend.SetLevel(lvl, "")
	return nil
}

// New initializes a logging backend. An empty file logs to stdout.
func New(file, level string, disable bool) (*Backend, error) {
	b := &Backend{file: file, level: level, disable: disable}
	if err := b.newBackend(); err != nil {
		return nil, err
	}
	return b, nil
}

// NewWriter initializes a backend writing to w, mostly for tests.
func NewWriter(w io.Writer, level string) (*Backend, error) {
	lvl, err := LevelFromString(level)
	if err != nil {
		return nil, err
	}
	b := &Backend{level: level, w: nopCloser{w}}
	base := logging.NewLogBackend(w, "", 0)
	formatted := logging.NewBackendFormatter(base, logging.MustStringFormatter(logFormat))
	b.backend = logging.AddModuleLevel(formatted)
	b.backend.SetLevel(lvl, "")
	return b, nil
}

var (
	discardOnce sync.Once
	discard     *Backend
)

// Discard returns a logger for module that drops everything. Components use
// it when the caller supplied no logger.
func Discard(module string) *logging.Logger {
	discardOnce.Do(func() {
		discard, _ = New("", "ERROR", true)
	})
	return discard.GetLogger(module)
}

// LevelFromString parses ERROR, WARNING, NOTICE, INFO or DEBUG.
func LevelFromString(l string) (logging.Level, error) {
	switch strings.ToUpper(l) {
	case "ERROR":
		return logging.ERROR, nil
	case "WARNING":
		return logging.WARNING, nil
	case "NOTICE":
		return logging.NOTICE, nil
	case "INFO":
		return logging.INFO, nil
	case "DEBUG":
		return logging.DEBUG, nil
	default:
		return logging.CRITICAL, fmt.Errorf("log: invalid level: '%v'", l)
	}
}
