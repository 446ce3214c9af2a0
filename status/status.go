// Package status is the error side channel for the archiverr packages.
// Failures inside a logging subsystem cannot be sent to the application
// logger without recursing back into the subsystem that just failed, so
// they are recorded here instead. Entries are kept in a bounded ring and
// optionally pushed to listeners. Appending never blocks the caller.
package status

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Level marks the severity of a status Entry.
type Level uint8

// Severity levels, least to most severe.
const (
	Info Level = iota
	Warn
	Error
)

// String returns the level name used by the printer.
func (l Level) String() string {
	switch l {
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// DefaultKeep is how many entries a Manager retains when Keep is unset.
const DefaultKeep = 256

// Entry is one recorded status event.
type Entry struct {
	Time    time.Time
	Level   Level
	Message string
	Err     error // nil unless the entry carries a cause.
}

// Manager collects status entries. The zero value is usable; so is a nil
// *Manager, which silently discards everything. Safe for concurrent use.
type Manager struct {
	Keep int // max entries retained; DefaultKeep when 0.

	mu        sync.Mutex
	entries   []Entry
	listeners []func(Entry)
}

// New returns a Manager that retains DefaultKeep entries.
func New() *Manager {
	return &Manager{}
}

// Infof records an informational entry.
func (m *Manager) Infof(msg string, v ...any) {
	m.add(Entry{Time: time.Now(), Level: Info, Message: fmt.Sprintf(msg, v...)})
}

// Warnf records a warning entry.
func (m *Manager) Warnf(msg string, v ...any) {
	m.add(Entry{Time: time.Now(), Level: Warn, Message: fmt.Sprintf(msg, v...)})
}

// Errorf records an error entry with its cause.
func (m *Manager) Errorf(err error, msg string, v ...any) {
	m.add(Entry{Time: time.Now(), Level: Error, Message: fmt.Sprintf(msg, v...), Err: err})
}

// OnEntry registers a listener invoked for every new entry. Listeners run
// on the reporting goroutine and must not log through the subsystem that
// reports here.
func (m *Manager) OnEntry(fn func(Entry)) {
	if m == nil || fn == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, fn)
}

// Entries returns a copy of the retained entries, oldest first.
func (m *Manager) Entries() []Entry {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Entry{}, m.entries...)
}

// Print writes the retained entries to w, one per line.
func (m *Manager) Print(w io.Writer) {
	for _, e := range m.Entries() {
		if e.Err != nil {
			fmt.Fprintf(w, "%s %-5s %s: %v\n", e.Time.Format(time.RFC3339), e.Level, e.Message, e.Err)
		} else {
			fmt.Fprintf(w, "%s %-5s %s\n", e.Time.Format(time.RFC3339), e.Level, e.Message)
		}
	}
}

func (m *Manager) add(entry Entry) {
	if m == nil {
		return
	}

	m.mu.Lock()

	keep := m.Keep
	if keep <= 0 {
		keep = DefaultKeep
	}

	m.entries = append(m.entries, entry)
	if len(m.entries) > keep {
		m.entries = m.entries[len(m.entries)-keep:]
	}

	listeners := append([]func(Entry){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(entry)
	}
}
