// Package bridge holds the capabilities a guest script can reach on the host.
// Every host call goes through the Capabilities interface so it can be audited or
// replaced in tests.
package bridge

import (
	"sync"
)

// Stream identifies which output a log record was written to
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// LogRecord is one line written by the guest through print or printerr. Text
// always carries its trailing newline.
type LogRecord struct {
	Stream Stream `json:"stream"`
	Text   string `json:"text"`
}

// Capabilities is the complete host surface exposed to guests
type Capabilities interface {
	SetResult(value any) error
	Print(value any) error
	PrintErr(value any) error
}

// Recorder is the per-invocation Capabilities implementation. It keeps the last
// value given to SetResult and every log record in order.
type Recorder struct {
	mu     sync.Mutex
	result *string
	logs   []LogRecord
	sealed bool
}

// NewRecorder returns an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// SetResult stores the string form of value. Later calls overwrite earlier ones.
func (r *Recorder) SetResult(value any) error {
	s, err := Stringify(value)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return nil
	}
	r.result = &s

	return nil
}

// Print appends value to the stdout stream
func (r *Recorder) Print(value any) error {
	return r.write(Stdout, value)
}

// PrintErr appends value to the stderr stream
func (r *Recorder) PrintErr(value any) error {
	return r.write(Stderr, value)
}

func (r *Recorder) write(stream Stream, value any) error {
	s, err := Stringify(value)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return nil
	}
	r.logs = append(r.logs, LogRecord{Stream: stream, Text: s + "\n"})

	return nil
}

// Seal freezes the recorder. Calls made after it are silently dropped, which is
// what happens to a guest still running after its invocation was torn down.
func (r *Recorder) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sealed = true
}

// Result returns the stored result and whether SetResult was ever called
func (r *Recorder) Result() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.result == nil {
		return "", false
	}

	return *r.result, true
}

// Logs returns a copy of the log records written so far
func (r *Recorder) Logs() []LogRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]LogRecord(nil), r.logs...)
}
