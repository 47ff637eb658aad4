package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tiger/payment-ops-agent/api/remediation"
)

var (
	// ErrReplayExhausted signals the recorded stream has no events left.
	ErrReplayExhausted = errors.New("recorded event stream exhausted")

	ErrRecorderPathRequired = errors.New("event record path is required")
)

const (
	defaultRecordDirMode  os.FileMode = 0o755
	defaultRecordFileMode os.FileMode = 0o600
)

// Recorder wraps an event source and appends every delivered event to a
// JSON-lines log so a run can later be replayed byte for byte.
type Recorder struct {
	Source interface {
		Events(n int) ([]remediation.Event, error)
	}
	Path     string
	DirMode  os.FileMode
	FileMode os.FileMode
	Marshal  func(event remediation.Event) ([]byte, error)

	mu sync.Mutex
}

// Events pulls from the wrapped source and persists the batch before
// returning it. A write failure fails the batch: a partial log would
// silently diverge from the live run on replay.
func (r *Recorder) Events(n int) ([]remediation.Event, error) {
	if r == nil || r.Source == nil {
		return nil, errors.New("recorder requires a wrapped source")
	}
	if r.Path == "" {
		return nil, ErrRecorderPathRequired
	}

	events, err := r.Source.Events(n)
	if err != nil {
		return nil, err
	}

	marshal := r.Marshal
	if marshal == nil {
		marshal = func(event remediation.Event) ([]byte, error) {
			return json.Marshal(event)
		}
	}

	dirMode := r.DirMode
	if dirMode == 0 {
		dirMode = defaultRecordDirMode
	}
	fileMode := r.FileMode
	if fileMode == 0 {
		fileMode = defaultRecordFileMode
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.Path), dirMode); err != nil {
		return nil, fmt.Errorf("create event record directory: %w", err)
	}
	f, err := os.OpenFile(r.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, fileMode)
	if err != nil {
		return nil, fmt.Errorf("open event record: %w", err)
	}
	defer f.Close()

	for _, event := range events {
		payload, err := marshal(event)
		if err != nil {
			return nil, fmt.Errorf("marshal event %s: %w", event.TransactionID, err)
		}
		if _, err := f.Write(append(payload, '\n')); err != nil {
			return nil, fmt.Errorf("append event %s: %w", event.TransactionID, err)
		}
	}
	return events, nil
}

// ReplaySource serves a previously recorded event log in order. Every
// event is validated on load so a truncated or hand-edited log fails
// fast instead of skewing a replayed run.
type ReplaySource struct {
	mu     sync.Mutex
	events []remediation.Event
	cursor int
}

// LoadReplay reads a JSON-lines event record written by Recorder.
func LoadReplay(path string) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event record: %w", err)
	}
	defer f.Close()

	var events []remediation.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var event remediation.Event
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&event); err != nil {
			return nil, fmt.Errorf("event record line %d: %w", line, err)
		}
		if err := event.Validate(); err != nil {
			return nil, fmt.Errorf("event record line %d: %w", line, err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event record: %w", err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("event record %s holds no events", path)
	}
	return &ReplaySource{events: events}, nil
}

// Events returns the next batch of recorded events. A short final batch
// is returned as-is; the call after that reports ErrReplayExhausted.
func (s *ReplaySource) Events(n int) ([]remediation.Event, error) {
	if n <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor >= len(s.events) {
		return nil, ErrReplayExhausted
	}
	end := s.cursor + n
	if end > len(s.events) {
		end = len(s.events)
	}
	batch := make([]remediation.Event, end-s.cursor)
	copy(batch, s.events[s.cursor:end])
	s.cursor = end
	return batch, nil
}

// Remaining reports how many recorded events have not been served yet.
func (s *ReplaySource) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events) - s.cursor
}
