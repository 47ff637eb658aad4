package stream

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tiger/payment-ops-agent/api/remediation"
)

func TestRecordThenReplayRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records", "run.events.jsonl")
	generator := NewGenerator(13)
	generator.Now = func() time.Time { return time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC) }

	recorder := &Recorder{Source: generator, Path: path}
	var recorded []remediation.Event
	for i := 0; i < 3; i++ {
		batch, err := recorder.Events(50)
		if err != nil {
			t.Fatalf("record batch %d: %v", i, err)
		}
		recorded = append(recorded, batch...)
	}

	replay, err := LoadReplay(path)
	if err != nil {
		t.Fatalf("load replay: %v", err)
	}
	if replay.Remaining() != len(recorded) {
		t.Fatalf("expected %d recorded events, got %d", len(recorded), replay.Remaining())
	}

	var replayed []remediation.Event
	for {
		batch, err := replay.Events(50)
		if errors.Is(err, ErrReplayExhausted) {
			break
		}
		if err != nil {
			t.Fatalf("replay batch: %v", err)
		}
		replayed = append(replayed, batch...)
	}
	if len(replayed) != len(recorded) {
		t.Fatalf("replayed %d events, recorded %d", len(replayed), len(recorded))
	}
	for i := range recorded {
		if !recorded[i].Timestamp.Equal(replayed[i].Timestamp) {
			t.Fatalf("timestamp diverged at %d", i)
		}
		recorded[i].Timestamp = replayed[i].Timestamp
		if recorded[i] != replayed[i] {
			t.Fatalf("event diverged at %d: %+v vs %+v", i, recorded[i], replayed[i])
		}
	}
}

func TestReplayServesShortFinalBatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run.events.jsonl")
	generator := NewGenerator(5)
	recorder := &Recorder{Source: generator, Path: path}
	if _, err := recorder.Events(30); err != nil {
		t.Fatalf("record: %v", err)
	}

	replay, err := LoadReplay(path)
	if err != nil {
		t.Fatalf("load replay: %v", err)
	}
	first, err := replay.Events(20)
	if err != nil || len(first) != 20 {
		t.Fatalf("expected full batch, got %d events err=%v", len(first), err)
	}
	second, err := replay.Events(20)
	if err != nil || len(second) != 10 {
		t.Fatalf("expected short final batch of 10, got %d err=%v", len(second), err)
	}
	if _, err := replay.Events(20); !errors.Is(err, ErrReplayExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
}

func TestLoadReplayRejectsCorruptRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	truncated := filepath.Join(dir, "truncated.jsonl")
	if err := os.WriteFile(truncated, []byte(`{"transaction_id":"TXN_1","pay`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadReplay(truncated); err == nil {
		t.Fatal("expected truncated record to be rejected")
	}

	badEnum := filepath.Join(dir, "bad_enum.jsonl")
	line := `{"transaction_id":"TXN_1","timestamp":"2026-08-30T10:00:00Z","merchant_id":"MERCHANT_001","amount":100,"payment_method":"cheque","bank_code":"HDFC","issuer":"HDFC","status":"success","latency_ms":200,"retry_count":0,"routing_path":"primary"}`
	if err := os.WriteFile(badEnum, []byte(line+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadReplay(badEnum); err == nil {
		t.Fatal("expected invalid payment_method to be rejected")
	}

	empty := filepath.Join(dir, "empty.jsonl")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadReplay(empty); err == nil {
		t.Fatal("expected empty record to be rejected")
	}
}

func TestRecorderRequiresPath(t *testing.T) {
	t.Parallel()

	recorder := &Recorder{Source: NewGenerator(1)}
	if _, err := recorder.Events(10); !errors.Is(err, ErrRecorderPathRequired) {
		t.Fatalf("expected ErrRecorderPathRequired, got %v", err)
	}
}
