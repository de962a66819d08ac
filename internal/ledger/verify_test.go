package ledger

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

// buildChain returns n correctly linked entries.
func buildChain(n int) []Entry {
	entries := make([]Entry, 0, n)
	prev := GenesisHash
	for i := 0; i < n; i++ {
		e := Entry{
			ID:           int64(i + 1),
			EntityType:   EntityVote,
			EntityID:     int64(100 + i),
			Action:       ActionCast,
			Metadata:     "poll:1|candidate:2",
			CreatedAt:    testTime.Add(time.Duration(i) * time.Millisecond),
			PreviousHash: prev,
		}
		e.Hash = e.ComputeHash()
		prev = e.Hash
		entries = append(entries, e)
	}
	return entries
}

func TestVerifyEmpty(t *testing.T) {
	report := Verify(nil)
	if !report.Valid {
		t.Error("Empty chain should be valid")
	}
	if report.Breaks == nil || len(report.Breaks) != 0 {
		t.Errorf("Expected empty, non-nil breaks, got %#v", report.Breaks)
	}
	if report.Checked != 0 {
		t.Errorf("Expected 0 checked, got %d", report.Checked)
	}
}

func TestVerifyValidChain(t *testing.T) {
	entries := buildChain(10)
	report := Verifier{Anchor: GenesisHash}.Verify(entries)
	if !report.Valid {
		t.Fatalf("Chain should be valid, got breaks: %+v", report.Breaks)
	}
	if report.Checked != 10 {
		t.Errorf("Expected 10 checked, got %d", report.Checked)
	}
}

func TestVerifyIdempotent(t *testing.T) {
	entries := buildChain(5)
	entries[2].Metadata = "TAMPERED"

	first := Verify(entries)
	second := Verify(entries)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Verification is not idempotent:\n%+v\n%+v", first, second)
	}
}

func TestVerifyDetectsEveryFieldMutation(t *testing.T) {
	mutations := map[string]func(e *Entry){
		"entityType":   func(e *Entry) { e.EntityType = EntityPoll },
		"entityId":     func(e *Entry) { e.EntityID++ },
		"action":       func(e *Entry) { e.Action = ActionDelete },
		"metadata":     func(e *Entry) { e.Metadata = "poll:1|candidate:3" },
		"createdAt":    func(e *Entry) { e.CreatedAt = e.CreatedAt.Add(time.Second) },
		"previousHash": func(e *Entry) { e.PreviousHash = strings.Repeat("f", 64) },
		"hash":         func(e *Entry) { e.Hash = strings.Repeat("e", 64) },
	}

	for field, mutate := range mutations {
		for idx := 0; idx < 4; idx++ {
			entries := buildChain(4)
			mutate(&entries[idx])
			report := Verifier{Anchor: GenesisHash}.Verify(entries)
			if report.Valid || len(report.Breaks) == 0 {
				t.Errorf("Mutating %s of entry %d was not detected", field, idx+1)
			}
		}
	}
}

func TestVerifyHashMutationIsContentMismatch(t *testing.T) {
	entries := buildChain(3)
	last := len(entries) - 1
	entries[last].Hash = strings.Repeat("a", 64)

	report := Verify(entries)
	if report.Valid {
		t.Fatal("Chain should be invalid")
	}
	if len(report.Breaks) != 1 {
		t.Fatalf("Expected 1 break, got %+v", report.Breaks)
	}
	b := report.Breaks[0]
	if b.Kind != ContentMismatch || b.EntryID != 3 {
		t.Errorf("Expected content mismatch on entry 3, got %+v", b)
	}
	if b.Actual != strings.Repeat("a", 64) || b.Expected != entries[last].ComputeHash() {
		t.Errorf("Unexpected break hashes: %+v", b)
	}
}

func TestVerifyRehashedEntryBreaksNextLink(t *testing.T) {
	entries := buildChain(4)
	// Attacker edits entry 2 and recomputes its hash, but cannot fix entry 3.
	entries[1].Metadata = "poll:1|candidate:9"
	entries[1].Hash = entries[1].ComputeHash()

	report := Verify(entries)
	if report.Valid {
		t.Fatal("Chain should be invalid")
	}
	if report.Count(LinkMismatch) != 1 || report.Count(ContentMismatch) != 0 {
		t.Fatalf("Expected exactly one link mismatch, got %+v", report.Breaks)
	}
	b := report.Breaks[0]
	if b.EntryID != 3 || b.Index != 2 {
		t.Errorf("Expected break on entry 3, got %+v", b)
	}
	if b.Expected != entries[1].Hash || b.Actual != entries[2].PreviousHash {
		t.Errorf("Unexpected break hashes: %+v", b)
	}
}

func TestVerifyReportsAllBreaks(t *testing.T) {
	entries := buildChain(6)
	entries[1].Metadata = "x"
	entries[4].PreviousHash = strings.Repeat("b", 64)

	report := Verify(entries)
	// Entry 2: content. Entry 5: link + content (previousHash is hashed).
	if len(report.Breaks) != 3 {
		t.Fatalf("Expected 3 breaks, got %+v", report.Breaks)
	}
	if report.Count(ContentMismatch) != 2 || report.Count(LinkMismatch) != 1 {
		t.Errorf("Unexpected break kinds: %+v", report.Breaks)
	}
}

func TestVerifyAnchor(t *testing.T) {
	entries := buildChain(5)
	partial := entries[2:]

	if report := Verify(partial); !report.Valid {
		t.Errorf("Partial chain without anchor should be valid: %+v", report.Breaks)
	}

	report := Verifier{Anchor: GenesisHash}.Verify(partial)
	if report.Valid {
		t.Fatal("Partial chain anchored at genesis should be invalid")
	}
	if report.Breaks[0].Kind != LinkMismatch || report.Breaks[0].EntryID != 3 {
		t.Errorf("Expected link mismatch on entry 3, got %+v", report.Breaks[0])
	}

	if report := (Verifier{Anchor: entries[1].Hash}).Verify(partial); !report.Valid {
		t.Errorf("Partial chain anchored at its predecessor should be valid: %+v", report.Breaks)
	}
}
