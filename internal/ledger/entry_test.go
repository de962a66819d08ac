package ledger

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEntryJSONShape(t *testing.T) {
	e := buildChain(1)[0]
	e.Metadata = ""

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	s := string(data)
	for _, want := range []string{
		`"id":1`,
		`"entityType":"VOTE"`,
		`"entityId":100`,
		`"action":"CAST"`,
		`"metadata":null`,
		`"previousHash":null`,
		`"createdAt":"2026-01-02T03:04:05.123Z"`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("Expected %s in %s", want, s)
		}
	}
}

func TestEntryJSONLinkedPreviousHash(t *testing.T) {
	second := buildChain(2)[1]
	data, err := json.Marshal(second)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	if want := `"previousHash":"` + second.PreviousHash + `"`; !strings.Contains(string(data), want) {
		t.Errorf("Expected %s in %s", want, data)
	}
}

func TestEntryJSONGenesisForms(t *testing.T) {
	base := `{"id":1,"entityType":"POLL","entityId":42,"action":"CREATE","hash":"%s","createdAt":"2026-01-02T03:04:05.123Z"%s}`
	hash := ComputeHash(GenesisHash, EntityPoll, 42, ActionCreate, "", testTime)

	for name, prev := range map[string]string{
		"missing": ``,
		"null":    `,"previousHash":null`,
		"empty":   `,"previousHash":""`,
		"zeros":   `,"previousHash":"` + GenesisHash + `"`,
	} {
		var e Entry
		doc := strings.Replace(strings.Replace(base, "%s", hash, 1), "%s", prev, 1)
		if err := json.Unmarshal([]byte(doc), &e); err != nil {
			t.Fatalf("%s: failed to unmarshal: %v", name, err)
		}
		if e.PreviousHash != GenesisHash {
			t.Errorf("%s: expected genesis sentinel, got %q", name, e.PreviousHash)
		}
		if e.Metadata != "" {
			t.Errorf("%s: expected empty metadata, got %q", name, e.Metadata)
		}
		if e.ComputeHash() != e.Hash {
			t.Errorf("%s: decoded entry no longer verifies", name)
		}
	}
}

func TestEntryJSONRoundTripVerifies(t *testing.T) {
	entries := buildChain(4)
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	var decoded []Entry
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if report := (Verifier{Anchor: GenesisHash}).Verify(decoded); !report.Valid {
		t.Errorf("Decoded chain should verify: %+v", report.Breaks)
	}
}

func TestEventValidate(t *testing.T) {
	long := strings.Repeat("X", maxActionLen+1)
	tests := []struct {
		name string
		ev   Event
		ok   bool
	}{
		{"valid", Event{EntityType: EntityPoll, EntityID: 1, Action: ActionCreate}, true},
		{"custom action", Event{EntityType: EntityVoter, EntityID: 1, Action: "BULK_IMPORT"}, true},
		{"unknown type", Event{EntityType: "BALLOT", EntityID: 1, Action: ActionCreate}, false},
		{"zero id", Event{EntityType: EntityPoll, Action: ActionCreate}, false},
		{"negative id", Event{EntityType: EntityPoll, EntityID: -5, Action: ActionCreate}, false},
		{"long action", Event{EntityType: EntityPoll, EntityID: 1, Action: long}, false},
		{"lower-case action", Event{EntityType: EntityPoll, EntityID: 1, Action: "create"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if tt.ok && err != nil {
				t.Errorf("Expected valid, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestParseEntityType(t *testing.T) {
	if got, err := ParseEntityType(" vote "); err != nil || got != EntityVote {
		t.Errorf("ParseEntityType(vote) = %q, %v", got, err)
	}
	if _, err := ParseEntityType("ballot"); err == nil {
		t.Error("Expected error for unknown entity type")
	}
}
