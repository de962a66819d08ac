package ledger

import (
	"strings"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

var testTime = time.Date(2026, 1, 2, 3, 4, 5, 123000000, time.UTC)

func TestComputeHashKnownVectors(t *testing.T) {
	h1 := ComputeHash(GenesisHash, EntityPoll, 42, ActionCreate, "", testTime)
	if h1 != "608812b6ebe0af2f4c3294d446771922446e27466ca0ee0711e890c4bc1e9020" {
		t.Fatalf("Unexpected genesis hash: %s", h1)
	}

	h2 := ComputeHash(h1, EntityVote, 884, ActionCast, "poll:42|candidate:3|voter:884", testTime.Add(time.Second))
	if h2 != "5f02637606492d8fbd10c576698a3d7dabb7c2836d73db01fcac63fc26fe26a3" {
		t.Fatalf("Unexpected second hash: %s", h2)
	}
}

func TestComputeHashDeterministic(t *testing.T) {
	first := ComputeHash(GenesisHash, EntityVoter, 7, ActionImport, "voter:7", testTime)
	for i := 0; i < 100; i++ {
		if got := ComputeHash(GenesisHash, EntityVoter, 7, ActionImport, "voter:7", testTime); got != first {
			t.Fatalf("Hash changed on call %d: %s != %s", i, got, first)
		}
	}

	// Same instant in another zone hashes identically.
	local := testTime.In(time.FixedZone("UTC+5", 5*3600))
	if got := ComputeHash(GenesisHash, EntityVoter, 7, ActionImport, "voter:7", local); got != first {
		t.Errorf("Hash depends on time zone: %s != %s", got, first)
	}

	// Sub-millisecond precision is not part of the encoding.
	if got := ComputeHash(GenesisHash, EntityVoter, 7, ActionImport, "voter:7", testTime.Add(400*time.Microsecond)); got != first {
		t.Errorf("Hash depends on sub-millisecond precision")
	}
}

func TestComputeHashFormat(t *testing.T) {
	h := ComputeHash(GenesisHash, EntityPoll, 1, ActionCreate, "", testTime)
	if len(h) != HashLength {
		t.Fatalf("Expected %d hex chars, got %d", HashLength, len(h))
	}
	if h != strings.ToLower(h) || !ValidHash(h) {
		t.Errorf("Hash should be lowercase hex: %s", h)
	}
}

func TestComputeHashUnambiguous(t *testing.T) {
	// Moving a delimiter between fields must change the digest.
	a := ComputeHash(GenesisHash, EntityPoll, 1, "CREATE", "a|b", testTime)
	b := ComputeHash(GenesisHash, EntityPoll, 1, "CREATE|a", "b", testTime)
	if a == b {
		t.Error("Field boundaries should be part of the hash")
	}

	c := ComputeHash(GenesisHash, EntityPoll, 1, "CREATE", "1:x;", testTime)
	d := ComputeHash(GenesisHash, EntityPoll, 1, "CREATE", "", testTime)
	if c == d {
		t.Error("Metadata with encoding characters should not collide")
	}
}

func TestComputeHashEveryFieldMatters(t *testing.T) {
	base := ComputeHash(GenesisHash, EntityPoll, 1, ActionCreate, "m", testTime)
	variants := map[string]string{
		"previousHash": ComputeHash(strings.Repeat("1", 64), EntityPoll, 1, ActionCreate, "m", testTime),
		"entityType":   ComputeHash(GenesisHash, EntityCandidate, 1, ActionCreate, "m", testTime),
		"entityId":     ComputeHash(GenesisHash, EntityPoll, 2, ActionCreate, "m", testTime),
		"action":       ComputeHash(GenesisHash, EntityPoll, 1, ActionUpdate, "m", testTime),
		"metadata":     ComputeHash(GenesisHash, EntityPoll, 1, ActionCreate, "n", testTime),
		"createdAt":    ComputeHash(GenesisHash, EntityPoll, 1, ActionCreate, "m", testTime.Add(time.Millisecond)),
	}
	for field, h := range variants {
		if h == base {
			t.Errorf("Changing %s did not change the hash", field)
		}
	}
}

func TestValidHash(t *testing.T) {
	cases := map[string]bool{
		GenesisHash:              true,
		strings.Repeat("ab", 32): true,
		strings.Repeat("AB", 32): false,
		strings.Repeat("a", 63):  false,
		strings.Repeat("g", 64):  false,
		"":                       false,
	}
	for in, want := range cases {
		if got := ValidHash(in); got != want {
			t.Errorf("ValidHash(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestEntryCID(t *testing.T) {
	h := ComputeHash(GenesisHash, EntityPoll, 42, ActionCreate, "", testTime)
	c, err := EntryCID(h)
	if err != nil {
		t.Fatalf("Failed to build CID: %v", err)
	}
	if c.Version() != 1 || c.Type() != cid.Raw {
		t.Errorf("Expected CIDv1 raw, got v%d codec %d", c.Version(), c.Type())
	}

	decoded, err := mh.Decode(c.Hash())
	if err != nil {
		t.Fatalf("Failed to decode multihash: %v", err)
	}
	if decoded.Code != mh.SHA2_256 {
		t.Errorf("Expected sha2-256 multihash, got %d", decoded.Code)
	}

	again, _ := EntryCID(h)
	if !c.Equals(again) {
		t.Error("CID should be deterministic")
	}

	if _, err := EntryCID("not-a-hash"); err == nil {
		t.Error("Expected error for invalid hash")
	}
}
