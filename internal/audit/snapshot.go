// Package audit provides offline tooling for third-party auditors: portable
// ledger snapshots and human-readable verification reports.
package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/votingplatform/election-ledger/internal/ledger"
)

// Errors
var (
	ErrSnapshotMismatch = errors.New("snapshot header does not match its entries")
	ErrSnapshotInvalid  = errors.New("invalid snapshot")
)

// Snapshot is an exported copy of the ledger with a summary header.
type Snapshot struct {
	ID         uuid.UUID      `json:"id"`
	ExportedAt time.Time      `json:"exportedAt"`
	Count      int            `json:"count"`
	HeadHash   string         `json:"headHash"`
	HeadCID    string         `json:"headCid,omitempty"`
	Entries    []ledger.Entry `json:"entries"`
}

// NewSnapshot builds a snapshot of entries, which must be in chain order.
func NewSnapshot(entries []ledger.Entry, exportedAt time.Time) (*Snapshot, error) {
	if entries == nil {
		entries = []ledger.Entry{}
	}
	s := &Snapshot{
		ID:         uuid.New(),
		ExportedAt: exportedAt.UTC(),
		Count:      len(entries),
		HeadHash:   ledger.GenesisHash,
		Entries:    entries,
	}
	if len(entries) > 0 {
		s.HeadHash = entries[len(entries)-1].Hash
		c, err := ledger.EntryCID(s.HeadHash)
		if err != nil {
			return nil, fmt.Errorf("failed to derive head CID: %w", err)
		}
		s.HeadCID = c.String()
	}
	return s, nil
}

// Write encodes the snapshot as indented JSON.
func (s *Snapshot) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// WriteFile writes the snapshot to path.
func (s *Snapshot) WriteFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if err := s.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Read decodes a snapshot from r.
func Read(r io.Reader) (*Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// ReadFile reads a snapshot file.
func ReadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Decode accepts either a snapshot document or a bare JSON array of entries
// as served by GET /api/ledger. Entries are put back into chain order.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	bare := bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("["))
	if bare {
		var entries []ledger.Entry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSnapshotInvalid, err)
		}
		s.Entries = entries
	} else if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotInvalid, err)
	}
	if s.Entries == nil {
		s.Entries = []ledger.Entry{}
	}

	sort.SliceStable(s.Entries, func(i, j int) bool { return s.Entries[i].ID < s.Entries[j].ID })
	for i := 1; i < len(s.Entries); i++ {
		if s.Entries[i].ID == s.Entries[i-1].ID {
			return nil, fmt.Errorf("%w: duplicate entry id %d", ErrSnapshotInvalid, s.Entries[i].ID)
		}
	}

	// Bare arrays carry no header; derive one.
	if bare {
		s.Count = len(s.Entries)
		s.HeadHash = ledger.GenesisHash
		if len(s.Entries) > 0 {
			s.HeadHash = s.Entries[len(s.Entries)-1].Hash
		}
	}
	return &s, nil
}

// StartsAtGenesis reports whether the snapshot holds the chain from entry 1.
func (s *Snapshot) StartsAtGenesis() bool {
	return len(s.Entries) > 0 && s.Entries[0].ID == 1
}

// Verify checks the snapshot's chain and then its header. A snapshot that
// starts at entry 1 is anchored at GenesisHash; a partial one is checked
// only internally. Chain breaks are returned in the report, header problems
// as ErrSnapshotMismatch.
func (s *Snapshot) Verify() (ledger.Report, error) {
	v := ledger.Verifier{}
	if s.StartsAtGenesis() {
		v.Anchor = ledger.GenesisHash
	}
	report := v.Verify(s.Entries)

	if s.Count != len(s.Entries) {
		return report, fmt.Errorf("%w: count %d, found %d entries", ErrSnapshotMismatch, s.Count, len(s.Entries))
	}
	want := ledger.GenesisHash
	if len(s.Entries) > 0 {
		want = s.Entries[len(s.Entries)-1].Hash
	}
	if s.HeadHash != want {
		return report, fmt.Errorf("%w: head hash %s, last entry %s", ErrSnapshotMismatch, s.HeadHash, want)
	}
	if s.HeadCID != "" {
		c, err := ledger.EntryCID(want)
		if err != nil || c.String() != s.HeadCID {
			return report, fmt.Errorf("%w: head CID %s", ErrSnapshotMismatch, s.HeadCID)
		}
	}
	return report, nil
}
