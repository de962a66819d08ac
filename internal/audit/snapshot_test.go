package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/votingplatform/election-ledger/internal/ledger"
)

var exportTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func chain(n int) []ledger.Entry {
	entries := make([]ledger.Entry, 0, n)
	prev := ledger.GenesisHash
	for i := 0; i < n; i++ {
		e := ledger.Entry{
			ID:           int64(i + 1),
			EntityType:   ledger.EntityVote,
			EntityID:     int64(500 + i),
			Action:       ledger.ActionCast,
			Metadata:     "poll:9|candidate:1",
			CreatedAt:    exportTime.Add(time.Duration(i) * time.Second),
			PreviousHash: prev,
		}
		e.Hash = e.ComputeHash()
		prev = e.Hash
		entries = append(entries, e)
	}
	return entries
}

func TestSnapshotRoundTrip(t *testing.T) {
	snap, err := NewSnapshot(chain(5), exportTime)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.Count)
	assert.NotEmpty(t, snap.HeadCID)

	path := filepath.Join(t.TempDir(), "ledger-export.json")
	require.NoError(t, snap.WriteFile(path))

	loaded, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, loaded.ID)
	assert.Equal(t, snap.HeadHash, loaded.HeadHash)
	assert.Equal(t, snap.Entries, loaded.Entries)

	report, err := loaded.Verify()
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 5, report.Checked)
}

func TestSnapshotEmpty(t *testing.T) {
	snap, err := NewSnapshot(nil, exportTime)
	require.NoError(t, err)
	assert.Equal(t, ledger.GenesisHash, snap.HeadHash)
	assert.Empty(t, snap.HeadCID)

	var buf bytes.Buffer
	require.NoError(t, snap.Write(&buf))
	assert.Contains(t, buf.String(), `"entries": []`)

	report, err := snap.Verify()
	require.NoError(t, err)
	assert.True(t, report.Valid)
}

func TestDecodeBareArrayNewestFirst(t *testing.T) {
	entries := chain(4)
	reversed := []ledger.Entry{entries[3], entries[2], entries[1], entries[0]}
	data, err := json.Marshal(reversed)
	require.NoError(t, err)

	snap, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, snap.Entries, 4)
	assert.Equal(t, int64(1), snap.Entries[0].ID)
	assert.Equal(t, 4, snap.Count)
	assert.Equal(t, entries[3].Hash, snap.HeadHash)

	report, err := snap.Verify()
	require.NoError(t, err)
	assert.True(t, report.Valid)
}

func TestDecodeRejectsDuplicates(t *testing.T) {
	entries := chain(2)
	data, _ := json.Marshal([]ledger.Entry{entries[0], entries[1], entries[1]})
	_, err := Decode(data)
	assert.ErrorIs(t, err, ErrSnapshotInvalid)

	_, err = Decode([]byte("{not json"))
	assert.ErrorIs(t, err, ErrSnapshotInvalid)
}

func TestSnapshotPartialExport(t *testing.T) {
	entries := chain(6)
	snap, err := NewSnapshot(entries[3:], exportTime)
	require.NoError(t, err)
	assert.False(t, snap.StartsAtGenesis())

	report, err := snap.Verify()
	require.NoError(t, err)
	assert.True(t, report.Valid, "partial export should verify internally: %+v", report.Breaks)
}

func TestSnapshotDetectsTampering(t *testing.T) {
	snap, err := NewSnapshot(chain(3), exportTime)
	require.NoError(t, err)
	snap.Entries[1].Metadata = "poll:9|candidate:2"

	report, err := snap.Verify()
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, 1, report.Count(ledger.ContentMismatch))
}

func TestSnapshotHeaderMismatch(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Snapshot)
	}{
		{"count", func(s *Snapshot) { s.Count++ }},
		{"head hash", func(s *Snapshot) { s.HeadHash = s.Entries[0].Hash }},
		{"head cid", func(s *Snapshot) { s.HeadCID = "bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy" }},
		{"truncated", func(s *Snapshot) { s.Entries = s.Entries[:2] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := NewSnapshot(chain(3), exportTime)
			require.NoError(t, err)
			tt.mutate(snap)

			_, err = snap.Verify()
			assert.True(t, errors.Is(err, ErrSnapshotMismatch), "got %v", err)
		})
	}
}

func TestPrintReport(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	PrintReport(&buf, "ledger.db", ledger.Report{Valid: true, Checked: 3, Breaks: []ledger.Break{}}, nil)
	assert.Contains(t, buf.String(), "Entries checked: 3")
	assert.Contains(t, buf.String(), "Chain intact")

	entries := chain(3)
	entries[2].Hash = strings.Repeat("d", 64)
	report := ledger.Verify(entries)

	buf.Reset()
	PrintReport(&buf, "export.json", report, ErrSnapshotMismatch)
	out := buf.String()
	assert.Contains(t, out, "Chain broken: 0 link, 1 content mismatches")
	assert.Contains(t, out, "CONTENT_MISMATCH")
	assert.Contains(t, out, strings.Repeat("d", 64))
	assert.Contains(t, out, ErrSnapshotMismatch.Error())
}
