package ledger

// BreakKind classifies a verification finding.
type BreakKind string

const (
	// LinkMismatch: PreviousHash does not equal the predecessor's Hash.
	LinkMismatch BreakKind = "LINK_MISMATCH"
	// ContentMismatch: the recomputed hash differs from the stored Hash.
	ContentMismatch BreakKind = "CONTENT_MISMATCH"
)

// Break describes one point of divergence found by the verifier.
type Break struct {
	EntryID  int64     `json:"entryId"`
	Index    int       `json:"index"`
	Kind     BreakKind `json:"kind"`
	Expected string    `json:"expectedHash"`
	Actual   string    `json:"actualHash"`
}

// Report is the result of a verification run.
type Report struct {
	Valid   bool    `json:"valid"`
	Checked int     `json:"checked"`
	Breaks  []Break `json:"breaks"`
}

// Count returns the number of breaks of the given kind.
func (r Report) Count(kind BreakKind) int {
	n := 0
	for _, b := range r.Breaks {
		if b.Kind == kind {
			n++
		}
	}
	return n
}

// Verifier checks chronologically ordered entries.
//
// When Anchor is set, the first entry must link to it; the ledger itself
// anchors at GenesisHash. Partial exports are verified without an anchor.
type Verifier struct {
	Anchor string
}

// Verify checks entries with no anchor.
func Verify(entries []Entry) Report {
	return Verifier{}.Verify(entries)
}

// Verify walks every entry and records every break; it never stops early.
func (v Verifier) Verify(entries []Entry) Report {
	report := Report{Checked: len(entries), Breaks: []Break{}}

	for i, e := range entries {
		expectedPrev := v.Anchor
		if i > 0 {
			expectedPrev = entries[i-1].Hash
		}
		if expectedPrev != "" && e.PreviousHash != expectedPrev {
			report.Breaks = append(report.Breaks, Break{
				EntryID:  e.ID,
				Index:    i,
				Kind:     LinkMismatch,
				Expected: expectedPrev,
				Actual:   e.PreviousHash,
			})
		}

		if computed := e.ComputeHash(); computed != e.Hash {
			report.Breaks = append(report.Breaks, Break{
				EntryID:  e.ID,
				Index:    i,
				Kind:     ContentMismatch,
				Expected: computed,
				Actual:   e.Hash,
			})
		}
	}

	report.Valid = len(report.Breaks) == 0
	return report
}
