// Package ledger implements the tamper-evident election audit ledger.
//
// # Overview
//
// Every state-changing event of the election platform (poll lifecycle,
// candidate changes, vote casts, voter roster mutations) is appended as an
// Entry. Each entry carries the hash of its predecessor, so the entries form
// a hash chain: editing any stored entry after the fact breaks either its own
// hash or the link from its successor.
//
// # Hash Chain
//
// Each entry includes:
//   - PreviousHash: the Hash of the preceding entry (GenesisHash for the first entry)
//   - Hash: SHA-256 over the canonical encoding of the entry fields and PreviousHash
//
// The canonical encoding is versioned ("ledger-v1") and length-prefixes every
// field, so two independent implementations produce identical digests:
//
//	"ledger-v1"
//	len(previousHash) ":" previousHash ";"
//	len(entityType)   ":" entityType   ";"
//	len(entityID)     ":" entityID     ";"   (base 10)
//	len(action)       ":" action       ";"
//	len(metadata)     ":" metadata     ";"
//	len(createdAt)    ":" createdAt    ";"   (Unix milliseconds, base 10)
//
// # Appending
//
// Service.Append is the only write path. It serializes in-process producers
// behind the append lock and relies on Store.AppendIfHeadIs, a
// compare-and-append primitive, to detect writers in other processes. A
// conflicting append is retried with exponential backoff until the retry
// budget runs out, at which point ErrContentionExceeded is returned.
//
//	svc := ledger.NewService(store, ledger.DefaultOptions())
//	entry, err := svc.Append(ctx, ledger.Event{
//	    EntityType: ledger.EntityPoll,
//	    EntityID:   42,
//	    Action:     ledger.ActionCreate,
//	})
//
// # Verification
//
// Verify walks a chronologically ordered slice of entries and reports every
// LinkMismatch (PreviousHash does not match the predecessor) and every
// ContentMismatch (recomputed hash differs from the stored one). Findings are
// data, not errors; the ledger keeps accepting appends when history is broken.
//
//	report := ledger.Verify(entries)
//	if !report.Valid {
//	    // Tampering detected
//	}
package ledger
