package ledger

import (
	"context"
	"sort"
	"time"
)

// Head identifies the newest entry of the chain.
type Head struct {
	ID        int64
	Hash      string
	CreatedAt time.Time
}

// EmptyHead is the head of a ledger with no entries.
func EmptyHead() Head {
	return Head{ID: 0, Hash: GenesisHash}
}

// Order selects the direction of List results.
type Order int

const (
	Ascending Order = iota
	Descending
)

// ListOptions filters List results. Zero values mean "no filter".
type ListOptions struct {
	EntityType EntityType
	EntityID   int64
	Action     string
	AfterID    int64
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
	Order      Order
}

// Match reports whether e passes the field filters (ignores paging and order).
func (o ListOptions) Match(e Entry) bool {
	if o.EntityType != "" && e.EntityType != o.EntityType {
		return false
	}
	if o.EntityID > 0 && e.EntityID != o.EntityID {
		return false
	}
	if o.Action != "" && e.Action != o.Action {
		return false
	}
	if o.AfterID > 0 && e.ID <= o.AfterID {
		return false
	}
	if !o.Since.IsZero() && e.CreatedAt.Before(o.Since) {
		return false
	}
	if !o.Until.IsZero() && e.CreatedAt.After(o.Until) {
		return false
	}
	return true
}

// Store is the durable, ordered append log underneath the service.
//
// Implementations must return List results ordered by ID, which equals chain
// order, and must make AppendIfHeadIs atomic: either the entry becomes the
// new head or nothing changes.
type Store interface {
	// Head returns the newest entry's id and hash, or EmptyHead.
	Head(ctx context.Context) (Head, error)

	// AppendIfHeadIs appends entry only if the head still has expectedID and
	// expectedHash, returning the assigned id. Otherwise ErrHeadConflict.
	AppendIfHeadIs(ctx context.Context, expectedID int64, expectedHash string, entry Entry) (int64, error)

	// List returns entries matching opts.
	List(ctx context.Context, opts ListOptions) ([]Entry, error)

	Close() error
}

// page applies ordering and offset/limit to entries already sorted ascending.
func page(entries []Entry, opts ListOptions) []Entry {
	if opts.Order == Descending {
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].ID > entries[j].ID })
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return []Entry{}
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries
}
