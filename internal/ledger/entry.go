package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// EntityType tags the subject of a ledger event.
type EntityType string

// Entity types
const (
	EntityPoll      EntityType = "POLL"
	EntityCandidate EntityType = "CANDIDATE"
	EntityVote      EntityType = "VOTE"
	EntityVoter     EntityType = "VOTER"
)

// Common actions. The vocabulary is open; producers may use others.
const (
	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
	ActionClose  = "CLOSE"
	ActionCast   = "CAST"
	ActionImport = "IMPORT"
)

const maxActionLen = 32

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityPoll, EntityCandidate, EntityVote, EntityVoter:
		return true
	}
	return false
}

// ParseEntityType parses a case-insensitive entity type name.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown entity type %q", ErrInvalidEvent, s)
	}
	return t, nil
}

// Event is what producers hand to Service.Append. Timestamps and hashes are
// always assigned by the ledger.
type Event struct {
	EntityType EntityType
	EntityID   int64
	Action     string
	Metadata   string
}

func (ev Event) normalize() Event {
	ev.EntityType = EntityType(strings.ToUpper(strings.TrimSpace(string(ev.EntityType))))
	ev.Action = strings.ToUpper(strings.TrimSpace(ev.Action))
	return ev
}

// Validate checks that the event can be hashed and stored.
func (ev Event) Validate() error {
	if !ev.EntityType.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", ErrInvalidEvent, ev.EntityType)
	}
	if ev.EntityID <= 0 {
		return fmt.Errorf("%w: entity id must be positive, got %d", ErrInvalidEvent, ev.EntityID)
	}
	if ev.Action == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidEvent)
	}
	if len(ev.Action) > maxActionLen {
		return fmt.Errorf("%w: action longer than %d bytes", ErrInvalidEvent, maxActionLen)
	}
	for _, r := range ev.Action {
		if (r < 'A' || r > 'Z') && r != '_' {
			return fmt.Errorf("%w: action %q must be upper-case letters or underscores", ErrInvalidEvent, ev.Action)
		}
	}
	if !utf8.ValidString(ev.Metadata) {
		return fmt.Errorf("%w: metadata is not valid UTF-8", ErrInvalidEvent)
	}
	return nil
}

// Entry is a single immutable ledger record.
type Entry struct {
	ID           int64
	EntityType   EntityType
	EntityID     int64
	Action       string
	Metadata     string
	CreatedAt    time.Time
	PreviousHash string
	Hash         string
}

// IsGenesis reports whether the entry claims to be the first of the chain.
func (e Entry) IsGenesis() bool {
	return e.PreviousHash == GenesisHash
}

// ComputeHash recomputes the entry hash from its stored fields.
func (e Entry) ComputeHash() string {
	return ComputeHash(e.PreviousHash, e.EntityType, e.EntityID, e.Action, e.Metadata, e.CreatedAt)
}

// entryJSON is the wire shape shared with the admin UI.
type entryJSON struct {
	ID           int64      `json:"id"`
	EntityType   EntityType `json:"entityType"`
	EntityID     int64      `json:"entityId"`
	Action       string     `json:"action"`
	Hash         string     `json:"hash"`
	PreviousHash *string    `json:"previousHash"`
	Metadata     *string    `json:"metadata"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// MarshalJSON emits createdAt in UTC, metadata as null when empty and
// previousHash as null for the genesis entry.
func (e Entry) MarshalJSON() ([]byte, error) {
	out := entryJSON{
		ID:         e.ID,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Action:     e.Action,
		Hash:       e.Hash,
		CreatedAt:  e.CreatedAt.UTC(),
	}
	if !e.IsGenesis() && e.PreviousHash != "" {
		out.PreviousHash = &e.PreviousHash
	}
	if e.Metadata != "" {
		out.Metadata = &e.Metadata
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts a null or empty previousHash as the genesis sentinel.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var in entryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = Entry{
		ID:           in.ID,
		EntityType:   in.EntityType,
		EntityID:     in.EntityID,
		Action:       in.Action,
		Hash:         in.Hash,
		PreviousHash: GenesisHash,
		CreatedAt:    in.CreatedAt.UTC(),
	}
	if in.PreviousHash != nil && *in.PreviousHash != "" {
		e.PreviousHash = *in.PreviousHash
	}
	if in.Metadata != nil {
		e.Metadata = *in.Metadata
	}
	return nil
}
