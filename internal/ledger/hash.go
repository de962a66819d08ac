package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strconv"
	"time"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

const (
	// GenesisHash is the PreviousHash of the first entry of every chain.
	GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

	// HashLength is the length of a hex-encoded entry hash.
	HashLength = sha256.Size * 2

	hashVersion = "ledger-v1"
)

// ComputeHash returns the lowercase hex SHA-256 of the canonical encoding of
// an entry. createdAt contributes with millisecond precision.
func ComputeHash(previousHash string, entityType EntityType, entityID int64, action, metadata string, createdAt time.Time) string {
	h := sha256.New()
	io.WriteString(h, hashVersion)
	writeField(h, previousHash)
	writeField(h, string(entityType))
	writeField(h, strconv.FormatInt(entityID, 10))
	writeField(h, action)
	writeField(h, metadata)
	writeField(h, strconv.FormatInt(createdAt.UnixMilli(), 10))
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, v string) {
	io.WriteString(h, strconv.Itoa(len(v)))
	io.WriteString(h, ":")
	io.WriteString(h, v)
	io.WriteString(h, ";")
}

// ValidHash reports whether s looks like a hex-encoded entry hash.
func ValidHash(s string) bool {
	if len(s) != HashLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// EntryCID wraps an entry hash in a CIDv1 (raw codec, sha2-256 multihash) so
// auditors can reference entries with content identifiers.
func EntryCID(entryHash string) (cid.Cid, error) {
	if !ValidHash(entryHash) {
		return cid.Undef, fmt.Errorf("%w: %q", ErrInvalidHash, entryHash)
	}
	digest, err := hex.DecodeString(entryHash)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	multihash, err := mh.Encode(digest, mh.SHA2_256)
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to encode multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, multihash), nil
}
