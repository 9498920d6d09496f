// Package idempotency lets clients retry mutating checkout requests safely.
// A client sends an Idempotency-Key header; the first request executes and
// its response is stored, retries with the same key replay that response.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a stored response stays replayable.
const DefaultTTL = 24 * time.Hour

// ErrDigestMismatch is returned when a key is reused for a request whose
// method, path, caller or body differ from the original.
var ErrDigestMismatch = errors.New("idempotency: key reused for a different request")

// Outcome classifies an attempt to claim a key.
type Outcome int

const (
	// OutcomeFirst means the key was unclaimed; the request should execute.
	OutcomeFirst Outcome = iota
	// OutcomeReplay means a stored response exists and should be returned.
	OutcomeReplay
	// OutcomeInFlight means the original request is still executing.
	OutcomeInFlight
)

// Record is the stored response for a completed request.
type Record struct {
	Digest    string
	Completed bool
	Status    int
	Headers   map[string][]string
	Body      []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store persists key claims and their responses.
type Store interface {
	// Claim registers the key for the given request digest. Expired claims
	// count as unclaimed.
	Claim(ctx context.Context, key, digest string, now time.Time, ttl time.Duration) (Outcome, Record, error)
	// Complete stores the response to replay for later retries.
	Complete(ctx context.Context, key, digest string, rec Record, now time.Time, ttl time.Duration) error
	// Abandon drops a claim whose response could not be stored so the
	// client may retry cleanly.
	Abandon(ctx context.Context, key string) error
	// CleanupExpired deletes up to limit expired records, returning the
	// number removed.
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

func docID(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// hop-by-hop and derived headers are dropped before storing a response so a
// replay does not carry a stale Content-Length or Date.
func storableHeaders(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}
	kept := make(map[string][]string, len(header))
	for name, values := range header {
		switch strings.ToLower(name) {
		case "content-length", "date", "connection", "keep-alive", "transfer-encoding", "upgrade", "te", "trailers":
			continue
		}
		copied := make([]string, len(values))
		copy(copied, values)
		kept[http.CanonicalHeaderKey(name)] = copied
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}
