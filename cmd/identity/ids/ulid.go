// Package ids generates the time-ordered ULIDs used for every duo record.
//
// IDs from one process are strictly increasing, including within the same
// millisecond, so "id > watermark" is a valid incremental-read filter.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
	last    ulid.ULID
)

// New returns a 26-char ULID for now. A zero time uses the wall clock.
func New(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	mu.Lock()
	defer mu.Unlock()

	ms := ulid.Timestamp(now)
	if ms < last.Time() {
		ms = last.Time()
	}
	id, err := ulid.New(ms, entropy)
	if err != nil {
		return "", err
	}
	last = id
	return id.String(), nil
}
