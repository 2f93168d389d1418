package store

import "github.com/oklog/ulid/v2"

// NewID returns a ULID string. IDs sort by creation time, which keeps
// ORDER BY id usable as a tiebreaker.
func NewID() string {
	return ulid.Make().String()
}
