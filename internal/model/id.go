package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string. Used for submission ids and blob refs;
// ULIDs sort lexicographically by creation time, which gives a deterministic
// tiebreak for submissions sharing a timestamp.
func NewID() string {
	return ulid.Make().String()
}
