package xid

import "github.com/google/uuid"

// New returns a time-ordered UUIDv7 string. Rows keyed by these ids sort
// in creation order, which the delivery history relies on as a tiebreaker.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
