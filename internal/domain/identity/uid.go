package identity

import (
	"fmt"
	"math/rand"
	"time"
)

const (
	uidPrefix      = "HID"
	uidMin         = 100000000
	uidSpan        = 900000000
	uidMaxAttempts = 10
)

// UIDSource produces human-facing account identifiers.
type UIDSource interface {
	// Candidate returns HID followed by a 9-digit number.
	Candidate() string
	// Fallback is used once Candidate has collided uidMaxAttempts times.
	Fallback() string
}

type randomUIDs struct {
	now func() time.Time
}

func (r randomUIDs) Candidate() string {
	return fmt.Sprintf("%s%d", uidPrefix, uidMin+rand.Int63n(uidSpan))
}

func (r randomUIDs) Fallback() string {
	return fmt.Sprintf("%s%d%d", uidPrefix, r.now().UnixMilli(), rand.Intn(1000))
}
