package orchestrator

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

var ephemeralEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)

// newEphemeralID mints a session id for executions that don't persist a
// session record (document-bound, standalone): callers still need a
// stable identifier to report back to the client.
func newEphemeralID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ephemeralEntropy).String()
}
