// Package escrow implements the lock-based voting-power subsystem: holders
// lock balances through the ownership-token tracker, the curve derives voting
// power from locked balances, and the exit queue meters withdrawals.
//
// Curve math and queue cooldown/fee economics are out of scope here; the
// subsystem holds exactly what cross-component trust and voting-power lookup
// require.
package escrow

import (
	"time"

	"github.com/stagegate-labs/stagegate/pkg/capability"
)

// Clock is the subsystem time source. It is an installed component like any
// other so downstream stage windows share one notion of time.
type Clock struct {
	addr capability.Address
	now  func() time.Time
}

// NewClock creates a clock backed by the wall clock.
func NewClock() *Clock {
	return &Clock{addr: capability.NewAddress("clock"), now: time.Now}
}

// WithNow overrides the time source for deterministic testing.
func (c *Clock) WithNow(now func() time.Time) *Clock {
	c.now = now
	return c
}

// Address returns the clock's instance address.
func (c *Clock) Address() capability.Address { return c.addr }

// Now returns the current subsystem time.
func (c *Clock) Now() time.Time { return c.now() }
