package sim

// Clock is a Lamport logical clock for one simulated process.
//
// From Lamport (1978), two implementation rules govern the clock:
//
//	IR1 (internal or send event): increment the clock before the event.
//	IR2 (message receipt): on receiving a message with timestamp t,
//	     set the clock to max(own, t) + 1.
//
// The zero value is ready to use and reads 0, so the first event of a process
// produces clock 1. Clock is not goroutine-safe: each instance is owned
// exclusively by the process loop that drives it, and nothing else ever
// touches it.
type Clock struct {
	ts int64
}

// Tick implements IR1: increment the clock for an internal or send event.
// Returns the new timestamp.
func (c *Clock) Tick() int64 {
	c.ts++
	return c.ts
}

// Observe implements IR2: on receiving a message with timestamp received,
// set the clock to max(own, received) + 1. Returns the new timestamp.
func (c *Clock) Observe(received int64) int64 {
	if received > c.ts {
		c.ts = received
	}
	c.ts++
	return c.ts
}

// Value returns the current clock value without advancing it.
func (c *Clock) Value() int64 { return c.ts }

// Set initializes the clock to a specific value.
func (c *Clock) Set(v int64) { c.ts = v }
