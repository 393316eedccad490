package clockx

// Frames is the view of a fixed-size frame table that the clock sweeps over.
// Slot IDs are [0..capacity).
type Frames interface {
	Occupied(id int) bool
	Pinned(id int) bool
	Referenced(id int) bool
	ClearReferenced(id int)
}

// Clock implements CLOCK (second-chance) replacement for a fixed number of slots.
// The clock keeps only the hand; per-slot state lives in the frame table.
type Clock struct {
	hand     int
	capacity int
}

// New returns a clock whose first sweep starts at slot 0.
func New(capacity int) *Clock {
	if capacity <= 0 {
		capacity = 1
	}
	return &Clock{
		hand:     capacity - 1,
		capacity: capacity,
	}
}

func (c *Clock) Capacity() int { return c.capacity }

// Hand returns the slot examined last.
func (c *Clock) Hand() int { return c.hand }

func (c *Clock) advance() {
	c.hand = (c.hand + 1) % c.capacity
}

// Next sweeps from the slot after the hand and returns the first slot that can
// take a new page. victim reports whether the slot is still occupied and must be
// evicted by the caller. ok is false when one full revolution saw only pinned slots.
//
// Referenced slots lose their ref bit and are skipped, so the sweep finishes
// within two revolutions.
func (c *Clock) Next(f Frames) (id int, victim bool, ok bool) {
	n := c.capacity
	busy := 0

	for step := range 2 * n {
		if step == n && busy == n {
			return -1, false, false
		}

		c.advance()
		idx := c.hand

		switch {
		case !f.Occupied(idx):
			return idx, false, true
		case f.Pinned(idx):
			if step < n {
				busy++
			}
		case f.Referenced(idx):
			// Second chance.
			f.ClearReferenced(idx)
		default:
			return idx, true, true
		}
	}

	return -1, false, false
}
