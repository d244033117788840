package shmbuf

import (
	"context"
	"time"
)

// Entry is one value delivered by a Cursor. Skipped counts the entries that
// were evicted between the previous delivery and this one.
type Entry[T any] struct {
	Seq     uint64
	Value   T
	Skipped uint64
}

// Cursor walks a reader forward one sequence number at a time. It is not safe
// for concurrent use; give each consumer its own cursor.
type Cursor[T any] struct {
	r    *Reader[T]
	next uint64
}

// CursorAt returns a cursor whose first delivery is seq.
func (r *Reader[T]) CursorAt(seq uint64) *Cursor[T] {
	return &Cursor[T]{r: r, next: seq}
}

// CursorAtLatest starts at the newest published entry, or at 0 when nothing
// has been published yet.
func (r *Reader[T]) CursorAtLatest() *Cursor[T] {
	seq, _ := r.Latest()
	return r.CursorAt(seq)
}

// CursorAtOldest starts at the oldest retained entry.
func (r *Reader[T]) CursorAtOldest() *Cursor[T] {
	seq, _ := r.Oldest()
	return r.CursorAt(seq)
}

// Position returns the sequence number the next call to Next will deliver.
func (c *Cursor[T]) Position() uint64 {
	return c.next
}

// Next waits up to timeout for the cursor's next entry. Entries lost to
// eviction are skipped and counted in Entry.Skipped, never silently dropped.
func (c *Cursor[T]) Next(ctx context.Context, timeout time.Duration) (Entry[T], Status, error) {
	deadline := time.Now().Add(timeout)
	var skipped uint64

	for {
		status, err := c.r.WaitForSequence(ctx, c.next, time.Until(deadline))
		if status != Available {
			return Entry[T]{Skipped: skipped}, status, err
		}

		res := c.r.Read(c.next)
		switch res.Status {
		case Available:
			c.next++
			return Entry[T]{Seq: res.Seq, Value: res.Value, Skipped: skipped}, Available, nil
		case Evicted:
			oldest, _ := c.r.Oldest()
			if oldest <= c.next {
				// overwritten mid-read or never completed; step past it
				oldest = c.next + 1
			}
			lost := oldest - c.next
			skipped += lost
			c.next = oldest
			c.r.cfg.Metrics.RecordSkipped(lost)
		default:
			return Entry[T]{Skipped: skipped}, res.Status, nil
		}
	}
}
