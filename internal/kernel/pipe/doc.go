// Package pipe implements kernel pipes: bounded byte channels between
// threads and interrupt handlers.
//
// A Pipe moves bytes from writers to readers through a ring buffer. When a
// reader is already waiting, a writer copies straight into the reader's
// buffer and the ring is bypassed; a pipe with no buffer is purely such a
// rendezvous channel.
//
// Every transfer names a minimum, minXfer. Put and Get report success once
// at least minXfer bytes moved; with NoWait they move nothing and return
// EIO when minXfer cannot be met right away, and a timed wait that ends
// short of minXfer returns EAGAIN. The byte count returned is always the
// exact number of bytes moved.
//
// Waiting writers and waiting readers are each served in arrival order.
// Readers and writers are never waiting at the same time, and while readers
// wait the ring is empty.
//
// Example Usage:
//
//	p := pipe.New(make([]byte, 64), pipe.WithName("console"))
//	n, err := p.Put([]byte("hello"), 5, clock.NoWait)
//
//	buf := make([]byte, 16)
//	n, err = p.Get(buf, 1, clock.Millis(100))
package pipe
