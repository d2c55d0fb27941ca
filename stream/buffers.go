package stream

import (
	"github.com/pkg/errors"
)

// BufferCapacity is the capacity of each of the two transfer buffers. It
// matches the maximum frame payload size of the framing protocol, so a full
// output buffer always fits into a single frame.
const BufferCapacity = 1<<15 - 1

// Source provides the byte input for a transfer. Read fills p with up to
// len(p) bytes, returning the number of bytes read and whether the end of the
// input has been reached. A Source may return data and signal end-of-input in
// the same call. Once end-of-input has been signaled, Read won't be called
// again.
type Source interface {
	Read(p []byte) (int, bool, error)
}

// Sink receives the byte output of a transfer. Each Write call delivers one
// drained output buffer as a unit. The final flag indicates that this is the
// last write of the transfer; it may accompany an empty buffer, in which case
// sinks with end-of-stream signaling of their own (e.g. framed network sinks)
// should still emit their marker.
type Sink interface {
	Write(p []byte, final bool) error
}

// Buffers is the pair of fixed-capacity buffers shared between the transfer
// loop and a transform job. The input region holds bytes read from the source
// but not yet consumed by the job; the output region holds bytes produced by
// the job but not yet drained to the sink. A Buffers instance is owned by
// exactly one transfer for its lifetime.
type Buffers struct {
	// in is the input region.
	in []byte
	// inStart is the offset of the first unconsumed input byte.
	inStart int
	// inCount is the number of unconsumed input bytes.
	inCount int
	// eof indicates that the source has reported end-of-input.
	eof bool
	// out is the output region.
	out []byte
	// outCount is the number of pending output bytes.
	outCount int
}

// NewBuffers allocates a buffer pair with the standard capacity.
func NewBuffers() *Buffers {
	return &Buffers{
		in:  make([]byte, BufferCapacity),
		out: make([]byte, BufferCapacity),
	}
}

// Input returns the unconsumed input bytes. The slice is only valid until the
// next Refill call.
func (b *Buffers) Input() []byte {
	return b.in[b.inStart : b.inStart+b.inCount]
}

// ConsumeInput marks the first n unconsumed input bytes as consumed.
func (b *Buffers) ConsumeInput(n int) {
	if n > b.inCount {
		panic("consumed more input than available")
	}
	b.inStart += n
	b.inCount -= n
}

// InputEOF indicates whether the source has reported end-of-input.
func (b *Buffers) InputEOF() bool {
	return b.eof
}

// OutputFree returns the unused portion of the output region. The slice is
// only valid until the next Drain call.
func (b *Buffers) OutputFree() []byte {
	return b.out[b.outCount:]
}

// ProduceOutput marks the first n bytes of the free output region as pending
// output.
func (b *Buffers) ProduceOutput(n int) {
	if n > len(b.out)-b.outCount {
		panic("produced more output than available space")
	}
	b.outCount += n
}

// PendingOutput returns the number of pending output bytes.
func (b *Buffers) PendingOutput() int {
	return b.outCount
}

// Refill reads from the source into the free portion of the input region. If
// unconsumed leftover bytes are present, they are first shifted to the start
// of the region, preserving their order, so that unconsumed input is always
// contiguous from the region's base. Refill is a no-op once end-of-input has
// been observed or while the region is full.
func (b *Buffers) Refill(source Source) error {
	// Nothing to do once the source is exhausted.
	if b.eof {
		return nil
	}

	// Shift any leftover tail to the front of the region.
	if b.inCount > 0 && b.inStart > 0 {
		copy(b.in, b.in[b.inStart:b.inStart+b.inCount])
	}
	b.inStart = 0

	// Don't issue a read if there's no space for it. The transform will have
	// to consume input before more can be buffered.
	if b.inCount == len(b.in) {
		return nil
	}

	// Fill the remaining capacity.
	n, eof, err := source.Read(b.in[b.inCount:])
	if err != nil {
		return errors.Wrap(err, "unable to read from source")
	}
	b.inCount += n
	if eof {
		b.eof = true
	}

	// Success.
	return nil
}

// Drain passes the pending output bytes to the sink as one unit and resets
// the output region. If final is set, the sink is invoked even when there is
// no pending output so that it can emit any end-of-stream marker of its own.
func (b *Buffers) Drain(sink Sink, final bool) error {
	// Skip empty non-final drains.
	if b.outCount == 0 && !final {
		return nil
	}

	// Hand the pending output to the sink. The output region is only reset
	// once the sink confirms the write.
	if err := sink.Write(b.out[:b.outCount], final); err != nil {
		return errors.Wrap(err, "unable to write to sink")
	}
	b.outCount = 0

	// Success.
	return nil
}
