package stream

import (
	"bytes"
	"testing"
)

// staticSource is a Source that yields data from a slice in chunks of at most
// chunkSize bytes, signaling end-of-input alongside the final chunk.
type staticSource struct {
	data      []byte
	chunkSize int
}

func (s *staticSource) Read(p []byte) (int, bool, error) {
	if len(s.data) == 0 {
		return 0, true, nil
	}
	limit := len(p)
	if s.chunkSize > 0 && s.chunkSize < limit {
		limit = s.chunkSize
	}
	n := copy(p[:limit], s.data)
	s.data = s.data[n:]
	return n, false, nil
}

// recordingSink records every drained buffer and the final flag sequence.
type recordingSink struct {
	contents bytes.Buffer
	finals   []bool
}

func (s *recordingSink) Write(p []byte, final bool) error {
	s.contents.Write(p)
	s.finals = append(s.finals, final)
	return nil
}

func TestRefillPreservesLeftover(t *testing.T) {
	// Fill the input region with a recognizable prefix.
	buffers := NewBuffers()
	source := &staticSource{data: []byte("abcdefghij"), chunkSize: 10}
	if err := buffers.Refill(source); err != nil {
		t.Fatal("unable to perform initial refill:", err)
	}
	if string(buffers.Input()) != "abcdefghij" {
		t.Fatal("initial refill yielded unexpected input")
	}

	// Consume part of the input, leaving a leftover tail, and refill from a
	// second source. The leftover must precede the new bytes with no
	// duplication or loss, even though the tail is shifted to the region's
	// base.
	buffers.ConsumeInput(7)
	if err := buffers.Refill(&staticSource{data: []byte("0123"), chunkSize: 4}); err != nil {
		t.Fatal("unable to refill with leftover:", err)
	}
	if string(buffers.Input()) != "hij0123" {
		t.Errorf("leftover not preserved across refill: %q", buffers.Input())
	}
}

func TestRefillAfterEOFIsNoOp(t *testing.T) {
	buffers := NewBuffers()
	source := &staticSource{data: []byte("data"), chunkSize: 4}
	if err := buffers.Refill(source); err != nil {
		t.Fatal("unable to refill:", err)
	}
	buffers.ConsumeInput(4)
	if err := buffers.Refill(source); err != nil {
		t.Fatal("unable to refill at end of source:", err)
	}
	if !buffers.InputEOF() {
		t.Fatal("end-of-input not observed")
	}

	// A refill after end-of-input must not touch the source.
	if err := buffers.Refill(nil); err != nil {
		t.Error("refill after end-of-input failed:", err)
	}
}

func TestRefillBounded(t *testing.T) {
	// A source with more data than the region's capacity must only be read
	// up to capacity.
	data := make([]byte, 4*BufferCapacity)
	source := &staticSource{data: data}
	buffers := NewBuffers()
	if err := buffers.Refill(source); err != nil {
		t.Fatal("unable to refill:", err)
	}
	if len(buffers.Input()) != BufferCapacity {
		t.Error("refill did not fill to capacity")
	}

	// With the region full, a refill must be a no-op rather than an
	// overflow.
	if err := buffers.Refill(source); err != nil {
		t.Fatal("refill of full region failed:", err)
	}
	if len(buffers.Input()) != BufferCapacity {
		t.Error("refill of full region changed occupancy")
	}
}

func TestDrainResetsOutput(t *testing.T) {
	buffers := NewBuffers()
	copy(buffers.OutputFree(), "pending")
	buffers.ProduceOutput(7)

	sink := &recordingSink{}
	if err := buffers.Drain(sink, false); err != nil {
		t.Fatal("unable to drain:", err)
	}
	if sink.contents.String() != "pending" {
		t.Error("drained contents did not match pending output")
	}
	if buffers.PendingOutput() != 0 {
		t.Error("drain did not reset the output region")
	}

	// An empty non-final drain must not invoke the sink, but an empty final
	// drain must, so the sink can emit its end-of-stream marker.
	if err := buffers.Drain(sink, false); err != nil {
		t.Fatal("unable to perform empty drain:", err)
	}
	if len(sink.finals) != 1 {
		t.Error("empty non-final drain invoked the sink")
	}
	if err := buffers.Drain(sink, true); err != nil {
		t.Fatal("unable to perform final drain:", err)
	}
	if len(sink.finals) != 2 || !sink.finals[1] {
		t.Error("final drain did not reach the sink")
	}
}
