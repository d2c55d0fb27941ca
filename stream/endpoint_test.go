package stream

import (
	"bytes"
	"testing"

	"github.com/larsewi/librsync/framing"
)

func TestFrameSourceAndSink(t *testing.T) {
	// Transmit a sequence of framed payloads followed by an end-of-stream
	// marker.
	var wire bytes.Buffer
	sink := NewFrameSink(framing.NewConn(&wire))
	if err := sink.Write([]byte("hello "), false); err != nil {
		t.Fatal("unable to write frame:", err)
	}
	if err := sink.Write([]byte("world"), false); err != nil {
		t.Fatal("unable to write frame:", err)
	}
	if err := sink.Write(nil, true); err != nil {
		t.Fatal("unable to write end-of-stream marker:", err)
	}

	// Read the stream back through a frame source.
	source := NewFrameSource(framing.NewConn(&wire))
	var received bytes.Buffer
	buffer := make([]byte, 64)
	for {
		n, eof, err := source.Read(buffer)
		if err != nil {
			t.Fatal("unable to read from frame source:", err)
		}
		received.Write(buffer[:n])
		if eof {
			break
		}
	}
	if received.String() != "hello world" {
		t.Errorf("received contents did not match: %q", received.String())
	}
}

func TestFrameSourceSplitDelivery(t *testing.T) {
	// A frame larger than the caller's read buffer must be delivered in
	// pieces, with end-of-input only reported once the final frame's payload
	// has been fully handed out.
	payload := bytes.Repeat([]byte{0xAB}, 100)
	var wire bytes.Buffer
	if err := framing.NewConn(&wire).Send(payload, true); err != nil {
		t.Fatal("unable to send frame:", err)
	}

	source := NewFrameSource(framing.NewConn(&wire))
	var received bytes.Buffer
	buffer := make([]byte, 33)
	sawEOF := false
	for i := 0; i < 10 && !sawEOF; i++ {
		n, eof, err := source.Read(buffer)
		if err != nil {
			t.Fatal("unable to read from frame source:", err)
		}
		if eof && received.Len()+n != len(payload) {
			t.Error("end-of-input reported before full delivery")
		}
		received.Write(buffer[:n])
		sawEOF = eof
	}
	if !sawEOF {
		t.Fatal("end-of-input never reported")
	}
	if !bytes.Equal(received.Bytes(), payload) {
		t.Error("delivered payload did not match")
	}
}
