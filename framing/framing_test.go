package framing

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// duplexBuffer adapts a bytes.Buffer into the io.ReadWriter expected by Conn,
// allowing frames to be sent and then received back in tests.
type duplexBuffer struct {
	bytes.Buffer
}

func TestRoundTrip(t *testing.T) {
	payloadSizes := []int{1, 2, 100, 4096, MaximumPayloadSize - 1, MaximumPayloadSize}
	for _, size := range payloadSizes {
		for _, eof := range []bool{false, true} {
			// Generate a payload.
			payload := make([]byte, size)
			rand.New(rand.NewSource(int64(size))).Read(payload)

			// Send the frame and receive it back.
			conn := NewConn(&duplexBuffer{})
			require.NoError(t, conn.Send(payload, eof))
			received := make([]byte, MaximumPayloadSize)
			n, receivedEOF, err := conn.Receive(received)
			require.NoError(t, err)
			assert.Equal(t, size, n)
			assert.Equal(t, eof, receivedEOF)
			assert.Equal(t, payload, received[:n])
		}
	}
}

func TestRoundTripEmptyEOFMarker(t *testing.T) {
	// A zero-length frame with the end-of-stream flag set is the explicit
	// end-of-stream marker and must survive a round trip on its own.
	conn := NewConn(&duplexBuffer{})
	require.NoError(t, conn.Send(nil, true))
	n, eof, err := conn.Receive(make([]byte, 1))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, eof)
}

func TestSendOversizedPayload(t *testing.T) {
	// An oversized payload must be rejected before any bytes hit the wire.
	buffer := &duplexBuffer{}
	conn := NewConn(buffer)
	require.Error(t, conn.Send(make([]byte, MaximumPayloadSize+1), false))
	assert.Zero(t, buffer.Len())
}

func TestReceiveTornHeader(t *testing.T) {
	// A connection that closes after delivering a single header byte must
	// surface an error rather than hanging or synthesizing a frame.
	buffer := &duplexBuffer{}
	buffer.WriteByte(0x01)
	conn := NewConn(buffer)
	_, _, err := conn.Receive(make([]byte, MaximumPayloadSize))
	require.Error(t, err)
}

func TestReceiveTornPayload(t *testing.T) {
	// Send a valid frame and then truncate its payload.
	buffer := &duplexBuffer{}
	conn := NewConn(buffer)
	require.NoError(t, conn.Send([]byte("incomplete"), false))
	truncated := &duplexBuffer{}
	truncated.Write(buffer.Bytes()[:buffer.Len()-3])
	_, _, err := NewConn(truncated).Receive(make([]byte, MaximumPayloadSize))
	require.Error(t, err)
}

func TestReceiveEmptyStream(t *testing.T) {
	// A stream with no frames at all should yield a header read failure.
	_, _, err := NewConn(&duplexBuffer{}).Receive(make([]byte, MaximumPayloadSize))
	require.Error(t, err)
}

func TestReceiveExceedingCapacity(t *testing.T) {
	// A frame larger than the caller's buffer is a protocol violation.
	buffer := &duplexBuffer{}
	conn := NewConn(buffer)
	require.NoError(t, conn.Send(make([]byte, 100), false))
	_, _, err := NewConn(buffer).Receive(make([]byte, 99))
	require.Error(t, err)
}

// brokenWriter fails after writing a limited number of bytes.
type brokenWriter struct {
	capacity int
}

func (w *brokenWriter) Write(p []byte) (int, error) {
	if len(p) > w.capacity {
		n := w.capacity
		w.capacity = 0
		return n, io.ErrClosedPipe
	}
	w.capacity -= len(p)
	return len(p), nil
}

func (w *brokenWriter) Read(_ []byte) (int, error) {
	return 0, io.EOF
}

func TestSendFailure(t *testing.T) {
	// A connection that can't accept the full frame must surface an error.
	conn := NewConn(&brokenWriter{capacity: 1})
	require.Error(t, conn.Send([]byte("payload"), false))
}
