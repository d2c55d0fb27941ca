package framing

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	// headerSize is the size of a frame header in bytes.
	headerSize = 2
	// MaximumPayloadSize is the maximum payload size that the framing
	// protocol will transmit or receive. The frame header reserves one bit
	// of its 16 bits for the end-of-stream flag, leaving 15 bits for the
	// payload length.
	MaximumPayloadSize = 1<<15 - 1
	// eofFlag is the header bit used to signal end-of-stream.
	eofFlag = 1
)

// Conn provides framed transmission of raw byte payloads over a duplex byte
// stream that offers no message boundaries of its own. Each frame consists of
// a 2-byte big-endian header encoding a 15-bit payload length and a 1-bit
// end-of-stream flag, followed by the payload itself. A frame with a
// zero-length payload and the end-of-stream flag set is a valid, explicit
// end-of-stream marker.
type Conn struct {
	// connection is the underlying byte stream.
	connection io.ReadWriter
	// sendBuffer is a staging area for building outgoing frames. It has
	// enough space for the header and maximum payload length, allowing each
	// frame to be placed on the wire with a single write.
	sendBuffer []byte
	// header is a staging area for receiving frame headers.
	header [headerSize]byte
}

// NewConn creates a new framed connection wrapping the specified byte stream.
func NewConn(connection io.ReadWriter) *Conn {
	return &Conn{
		connection: connection,
		sendBuffer: make([]byte, headerSize+MaximumPayloadSize),
	}
}

// Send transmits a single frame containing the specified payload. If eof is
// true, the frame's end-of-stream flag is set, telling the receiver not to
// expect any further frames. Payloads larger than MaximumPayloadSize are
// rejected before any bytes are placed on the wire. A frame is transmitted
// even if the payload is empty, which is how a trailing end-of-stream marker
// with no data is sent.
func (c *Conn) Send(payload []byte, eof bool) error {
	// Verify that the payload is frameable.
	if len(payload) > MaximumPayloadSize {
		return errors.Errorf("payload size (%d bytes) exceeds frame capacity", len(payload))
	}

	// Encode the header, packing the end-of-stream flag into the low bit.
	header := uint16(len(payload)) << 1
	if eof {
		header |= eofFlag
	}
	binary.BigEndian.PutUint16(c.sendBuffer, header)

	// Stage the payload after the header so that the frame goes out as a
	// single write. A short write is fatal for the transfer since the
	// protocol has no way to resynchronize after a torn frame.
	copy(c.sendBuffer[headerSize:], payload)
	if _, err := c.connection.Write(c.sendBuffer[:headerSize+len(payload)]); err != nil {
		return errors.Wrap(err, "unable to transmit frame")
	}

	// Success.
	return nil
}

// Receive reads a single frame from the connection, storing its payload in
// the provided buffer. It returns the number of payload bytes read and
// whether the frame's end-of-stream flag was set. Frames larger than the
// provided buffer are rejected. A connection that closes mid-header or
// mid-payload yields an error since a torn frame is unrecoverable.
func (c *Conn) Receive(buffer []byte) (int, bool, error) {
	// Read and decode the header.
	if _, err := io.ReadFull(c.connection, c.header[:]); err != nil {
		return 0, false, errors.Wrap(err, "unable to receive frame header")
	}
	header := binary.BigEndian.Uint16(c.header[:])
	eof := header&eofFlag != 0
	length := int(header >> 1)

	// Verify that the payload fits into the caller's buffer.
	if length > len(buffer) {
		return 0, false, errors.Errorf("frame payload (%d bytes) exceeds receive capacity", length)
	}

	// Read the payload, if any.
	if length > 0 {
		if _, err := io.ReadFull(c.connection, buffer[:length]); err != nil {
			return 0, false, errors.Wrap(err, "unable to receive frame payload")
		}
	}

	// Success.
	return length, eof, nil
}
