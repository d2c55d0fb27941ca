package stream

import (
	"io"

	"github.com/larsewi/librsync/framing"
)

// readerSource adapts an io.Reader (typically a file) to the Source
// interface, converting io.EOF into the end-of-input flag.
type readerSource struct {
	reader io.Reader
}

// NewReaderSource creates a Source that reads from the specified reader.
func NewReaderSource(reader io.Reader) Source {
	return &readerSource{reader: reader}
}

// Read implements Source.Read.
func (s *readerSource) Read(p []byte) (int, bool, error) {
	n, err := s.reader.Read(p)
	if err == io.EOF {
		return n, true, nil
	} else if err != nil {
		return n, false, err
	}
	return n, false, nil
}

// writerSink adapts an io.Writer (typically a file) to the Sink interface.
// The final flag is ignored since files have no end-of-stream marker of their
// own.
type writerSink struct {
	writer io.Writer
}

// NewWriterSink creates a Sink that writes to the specified writer.
func NewWriterSink(writer io.Writer) Sink {
	return &writerSink{writer: writer}
}

// Write implements Sink.Write.
func (s *writerSink) Write(p []byte, _ bool) error {
	if len(p) == 0 {
		return nil
	}
	_, err := s.writer.Write(p)
	return err
}

// frameSource adapts a framed connection to the Source interface. Frames are
// received atomically into a carry buffer and handed out in pieces as the
// caller's free space allows, so an incoming frame can be larger than the
// space remaining in the input buffer. End-of-input is only reported once the
// final frame's payload has been fully delivered.
type frameSource struct {
	// conn is the underlying framed connection.
	conn *framing.Conn
	// carry holds received frame payload bytes not yet delivered.
	carry []byte
	// carryStart is the offset of the first undelivered carry byte.
	carryStart int
	// carryCount is the number of undelivered carry bytes.
	carryCount int
	// sawFinal indicates that a frame with the end-of-stream flag has been
	// received.
	sawFinal bool
}

// NewFrameSource creates a Source that reads framed payloads from the
// specified connection.
func NewFrameSource(conn *framing.Conn) Source {
	return &frameSource{
		conn:  conn,
		carry: make([]byte, framing.MaximumPayloadSize),
	}
}

// Read implements Source.Read.
func (s *frameSource) Read(p []byte) (int, bool, error) {
	// Receive the next frame if the carry buffer is empty and the stream
	// hasn't ended. A zero-length final frame is a valid end-of-stream
	// marker, so the end-of-stream flag matters even when no payload bytes
	// arrive.
	if s.carryCount == 0 && !s.sawFinal {
		n, eof, err := s.conn.Receive(s.carry)
		if err != nil {
			return 0, false, err
		}
		s.carryStart = 0
		s.carryCount = n
		s.sawFinal = eof
	}

	// Deliver as much of the carry as fits.
	n := copy(p, s.carry[s.carryStart:s.carryStart+s.carryCount])
	s.carryStart += n
	s.carryCount -= n

	// Only report end-of-input once the final frame is fully delivered.
	return n, s.sawFinal && s.carryCount == 0, nil
}

// frameSink adapts a framed connection to the Sink interface. Each drained
// output buffer is transmitted as a single frame, and the final drain carries
// the end-of-stream flag (possibly on an empty frame).
type frameSink struct {
	conn *framing.Conn
}

// NewFrameSink creates a Sink that transmits framed payloads over the
// specified connection.
func NewFrameSink(conn *framing.Conn) Sink {
	return &frameSink{conn: conn}
}

// Write implements Sink.Write.
func (s *frameSink) Write(p []byte, final bool) error {
	return s.conn.Send(p, final)
}
