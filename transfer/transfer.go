// Package transfer wires the streaming transfer loop into the two roles of a
// delta-compressed file transfer: a serving peer that holds the authoritative
// copy of a file and answers signatures with deltas, and a pulling peer that
// describes its local copy with a signature and patches it with the received
// delta.
package transfer

import (
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/larsewi/librsync/framing"
	"github.com/larsewi/librsync/logging"
	"github.com/larsewi/librsync/rsync"
	"github.com/larsewi/librsync/stream"
)

// OutputExtension is the suffix appended to a pulled file's name to form the
// name of the reconstructed output file. The caller is responsible for
// replacing the original with the output; a partially written output is left
// in place on failure.
const OutputExtension = ".new"

// SendSignature streams the signature of the file at the specified path to
// the connection.
func SendSignature(connection io.ReadWriter, path string) error {
	// Open the file and defer its closure.
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "unable to open file")
	}
	defer file.Close()

	// Determine the file size and the corresponding signature parameters.
	info, err := file.Stat()
	if err != nil {
		return errors.Wrap(err, "unable to determine file size")
	}
	blockSize, strongLength := rsync.SignatureParams(uint64(info.Size()))

	// Create the signature job.
	job, err := rsync.NewSignatureJob(uint64(info.Size()), blockSize, strongLength)
	if err != nil {
		return errors.Wrap(err, "unable to create signature job")
	}

	// Stream the signature onto the wire.
	source := stream.NewReaderSource(file)
	sink := stream.NewFrameSink(framing.NewConn(connection))
	if err := stream.Run(job, source, sink); err != nil {
		return errors.Wrap(err, "unable to stream signature")
	}

	// Success.
	return nil
}

// ReceiveIndex receives a peer's signature stream from the connection and
// builds the block index that delta generation is seeded with.
func ReceiveIndex(connection io.ReadWriter) (*rsync.Index, error) {
	// Materialize the signature stream. Index construction isn't
	// incremental, so the stream is captured in full first.
	job := rsync.NewCaptureJob()
	source := stream.NewFrameSource(framing.NewConn(connection))
	if err := stream.Run(job, source, stream.NewWriterSink(io.Discard)); err != nil {
		return nil, errors.Wrap(err, "unable to receive signature")
	}

	// Build the index.
	index, err := rsync.BuildIndex(job.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "unable to index signature")
	}

	// Success.
	return index, nil
}

// SendDelta streams a delta of the file at the specified path against the
// indexed signature to the connection.
func SendDelta(connection io.ReadWriter, index *rsync.Index, path string) error {
	// Open the file and defer its closure.
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "unable to open file")
	}
	defer file.Close()

	// Stream the delta onto the wire.
	job := rsync.NewDeltaJob(index)
	source := stream.NewReaderSource(file)
	sink := stream.NewFrameSink(framing.NewConn(connection))
	if err := stream.Run(job, source, sink); err != nil {
		return errors.Wrap(err, "unable to stream delta")
	}

	// Success.
	return nil
}

// ReceiveDeltaAndPatch receives a delta stream from the connection and
// applies it to the file at the specified path, writing the reconstructed
// target alongside it with the OutputExtension suffix.
func ReceiveDeltaAndPatch(connection io.ReadWriter, path string) error {
	// Open the base file and defer its closure. Copy commands in the delta
	// are served from it by random access.
	basis, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "unable to open base file")
	}
	defer basis.Close()

	// Create the output file.
	output, err := os.Create(path + OutputExtension)
	if err != nil {
		return errors.Wrap(err, "unable to create output file")
	}

	// Receive and apply the delta. On failure, the partially written output
	// is closed but left in place for the caller to inspect or remove.
	job := rsync.NewPatchJob(basis)
	source := stream.NewFrameSource(framing.NewConn(connection))
	if err := stream.Run(job, source, stream.NewWriterSink(output)); err != nil {
		output.Close()
		return errors.Wrap(err, "unable to apply delta")
	}

	// Finalize the output.
	if err := output.Close(); err != nil {
		return errors.Wrap(err, "unable to finalize output file")
	}

	// Success.
	return nil
}

// Serve performs the serving role of a transfer on the connection: it
// receives the peer's signature of its copy of the file at the specified path
// and answers with a delta against the authoritative copy.
func Serve(connection io.ReadWriter, path string, logger *logging.Logger) error {
	// Tag this transfer's log output with a session identifier.
	logger = logger.Sublogger(uuid.NewString()[:8])

	// Receive the peer's signature.
	logger.Info("Receiving signature...")
	index, err := ReceiveIndex(connection)
	if err != nil {
		return errors.Wrap(err, "unable to receive signature")
	}

	// Send the delta.
	if info, err := os.Stat(path); err == nil {
		logger.Infof("Sending delta for %s (%s)...", path, humanize.Bytes(uint64(info.Size())))
	}
	if err := SendDelta(connection, index, path); err != nil {
		return errors.Wrap(err, "unable to send delta")
	}

	// Success.
	logger.Info("Transfer complete")
	return nil
}

// Pull performs the pulling role of a transfer on the connection: it sends a
// signature of the local copy of the file at the specified path, then
// receives the delta and reconstructs the peer's version of the file.
func Pull(connection io.ReadWriter, path string, logger *logging.Logger) error {
	// Tag this transfer's log output with a session identifier.
	logger = logger.Sublogger(uuid.NewString()[:8])

	// Send the signature of the local copy.
	if info, err := os.Stat(path); err == nil {
		logger.Infof("Sending signature for %s (%s)...", path, humanize.Bytes(uint64(info.Size())))
	}
	if err := SendSignature(connection, path); err != nil {
		return errors.Wrap(err, "unable to send signature")
	}

	// Receive the delta and patch the local copy.
	logger.Info("Receiving delta and patching file...")
	if err := ReceiveDeltaAndPatch(connection, path); err != nil {
		return errors.Wrap(err, "unable to receive and apply delta")
	}

	// Success.
	logger.Infof("Transfer complete, wrote %s", path+OutputExtension)
	return nil
}
