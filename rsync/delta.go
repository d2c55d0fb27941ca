package rsync

import (
	"encoding/binary"

	"github.com/larsewi/librsync/stream"
)

const (
	// deltaMagic identifies a delta stream.
	deltaMagic uint32 = 0x646c7401
	// deltaOpEnd terminates a delta stream.
	deltaOpEnd byte = 0x00
	// deltaOpLiteral carries literal target bytes: a 4-byte length followed
	// by the bytes themselves.
	deltaOpLiteral byte = 0x01
	// deltaOpCopy references a byte range of the base: an 8-byte offset
	// followed by an 8-byte length. Copy commands are byte-addressed so that
	// delta application needs nothing beyond random access to the base.
	deltaOpCopy byte = 0x02
	// copyCommandSize is the encoded size of a copy command.
	copyCommandSize = 1 + 8 + 8
	// literalHeaderSize is the encoded size of a literal command header.
	literalHeaderSize = 1 + 4
)

// DeltaJob incrementally computes a delta stream describing a target in terms
// of an indexed base. It searches the target for blocks of the base using a
// rolling weak hash with strong hash verification, emitting coalesced copy
// commands for matches and chunked literal commands for everything else.
//
// Between steps, up to a block's worth of unmatched tail bytes is left
// unconsumed in the input buffer so that matches spanning refill boundaries
// aren't missed. Encoded commands are staged through an internal pending
// buffer, so output backpressure never discards data: a step first flushes
// what the previous step staged and only scans new input once the stage is
// empty.
type DeltaJob struct {
	// index is the indexed base signature.
	index *Index
	// pending holds encoded commands awaiting output space.
	pending []byte
	// copyOffset is the base offset of the coalesced copy run.
	copyOffset uint64
	// copyLength is the length of the coalesced copy run. A value of 0
	// means no run is accumulating.
	copyLength uint64
	// finished indicates that the end command has been staged.
	finished bool
}

// NewDeltaJob creates a delta generation job seeded with the specified index.
func NewDeltaJob(index *Index) *DeltaJob {
	job := &DeltaJob{
		index:   index,
		pending: make([]byte, 0, stream.BufferCapacity+copyCommandSize+literalStagingOverhead()),
	}

	// Stage the stream magic. It rides out with the first flush.
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], deltaMagic)
	job.pending = append(job.pending, header[:]...)
	return job
}

// literalStagingOverhead computes the worst-case command header overhead for
// staging a full input buffer's worth of literal data.
func literalStagingOverhead() int {
	chunks := stream.BufferCapacity/maximumLiteralSize + 1
	return chunks * literalHeaderSize
}

// Step implements stream.Job.Step.
func (j *DeltaJob) Step(buffers *stream.Buffers) (stream.Result, error) {
	// Flush commands staged by the previous step. If output space runs out
	// before the stage is empty, scanning more input would grow the stage
	// without bound, so just wait for the next drain.
	j.flush(buffers)
	if len(j.pending) > 0 {
		return stream.Blocked, nil
	}
	if j.finished {
		return stream.Done, nil
	}

	// Scan the available input, then flush whatever the scan staged.
	j.scan(buffers)
	j.flush(buffers)
	if j.finished && len(j.pending) == 0 {
		return stream.Done, nil
	}
	return stream.Blocked, nil
}

// scan searches the currently buffered input for block matches, staging copy
// and literal commands and consuming the bytes they cover. At end-of-input it
// also performs the short last block search and stages the end command.
func (j *DeltaJob) scan(buffers *stream.Buffers) {
	input := buffers.Input()
	n := len(input)
	blockSize := int(j.index.signature.BlockSize)

	// Slide a block-sized window over the input, rolling the weak hash one
	// byte at a time and restarting it after every match.
	start := 0
	i := 0
	var weak, r1, r2 uint32
	fresh := true
	for i+blockSize <= n {
		if fresh {
			weak, r1, r2 = weakHash(input[i:i+blockSize], j.index.signature.BlockSize)
			fresh = false
		}
		if match, ok := j.index.match(weak, input[i:i+blockSize]); ok {
			j.stageLiteral(input[start:i])
			j.stageCopy(match*j.index.signature.BlockSize, j.index.signature.BlockSize)
			i += blockSize
			start = i
			fresh = true
		} else {
			if i+blockSize < n {
				weak, r1, r2 = rollWeakHash(r1, r2, input[i], input[i+blockSize], j.index.signature.BlockSize)
			}
			i++
		}
	}

	if !buffers.InputEOF() {
		// Keep the unmatched tail (one byte short of a full block) in the
		// input buffer so a match spanning the refill boundary can still be
		// found; stage everything before it as literal data.
		keep := n - blockSize + 1
		if keep < start {
			keep = start
		}
		j.stageLiteral(input[start:keep])
		buffers.ConsumeInput(keep)
		return
	}

	// The input is complete. If the base's last block is short, the tail of
	// the target may match it.
	if lastBlockSize := int(j.index.signature.LastBlockSize); j.index.haveShortLastBlock &&
		n-lastBlockSize >= start && j.index.matchShortLastBlock(input[n-lastBlockSize:n]) {
		j.stageLiteral(input[start : n-lastBlockSize])
		j.stageCopy(j.index.lastBlockIndex*j.index.signature.BlockSize, j.index.signature.LastBlockSize)
		start = n
	}

	// Stage any remaining data, terminate the stream, and consume the rest
	// of the input.
	j.stageLiteral(input[start:n])
	j.flushCopy()
	j.pending = append(j.pending, deltaOpEnd)
	j.finished = true
	buffers.ConsumeInput(n)
}

// stageCopy records a copy command, extending the accumulating run when the
// new range is contiguous with it.
func (j *DeltaJob) stageCopy(offset, length uint64) {
	if j.copyLength > 0 && j.copyOffset+j.copyLength == offset {
		j.copyLength += length
		return
	}
	j.flushCopy()
	j.copyOffset = offset
	j.copyLength = length
}

// flushCopy stages the accumulating copy run, if any, as an encoded command.
func (j *DeltaJob) flushCopy() {
	if j.copyLength == 0 {
		return
	}
	var command [copyCommandSize]byte
	command[0] = deltaOpCopy
	binary.BigEndian.PutUint64(command[1:], j.copyOffset)
	binary.BigEndian.PutUint64(command[9:], j.copyLength)
	j.pending = append(j.pending, command[:]...)
	j.copyLength = 0
}

// stageLiteral stages literal data as one or more encoded literal commands,
// first terminating any accumulating copy run to preserve command order.
func (j *DeltaJob) stageLiteral(data []byte) {
	if len(data) == 0 {
		return
	}
	j.flushCopy()
	for len(data) > 0 {
		length := min(len(data), maximumLiteralSize)
		var header [literalHeaderSize]byte
		header[0] = deltaOpLiteral
		binary.BigEndian.PutUint32(header[1:], uint32(length))
		j.pending = append(j.pending, header[:]...)
		j.pending = append(j.pending, data[:length]...)
		data = data[length:]
	}
}

// flush moves staged command bytes into the output buffer's free space.
func (j *DeltaJob) flush(buffers *stream.Buffers) {
	if len(j.pending) == 0 {
		return
	}
	n := copy(buffers.OutputFree(), j.pending)
	buffers.ProduceOutput(n)
	j.pending = j.pending[:copy(j.pending, j.pending[n:])]
}
