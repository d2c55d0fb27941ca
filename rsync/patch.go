package rsync

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/larsewi/librsync/stream"
)

// patchState tracks what the patch job expects next in the delta stream.
type patchState uint8

const (
	// patchStateMagic expects the stream magic.
	patchStateMagic patchState = iota
	// patchStateCommand expects the next command.
	patchStateCommand
	// patchStateLiteral is streaming literal bytes to the output.
	patchStateLiteral
	// patchStateCopy is streaming base bytes to the output.
	patchStateCopy
	// patchStateDone has seen the end command.
	patchStateDone
)

// PatchJob incrementally applies a delta stream to a base, producing the
// target. Literal commands are streamed from the input to the output; copy
// commands are served from the base via random access reads. The job makes no
// assumptions about how the delta stream is split across reads: commands may
// arrive fragmented at any byte boundary, in which case the fragment is left
// unconsumed in the input buffer until the rest arrives.
type PatchJob struct {
	// basis provides random access to the base.
	basis io.ReaderAt
	// state is the decoder state.
	state patchState
	// remaining is the number of bytes left in the literal or copy command
	// being streamed.
	remaining uint64
	// offset is the base offset of the next copy read.
	offset int64
}

// NewPatchJob creates a delta application job that reads base data from the
// specified reader.
func NewPatchJob(basis io.ReaderAt) *PatchJob {
	return &PatchJob{basis: basis}
}

// need returns the next count bytes of input, or blocks the step if they
// aren't available yet. A stream that ends mid-command is malformed.
func (j *PatchJob) need(buffers *stream.Buffers, count int) ([]byte, error) {
	input := buffers.Input()
	if len(input) < count {
		if buffers.InputEOF() {
			return nil, errors.New("delta stream truncated")
		}
		return nil, nil
	}
	return input[:count], nil
}

// Step implements stream.Job.Step.
func (j *PatchJob) Step(buffers *stream.Buffers) (stream.Result, error) {
	for {
		switch j.state {
		case patchStateMagic:
			header, err := j.need(buffers, 4)
			if err != nil {
				return stream.Blocked, err
			} else if header == nil {
				return stream.Blocked, nil
			}
			if binary.BigEndian.Uint32(header) != deltaMagic {
				return stream.Blocked, errors.New("unrecognized delta magic")
			}
			buffers.ConsumeInput(4)
			j.state = patchStateCommand
		case patchStateCommand:
			input := buffers.Input()
			if len(input) == 0 {
				if buffers.InputEOF() {
					return stream.Blocked, errors.New("delta stream truncated")
				}
				return stream.Blocked, nil
			}
			switch input[0] {
			case deltaOpEnd:
				buffers.ConsumeInput(1)
				j.state = patchStateDone
			case deltaOpLiteral:
				header, err := j.need(buffers, literalHeaderSize)
				if err != nil {
					return stream.Blocked, err
				} else if header == nil {
					return stream.Blocked, nil
				}
				length := binary.BigEndian.Uint32(header[1:])
				if length == 0 {
					return stream.Blocked, errors.New("literal command with zero length")
				}
				buffers.ConsumeInput(literalHeaderSize)
				j.remaining = uint64(length)
				j.state = patchStateLiteral
			case deltaOpCopy:
				header, err := j.need(buffers, copyCommandSize)
				if err != nil {
					return stream.Blocked, err
				} else if header == nil {
					return stream.Blocked, nil
				}
				offset := binary.BigEndian.Uint64(header[1:])
				length := binary.BigEndian.Uint64(header[9:])
				if length == 0 {
					return stream.Blocked, errors.New("copy command with zero length")
				} else if offset > math.MaxInt64-length {
					return stream.Blocked, errors.New("copy command range overflows")
				}
				buffers.ConsumeInput(copyCommandSize)
				j.offset = int64(offset)
				j.remaining = length
				j.state = patchStateCopy
			default:
				return stream.Blocked, errors.Errorf("unrecognized delta command: %#02x", input[0])
			}
		case patchStateLiteral:
			input := buffers.Input()
			free := buffers.OutputFree()
			if len(free) == 0 {
				return stream.Blocked, nil
			}
			if len(input) == 0 {
				if buffers.InputEOF() {
					return stream.Blocked, errors.New("delta stream truncated")
				}
				return stream.Blocked, nil
			}
			n := min(len(input), len(free))
			if uint64(n) > j.remaining {
				n = int(j.remaining)
			}
			copy(free, input[:n])
			buffers.ProduceOutput(n)
			buffers.ConsumeInput(n)
			j.remaining -= uint64(n)
			if j.remaining == 0 {
				j.state = patchStateCommand
			}
		case patchStateCopy:
			free := buffers.OutputFree()
			if len(free) == 0 {
				return stream.Blocked, nil
			}
			n := len(free)
			if uint64(n) > j.remaining {
				n = int(j.remaining)
			}
			if _, err := j.basis.ReadAt(free[:n], j.offset); err != nil {
				return stream.Blocked, errors.Wrap(err, "unable to read base data")
			}
			buffers.ProduceOutput(n)
			j.offset += int64(n)
			j.remaining -= uint64(n)
			if j.remaining == 0 {
				j.state = patchStateCommand
			}
		case patchStateDone:
			return stream.Done, nil
		}
	}
}
