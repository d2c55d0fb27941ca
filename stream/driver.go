package stream

import (
	"github.com/pkg/errors"
)

// Result indicates the outcome of a single transform step.
type Result uint8

const (
	// Blocked indicates that the step made progress but needs more input or
	// more output space before the transform can complete. It is the
	// expected steady state while I/O is still pending.
	Blocked Result = iota
	// Done indicates that the transform is logically complete.
	Done
)

// Job is one incremental transform computation. Each Step call consumes
// whatever it can from the input cursor, produces whatever fits into the
// output cursor, and reports whether the transform has completed. Step is
// never invoked again after it reports Done or returns an error.
type Job interface {
	Step(buffers *Buffers) (Result, error)
}

// Run drives a transform job between a source and a sink until the job
// reports completion. Each iteration refills the input buffer (preserving any
// unconsumed leftover bytes), performs exactly one transform step, and drains
// any produced output, so neither buffer can grow beyond its fixed capacity.
// Every error is fatal for the transfer; there is no retry or partial
// success.
func Run(job Job, source Source, sink Sink) error {
	buffers := NewBuffers()
	for {
		// Top up the input buffer unless the source is already exhausted.
		if !buffers.InputEOF() {
			if err := buffers.Refill(source); err != nil {
				return errors.Wrap(err, "unable to refill input buffer")
			}
		}

		// Perform one transform step.
		result, err := job.Step(buffers)
		if err != nil {
			return errors.Wrap(err, "transform step failed")
		}

		// On completion, perform a final drain. This is done even if there's
		// no pending output so that a network sink can tag its end-of-stream
		// marker onto the wire.
		if result == Done {
			if err := buffers.Drain(sink, true); err != nil {
				return errors.Wrap(err, "unable to drain output buffer")
			}
			return nil
		}

		// Otherwise drain any intermediate output before the next step may
		// overwrite it.
		if err := buffers.Drain(sink, false); err != nil {
			return errors.Wrap(err, "unable to drain output buffer")
		}
	}
}
