package stream

import (
	"bytes"
	"math/rand"
	"testing"
)

// identityJob is a trivial transform that copies its input to its output
// unchanged. It exercises the transfer loop's refill/step/drain mechanics
// without involving any real transform logic.
type identityJob struct{}

func (identityJob) Step(buffers *Buffers) (Result, error) {
	input := buffers.Input()
	n := copy(buffers.OutputFree(), input)
	buffers.ProduceOutput(n)
	buffers.ConsumeInput(n)
	if buffers.InputEOF() && len(buffers.Input()) == 0 {
		return Done, nil
	}
	return Blocked, nil
}

// guardedJob wraps a job and fails the test if it is stepped again after
// reporting completion.
type guardedJob struct {
	t    *testing.T
	job  Job
	done bool
}

func (j *guardedJob) Step(buffers *Buffers) (Result, error) {
	if j.done {
		j.t.Error("job stepped after reporting completion")
	}
	result, err := j.job.Step(buffers)
	if result == Done {
		j.done = true
	}
	return result, err
}

// boundCheckingJob wraps a job and verifies that buffer occupancy never
// exceeds the fixed capacity.
type boundCheckingJob struct {
	t   *testing.T
	job Job
}

func (j *boundCheckingJob) Step(buffers *Buffers) (Result, error) {
	if len(buffers.Input()) > BufferCapacity {
		j.t.Error("input occupancy exceeded buffer capacity")
	}
	if buffers.PendingOutput() > BufferCapacity {
		j.t.Error("output occupancy exceeded buffer capacity")
	}
	return j.job.Step(buffers)
}

func TestRunIdentity(t *testing.T) {
	// Pump data much larger than the buffer capacity through the loop in
	// small source chunks, verifying that it arrives intact, that the loop
	// terminates exactly once, and that buffer occupancy stays bounded.
	data := make([]byte, 5*BufferCapacity+117)
	rand.New(rand.NewSource(0)).Read(data)

	source := &staticSource{data: data, chunkSize: 1021}
	sink := &recordingSink{}
	job := &guardedJob{t: t, job: &boundCheckingJob{t: t, job: identityJob{}}}
	if err := Run(job, source, sink); err != nil {
		t.Fatal("transfer failed:", err)
	}

	if !bytes.Equal(sink.contents.Bytes(), data) {
		t.Error("transferred data did not match source data")
	}
	if !job.done {
		t.Error("job never reported completion")
	}

	// The final drain must be flagged as such, and only the final one.
	if len(sink.finals) == 0 {
		t.Fatal("sink was never invoked")
	}
	for i, final := range sink.finals {
		if final != (i == len(sink.finals)-1) {
			t.Error("final flag set on wrong drain")
		}
	}
}

func TestRunEmptyInput(t *testing.T) {
	// An immediately exhausted source must still complete the transfer and
	// deliver a final (empty) drain so that network sinks can emit their
	// end-of-stream marker.
	sink := &recordingSink{}
	if err := Run(identityJob{}, &staticSource{}, sink); err != nil {
		t.Fatal("transfer failed:", err)
	}
	if sink.contents.Len() != 0 {
		t.Error("empty transfer produced output")
	}
	if len(sink.finals) != 1 || !sink.finals[0] {
		t.Error("empty transfer did not deliver a single final drain")
	}
}
