package tlspump

import (
	"testing"

	"tlspump/buffer"
	"tlspump/engine"
)

// stubEngine scripts wrap behaviour so the dispatcher's growth and task
// draining can be exercised without a real handshake.
type stubEngine struct {
	wrap   func(src, dst *buffer.Buffer) (engine.Result, error)
	tasks  []func()
	status engine.HandshakeState
}

func (s *stubEngine) Wrap(src, dst *buffer.Buffer) (engine.Result, error) {
	return s.wrap(src, dst)
}

func (s *stubEngine) Unwrap(src, dst *buffer.Buffer) (engine.Result, error) {
	return engine.Result{Status: engine.StatusBufferUnderflow}, nil
}

func (s *stubEngine) HandshakeStatus() engine.HandshakeState {
	if len(s.tasks) > 0 {
		return engine.NeedTask
	}
	return s.status
}

func (s *stubEngine) DelegatedTask() func() {
	if len(s.tasks) == 0 {
		return nil
	}
	task := s.tasks[0]
	s.tasks = s.tasks[1:]
	return task
}

func (s *stubEngine) Close() error               { return nil }
func (s *stubEngine) RecordBufferSize() int      { return 64 }
func (s *stubEngine) ApplicationBufferSize() int { return 32 }

func TestDispatcherGrowsDestinationOnOverflow(t *testing.T) {
	payload := make([]byte, 50)
	stub := &stubEngine{}
	stub.wrap = func(src, dst *buffer.Buffer) (engine.Result, error) {
		if dst.Remaining() < len(payload) {
			return engine.Result{Status: engine.StatusBufferOverflow}, nil
		}
		dst.Put(payload)
		return engine.Result{Status: engine.StatusOK, Produced: len(payload)}, nil
	}
	a := New(stub, nil)

	dst := buffer.New(10)
	res, err := a.doOp(opWrap, buffer.Wrap(nil), dst)
	if err != nil {
		t.Fatalf("doOp: %v", err)
	}
	if res.Status != engine.StatusOK || res.Produced != len(payload) {
		t.Fatalf("unexpected result %+v", res)
	}
	if dst.Capacity() < len(payload) {
		t.Fatalf("destination not grown: capacity %d", dst.Capacity())
	}
}

func TestDispatcherBoundsOverflowRetries(t *testing.T) {
	stub := &stubEngine{}
	stub.wrap = func(src, dst *buffer.Buffer) (engine.Result, error) {
		return engine.Result{Status: engine.StatusBufferOverflow}, nil
	}
	a := New(stub, nil)

	if _, err := a.doOp(opWrap, buffer.Wrap(nil), buffer.New(8)); err == nil {
		t.Fatal("unbounded overflow retries accepted")
	}
}

func TestDispatcherDrainsDelegatedTasks(t *testing.T) {
	ran := 0
	stub := &stubEngine{}
	stub.tasks = []func(){
		func() { ran++ },
		func() { ran++ },
	}
	stub.wrap = func(src, dst *buffer.Buffer) (engine.Result, error) {
		return engine.Result{Status: engine.StatusOK}, nil
	}
	a := New(stub, nil)

	if _, err := a.doOp(opWrap, buffer.Wrap(nil), buffer.New(8)); err != nil {
		t.Fatalf("doOp: %v", err)
	}
	if ran != 2 {
		t.Fatalf("expected both delegated tasks to run, ran %d", ran)
	}
}

func TestDispatcherStopsOnUnderflow(t *testing.T) {
	stub := &stubEngine{wrap: func(src, dst *buffer.Buffer) (engine.Result, error) {
		t.Fatal("wrap must not be called")
		return engine.Result{}, nil
	}}
	a := New(stub, nil)

	res, err := a.doOp(opUnwrap, buffer.Wrap([]byte("partial")), buffer.New(8))
	if err != nil {
		t.Fatalf("doOp: %v", err)
	}
	if res.Status != engine.StatusBufferUnderflow {
		t.Fatalf("expected underflow to stop the dispatcher, got %v", res.Status)
	}
}
