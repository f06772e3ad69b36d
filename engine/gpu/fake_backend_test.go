package gpu

import (
	"fmt"
	"strings"
	"sync"
)

// fakeBuffer is the in-memory stand-in for a *wgpu.Buffer: just bytes plus
// the kind it was allocated as, so tests can assert on usage without a real
// adapter.
type fakeBuffer struct {
	label string
	kind  BufferKind
	data  []byte
}

// fakePipeline is the in-memory stand-in for a compiled compute pipeline:
// just enough to round-trip through CreateBindGroup/Dispatch.
type fakePipeline struct {
	label        string
	shader       string
	auxSlotCount int
}

// fakeBindGroup records which buffers were bound to which group, so tests
// can assert on substitution behavior (e.g. that an unmapped auxiliary slot
// was bound to the shared empty buffer).
type fakeBindGroup struct {
	label   string
	group   int
	buffers []Buffer
}

type fakeEncoder struct {
	copies     []fakeCopy
	dispatches []fakeDispatch
}

type fakeCopy struct {
	src, dst       Buffer
	srcOff, dstOff uint64
	size           uint64
}

type fakeDispatch struct {
	pipeline       ComputePipeline
	groups         [3]BindGroup
	workGroupCount uint32
}

func (e *fakeEncoder) CopyBuffer(src Buffer, srcOffset uint64, dst Buffer, dstOffset uint64, size uint64) {
	e.copies = append(e.copies, fakeCopy{src: src, dst: dst, srcOff: srcOffset, dstOff: dstOffset, size: size})
}

func (e *fakeEncoder) Dispatch(pipeline ComputePipeline, groups [3]BindGroup, workGroupCount uint32) {
	e.dispatches = append(e.dispatches, fakeDispatch{pipeline: pipeline, groups: groups, workGroupCount: workGroupCount})
}

// fakeBackend is a deterministic, in-memory Backend: no GPU, no adapter,
// every buffer is a plain byte slice. Lets Pipeline's reconciliation and
// dispatch logic be exercised without real hardware.
type fakeBackend struct {
	mu sync.Mutex

	buffers   []*fakeBuffer
	released  map[*fakeBuffer]bool
	submitted []*fakeEncoder

	// failCreateBindGroup, when set, makes CreateBindGroup fail for any
	// label containing this substring — used to exercise compute_frame's
	// skip-and-log-on-failure path.
	failCreateBindGroup string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{released: make(map[*fakeBuffer]bool)}
}

func (b *fakeBackend) CreateBuffer(label string, size uint64, kind BufferKind) (Buffer, error) {
	if size == 0 {
		size = 4
	}
	buf := &fakeBuffer{label: label, kind: kind, data: make([]byte, size)}
	b.mu.Lock()
	b.buffers = append(b.buffers, buf)
	b.mu.Unlock()
	return buf, nil
}

func (b *fakeBackend) WriteBuffer(buf Buffer, offset uint64, data []byte) {
	fb := buf.(*fakeBuffer)
	copy(fb.data[offset:], data)
}

func (b *fakeBackend) CreateComputePipeline(label, shaderSource string, auxSlotCount int) (ComputePipeline, error) {
	return &fakePipeline{label: label, shader: shaderSource, auxSlotCount: auxSlotCount}, nil
}

func (b *fakeBackend) CreateBindGroup(label string, pipeline ComputePipeline, group int, buffers []Buffer) (BindGroup, error) {
	if b.failCreateBindGroup != "" && strings.Contains(label, b.failCreateBindGroup) {
		return nil, fmt.Errorf("fake bind group failure for %q", label)
	}
	return &fakeBindGroup{label: label, group: group, buffers: append([]Buffer(nil), buffers...)}, nil
}

func (b *fakeBackend) BeginFrame() (Encoder, error) {
	enc := &fakeEncoder{}
	return enc, nil
}

func (b *fakeBackend) Submit(enc Encoder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fe := enc.(*fakeEncoder)
	for _, c := range fe.copies {
		src := c.src.(*fakeBuffer)
		dst := c.dst.(*fakeBuffer)
		copy(dst.data[c.dstOff:c.dstOff+c.size], src.data[c.srcOff:c.srcOff+c.size])
	}
	b.submitted = append(b.submitted, fe)
}

func (b *fakeBackend) Poll() {}

func (b *fakeBackend) MapRead(buf Buffer, size uint64) ([]byte, error) {
	fb := buf.(*fakeBuffer)
	// A buffer whose data a test has truncated reads back short, the way a
	// shader that wrote too few LEDs would.
	if n := uint64(len(fb.data)); n < size {
		size = n
	}
	out := make([]byte, size)
	copy(out, fb.data[:size])
	return out, nil
}

func (b *fakeBackend) Release(buf Buffer) {
	fb, ok := buf.(*fakeBuffer)
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released[fb] = true
}
