package gpu

import "fmt"

// BufferKind tags what role a Backend buffer plays, so real implementations
// know which wgpu usage flags to allocate with.
type BufferKind int

const (
	BufferKindFrameUniform BufferKind = iota
	BufferKindPositions
	BufferKindResultStorage
	BufferKindStaging
	BufferKindAuxiliary
	BufferKindZeroSource
)

// Buffer, ComputePipeline, and BindGroup are opaque handles: a real Backend
// hands back *wgpu.Buffer/*wgpu.ComputePipeline/*wgpu.BindGroup wrapped
// behind these markers; a test Backend hands back plain Go structs. The
// Pipeline never inspects them — only passes them back to the Backend.
type (
	Buffer          any
	ComputePipeline any
	BindGroup       any
)

// Encoder batches the buffer copies and dispatches of a single compute
// frame into one GPU submission, mirroring the batched-command-encoder
// idiom used for render frames elsewhere in this codebase.
type Encoder interface {
	CopyBuffer(src Buffer, srcOffset uint64, dst Buffer, dstOffset uint64, size uint64)
	Dispatch(pipeline ComputePipeline, groups [3]BindGroup, workGroupCount uint32)
}

// Backend is the GPU Pipeline's abstraction over the graphics API: buffer
// allocation, shader compilation, command submission, and readback. The
// production implementation wraps cogentcore/webgpu; tests substitute an
// in-memory fake.
type Backend interface {
	CreateBuffer(label string, size uint64, kind BufferKind) (Buffer, error)
	WriteBuffer(buf Buffer, offset uint64, data []byte)

	// CreateComputePipeline compiles shaderSource with entry point "main"
	// and builds the three bind-group layouts described in §4.6: group 0
	// (frame + positions, read-only storage), group 1 (result, read-write
	// storage), group 2 (one read-only storage binding per aux slot, in
	// order).
	CreateComputePipeline(label, shaderSource string, auxSlotCount int) (ComputePipeline, error)

	// CreateBindGroup binds buffers, in order, to the given group index of
	// pipeline's layout.
	CreateBindGroup(label string, pipeline ComputePipeline, group int, buffers []Buffer) (BindGroup, error)

	// BeginFrame opens a new command encoder for batching this frame's
	// copies and dispatches into a single submission.
	BeginFrame() (Encoder, error)

	// Submit finishes and submits the encoder's command buffer.
	Submit(enc Encoder)

	// Poll blocks until all submitted GPU work has completed.
	Poll()

	// MapRead blocks until buf (created with BufferKindStaging) is
	// readable, copies out its first size bytes, and unmaps it.
	MapRead(buf Buffer, size uint64) ([]byte, error)

	// Release frees a buffer's GPU resources. Safe to call on any Buffer
	// returned by CreateBuffer.
	Release(buf Buffer)
}

// ErrBufferMapFailed is returned by MapRead when the backend reports a
// failed map.
type ErrBufferMapFailed struct {
	Label string
}

func (e *ErrBufferMapFailed) Error() string {
	return fmt.Sprintf("failed to map buffer %q for readback", e.Label)
}
