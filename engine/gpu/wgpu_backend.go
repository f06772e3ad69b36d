package gpu

import (
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
)

// wgpuBackend is the production Backend, wrapping a cogentcore/webgpu
// device opened against the default (possibly software/fallback) adapter —
// compute-only, no surface. Mirrors the device/adapter/instance setup and
// batched command-encoder lifecycle of this codebase's render backend, cut
// down to the compute path only (no surface, no render pass).
type wgpuBackend struct {
	mu *sync.Mutex

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	encoder *wgpu.CommandEncoder
}

// NewWGPUBackend requests a compute-capable adapter and device. Pass
// forceFallbackAdapter=true to force a software adapter (useful for
// headless CI, at a steep performance cost).
func NewWGPUBackend(forceFallbackAdapter bool) (Backend, error) {
	instance := wgpu.CreateInstance(nil)

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
	})
	if err != nil {
		return nil, fmt.Errorf("request adapter: %w", err)
	}

	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "blinkenctl compute device",
	})
	if err != nil {
		return nil, fmt.Errorf("request device: %w", err)
	}

	return &wgpuBackend{
		mu:       &sync.Mutex{},
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    device.GetQueue(),
	}, nil
}

func bufferUsage(kind BufferKind) wgpu.BufferUsage {
	switch kind {
	case BufferKindFrameUniform:
		return wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst
	case BufferKindPositions:
		return wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst
	case BufferKindResultStorage:
		return wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst
	case BufferKindStaging:
		return wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst
	case BufferKindAuxiliary:
		return wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst
	case BufferKindZeroSource:
		return wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst
	default:
		return wgpu.BufferUsageStorage
	}
}

func (b *wgpuBackend) CreateBuffer(label string, size uint64, kind BufferKind) (Buffer, error) {
	if size == 0 {
		size = 4 // wgpu disallows zero-size buffers; the empty-auxiliary case floors to one f32.
	}
	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: bufferUsage(kind),
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (b *wgpuBackend) WriteBuffer(buf Buffer, offset uint64, data []byte) {
	b.queue.WriteBuffer(buf.(*wgpu.Buffer), offset, data)
}

func (b *wgpuBackend) CreateComputePipeline(label, shaderSource string, auxSlotCount int) (ComputePipeline, error) {
	module, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: shaderSource,
		},
	})
	if err != nil {
		return nil, err
	}

	frameAndPositions, err := b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: label + " frame+positions layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 0, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}},
			{Binding: 1, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}},
		},
	})
	if err != nil {
		return nil, err
	}

	result, err := b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: label + " result layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 0, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return nil, err
	}

	auxEntries := make([]wgpu.BindGroupLayoutEntry, auxSlotCount)
	for i := range auxEntries {
		auxEntries[i] = wgpu.BindGroupLayoutEntry{
			Binding:    uint32(i),
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage},
		}
	}
	aux, err := b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   label + " auxiliary layout",
		Entries: auxEntries,
	})
	if err != nil {
		return nil, err
	}

	layout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label + " layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{frameAndPositions, result, aux},
	})
	if err != nil {
		return nil, err
	}

	pipeline, err := b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  label,
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return nil, err
	}

	return &computePipelineHandle{
		pipeline:          pipeline,
		frameAndPositions: frameAndPositions,
		result:            result,
		aux:               aux,
	}, nil
}

// computePipelineHandle bundles the compiled pipeline with the three
// layouts add_shader needs to build this animation's bind groups.
type computePipelineHandle struct {
	pipeline          *wgpu.ComputePipeline
	frameAndPositions *wgpu.BindGroupLayout
	result            *wgpu.BindGroupLayout
	aux               *wgpu.BindGroupLayout
}

func (b *wgpuBackend) CreateBindGroup(label string, pipeline ComputePipeline, group int, buffers []Buffer) (BindGroup, error) {
	h := pipeline.(*computePipelineHandle)
	var layout *wgpu.BindGroupLayout
	switch group {
	case 0:
		layout = h.frameAndPositions
	case 1:
		layout = h.result
	case 2:
		layout = h.aux
	default:
		return nil, fmt.Errorf("unknown bind group index %d", group)
	}

	entries := make([]wgpu.BindGroupEntry, len(buffers))
	for i, buf := range buffers {
		entries[i] = wgpu.BindGroupEntry{
			Binding: uint32(i),
			Buffer:  buf.(*wgpu.Buffer),
			Offset:  0,
			Size:    wgpu.WholeSize,
		}
	}

	bg, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   label,
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return nil, err
	}
	return bg, nil
}

func (b *wgpuBackend) BeginFrame() (Encoder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	enc, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	b.encoder = enc
	return &wgpuEncoder{encoder: enc}, nil
}

type wgpuEncoder struct {
	encoder *wgpu.CommandEncoder
}

func (e *wgpuEncoder) CopyBuffer(src Buffer, srcOffset uint64, dst Buffer, dstOffset uint64, size uint64) {
	e.encoder.CopyBufferToBuffer(src.(*wgpu.Buffer), srcOffset, dst.(*wgpu.Buffer), dstOffset, size)
}

func (e *wgpuEncoder) Dispatch(pipeline ComputePipeline, groups [3]BindGroup, workGroupCount uint32) {
	h := pipeline.(*computePipelineHandle)
	pass := e.encoder.BeginComputePass(nil)
	pass.SetPipeline(h.pipeline)
	for i, g := range groups {
		if g == nil {
			continue
		}
		pass.SetBindGroup(uint32(i), g.(*wgpu.BindGroup), nil)
	}
	pass.DispatchWorkgroups(workGroupCount, 1, 1)
	pass.End()
}

func (b *wgpuBackend) Submit(enc Encoder) {
	b.mu.Lock()
	defer b.mu.Unlock()

	we := enc.(*wgpuEncoder)
	cmd, err := we.encoder.Finish(nil)
	if err != nil {
		we.encoder.Release()
		return
	}
	b.queue.Submit(cmd)
	cmd.Release()
	we.encoder.Release()
}

func (b *wgpuBackend) Poll() {
	b.device.Poll(true, nil)
}

func (b *wgpuBackend) MapRead(buf Buffer, size uint64) ([]byte, error) {
	wb := buf.(*wgpu.Buffer)

	mapped := false
	var mapErr error
	wb.MapAsync(wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
		if status == wgpu.BufferMapAsyncStatusSuccess {
			mapped = true
		} else {
			mapErr = &ErrBufferMapFailed{Label: fmt.Sprintf("status=%d", status)}
		}
	})

	for !mapped && mapErr == nil {
		b.device.Poll(true, nil)
	}
	if mapErr != nil {
		return nil, mapErr
	}

	view := wb.GetMappedRange(0, uint(size))
	out := make([]byte, len(view))
	copy(out, view)
	wb.Unmap()
	return out, nil
}

func (b *wgpuBackend) Release(buf Buffer) {
	if wb, ok := buf.(*wgpu.Buffer); ok {
		wb.Release()
	}
}
