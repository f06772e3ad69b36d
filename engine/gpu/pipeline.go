// Package gpu implements the GPU Pipeline (C6): per-animation GPU resource
// lifecycle, reconciliation against a new PipelineContext, and the
// compute/read-back dispatch for one frame.
package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Carmen-Shannon/blinkenctl/common"
	"github.com/Carmen-Shannon/blinkenctl/engine/aggregator"
	"github.com/Carmen-Shannon/blinkenctl/engine/animation"
	"github.com/Carmen-Shannon/blinkenctl/engine/auxiliary"
)

// State is the Pipeline's coarse execution state.
type State int

const (
	StateIdle State = iota
	StateComputing
)

// ComputeOutput is the per-frame result: one LED vector per animation that
// actually ran this frame.
type ComputeOutput struct {
	States map[common.AnimationId][]common.LED
}

// pipelineEntry is the per-animation GPU resource record.
type pipelineEntry struct {
	numLEDs         uint32
	resultSize      uint64
	positionsSize   uint64
	workGroupCount  uint32
	auxiliaries     []auxiliary.AuxiliaryDataTypeConsumer
	target          common.Target
	storageBuffer   Buffer
	stagingBuffer   Buffer
	positionsBuffer Buffer
	computePipeline ComputePipeline
	frameAndPosGrp  BindGroup
	resultGrp       BindGroup
}

// pipelineAuxiliary is the per-auxiliary GPU resource record.
type pipelineAuxiliary struct {
	kind     auxiliary.Kind
	byteSize uint64
	buffer   Buffer
}

// Pipeline is the GPU Pipeline (C6).
type Pipeline interface {
	// BeforeFrame reconciles ctx against the last-seen context: adds/removes
	// per-animation and per-auxiliary GPU resources, then polls the device.
	// It submits no command buffer of its own: buffer writes queued here go
	// to the GPU with ComputeFrame's submission. Fails with WrongStateError
	// if not Idle.
	BeforeFrame(ctx aggregator.PipelineContext) error

	// ComputeFrame dispatches one frame's compute work for every
	// reconciled animation. Fails with WrongStateError if not Idle, or
	// NoContextError if BeforeFrame has never been called.
	ComputeFrame(frame common.FrameData) error

	// PollDevice blocks until all submitted GPU work is idle.
	PollDevice()

	// ReadLEDStates maps back every animation's staging buffer, decodes it,
	// and transitions back to Idle. Panics if a shader wrote fewer LEDs
	// than its target's declared LED count — an unrecoverable protocol
	// violation between shader and engine.
	ReadLEDStates() (ComputeOutput, error)
}

type pipeline struct {
	backend          Backend
	ledsPerWorkgroup uint32
	log              common.Logger

	state State

	frameBuffer Buffer
	zeroBuffer  Buffer
	zeroSize    uint64
	emptyBufs   map[auxiliary.Kind]Buffer

	entries     map[common.AnimationId]*pipelineEntry
	auxiliaries map[common.AuxiliaryId]*pipelineAuxiliary

	currentContext aggregator.PipelineContext
	haveContext    bool

	skippedThisFrame map[common.AnimationId]bool
}

// New builds a Pipeline over backend, with the given LED-per-workgroup
// sizing.
func New(backend Backend, ledsPerWorkgroup uint32, log common.Logger) (Pipeline, error) {
	if log == nil {
		log = common.NopLogger{}
	}
	if ledsPerWorkgroup == 0 {
		ledsPerWorkgroup = 1
	}

	frameBuf, err := backend.CreateBuffer("frame data", 5*4, BufferKindFrameUniform)
	if err != nil {
		return nil, fmt.Errorf("allocate frame buffer: %w", err)
	}

	p := &pipeline{
		backend:          backend,
		ledsPerWorkgroup: ledsPerWorkgroup,
		log:              log,
		frameBuffer:      frameBuf,
		entries:          make(map[common.AnimationId]*pipelineEntry),
		auxiliaries:      make(map[common.AuxiliaryId]*pipelineAuxiliary),
		emptyBufs:        make(map[auxiliary.Kind]Buffer),
	}

	for _, kind := range []auxiliary.Kind{
		auxiliary.KindEmpty, auxiliary.KindF32, auxiliary.KindF32Vec,
		auxiliary.KindF32Vec2, auxiliary.KindF32Vec3, auxiliary.KindF32Vec4,
	} {
		data := auxiliary.EmptySubstituteBuffer(kind)
		buf, err := backend.CreateBuffer(fmt.Sprintf("empty aux buffer (%d)", kind), uint64(len(data)), BufferKindAuxiliary)
		if err != nil {
			return nil, fmt.Errorf("allocate empty auxiliary buffer: %w", err)
		}
		backend.WriteBuffer(buf, 0, data)
		p.emptyBufs[kind] = buf
	}

	return p, nil
}

func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return a
	}
	return (a + b - 1) / b
}

func (p *pipeline) BeforeFrame(ctx aggregator.PipelineContext) error {
	if p.state != StateIdle {
		return common.NewWrongStateError("before_frame requires Idle")
	}

	for id := range p.entries {
		if _, stillPresent := ctx.Animations[id]; !stillPresent {
			p.removeShader(id)
		}
	}
	for id, anim := range ctx.Animations {
		if _, alreadyHave := p.entries[id]; !alreadyHave {
			if err := p.addShader(ctx, id, anim); err != nil {
				p.log.Errorf("gpu pipeline: add_shader %s: %v", id, err)
			}
		}
	}

	for id, rec := range p.auxiliaries {
		newData, stillPresent := ctx.AuxiliaryData[id]
		if !stillPresent {
			p.removeAuxiliary(id)
			continue
		}
		wantSize := uint64(newData.Size) * 4
		if wantSize != rec.byteSize {
			p.removeAuxiliary(id)
			if err := p.addAuxiliary(id, newData); err != nil {
				p.log.Errorf("gpu pipeline: re-add_auxiliary %s: %v", id, err)
			}
		}
	}
	for id, data := range ctx.AuxiliaryData {
		if _, alreadyHave := p.auxiliaries[id]; !alreadyHave {
			if err := p.addAuxiliary(id, data); err != nil {
				p.log.Errorf("gpu pipeline: add_auxiliary %s: %v", id, err)
			}
		}
	}

	p.backend.Poll()

	p.currentContext = ctx
	p.haveContext = true
	return nil
}

// addShader allocates the GPU resources for a newly-reconciled animation:
// storage/staging/positions buffers sized from its target's LED count, the
// compiled compute pipeline, and its two static bind groups (frame+positions,
// result). The per-frame auxiliary bind group (group 2) is built fresh every
// compute_frame, since which buffers it binds can change frame to frame.
func (p *pipeline) addShader(ctx aggregator.PipelineContext, id common.AnimationId, anim animation.Animation) error {
	numLEDs, ok := ctx.NumLEDs[anim.Target]
	if !ok {
		return common.NewTargetDoesNotExistError(string(id), fmt.Sprintf("%v", anim.Target))
	}

	resultSize := uint64(numLEDs) * 3 * 4
	positionsSize := uint64(numLEDs) * 3 * 4
	workGroupCount := ceilDiv(numLEDs, p.ledsPerWorkgroup)

	storageBuf, err := p.backend.CreateBuffer(fmt.Sprintf("%s storage", id), resultSize, BufferKindResultStorage)
	if err != nil {
		return fmt.Errorf("allocate storage buffer: %w", err)
	}
	stagingBuf, err := p.backend.CreateBuffer(fmt.Sprintf("%s staging", id), resultSize, BufferKindStaging)
	if err != nil {
		p.backend.Release(storageBuf)
		return fmt.Errorf("allocate staging buffer: %w", err)
	}
	positionsBuf, err := p.backend.CreateBuffer(fmt.Sprintf("%s positions", id), positionsSize, BufferKindPositions)
	if err != nil {
		p.backend.Release(storageBuf)
		p.backend.Release(stagingBuf)
		return fmt.Errorf("allocate positions buffer: %w", err)
	}

	cp, err := p.backend.CreateComputePipeline(string(id), anim.Manifest.Shader, len(anim.Manifest.Auxiliaries))
	if err != nil {
		p.backend.Release(storageBuf)
		p.backend.Release(stagingBuf)
		p.backend.Release(positionsBuf)
		return fmt.Errorf("compile compute pipeline: %w", err)
	}

	frameAndPosGrp, err := p.backend.CreateBindGroup(fmt.Sprintf("%s frame+positions", id), cp, 0, []Buffer{p.frameBuffer, positionsBuf})
	if err != nil {
		return fmt.Errorf("build frame+positions bind group: %w", err)
	}
	resultGrp, err := p.backend.CreateBindGroup(fmt.Sprintf("%s result", id), cp, 1, []Buffer{storageBuf})
	if err != nil {
		return fmt.Errorf("build result bind group: %w", err)
	}

	p.entries[id] = &pipelineEntry{
		numLEDs:         numLEDs,
		resultSize:      resultSize,
		positionsSize:   positionsSize,
		workGroupCount:  workGroupCount,
		auxiliaries:     anim.Manifest.Auxiliaries,
		target:          anim.Target,
		storageBuffer:   storageBuf,
		stagingBuffer:   stagingBuf,
		positionsBuffer: positionsBuf,
		computePipeline: cp,
		frameAndPosGrp:  frameAndPosGrp,
		resultGrp:       resultGrp,
	}
	return nil
}

func (p *pipeline) removeShader(id common.AnimationId) {
	entry, ok := p.entries[id]
	if !ok {
		return
	}
	p.backend.Release(entry.storageBuffer)
	p.backend.Release(entry.stagingBuffer)
	p.backend.Release(entry.positionsBuffer)
	delete(p.entries, id)
}

func (p *pipeline) removeAuxiliary(id common.AuxiliaryId) {
	rec, ok := p.auxiliaries[id]
	if !ok {
		return
	}
	p.backend.Release(rec.buffer)
	delete(p.auxiliaries, id)
}

func (p *pipeline) addAuxiliary(id common.AuxiliaryId, data auxiliary.AuxiliaryData) error {
	byteSize := uint64(data.Size) * 4
	buf, err := p.backend.CreateBuffer(fmt.Sprintf("auxiliary %s", id), byteSize, BufferKindAuxiliary)
	if err != nil {
		return err
	}
	p.auxiliaries[id] = &pipelineAuxiliary{kind: data.Data.Kind(), byteSize: byteSize, buffer: buf}
	return nil
}

func (p *pipeline) ensureZeroBuffer(size uint64) error {
	if size <= p.zeroSize {
		return nil
	}
	if p.zeroBuffer != nil {
		p.backend.Release(p.zeroBuffer)
	}
	buf, err := p.backend.CreateBuffer("zero source", size, BufferKindZeroSource)
	if err != nil {
		return err
	}
	p.backend.WriteBuffer(buf, 0, make([]byte, size))
	p.zeroBuffer = buf
	p.zeroSize = size
	return nil
}

func (p *pipeline) ComputeFrame(frame common.FrameData) error {
	if p.state != StateIdle {
		return common.NewWrongStateError("compute_frame requires Idle")
	}
	if !p.haveContext {
		return common.NewNoContextError("compute_frame called before before_frame")
	}

	encoder, err := p.backend.BeginFrame()
	if err != nil {
		return fmt.Errorf("begin compute frame: %w", err)
	}

	frameBytes := frameDataBytes(frame)
	p.backend.WriteBuffer(p.frameBuffer, 0, frameBytes)

	for id, rec := range p.auxiliaries {
		data, ok := p.currentContext.AuxiliaryData[id]
		if !ok {
			continue
		}
		p.backend.WriteBuffer(rec.buffer, 0, data.Data.ToDataBuffer())
	}

	p.skippedThisFrame = make(map[common.AnimationId]bool)

	for id, entry := range p.entries {
		anim := p.currentContext.Animations[id]
		positions, ok := p.currentContext.LedPositions[anim.Target]
		if !ok {
			p.log.Warnf("gpu pipeline: no positions for animation %s target %v, skipping frame", id, anim.Target)
			p.skippedThisFrame[id] = true
			continue
		}

		auxSources := p.currentContext.AnimationAuxiliaryData[id]
		auxBuffers := make([]Buffer, len(entry.auxiliaries))
		for i, consumer := range entry.auxiliaries {
			auxBuffers[i] = p.resolveAuxiliaryBuffer(id, i, consumer, auxSources)
		}

		auxGroup, err := p.backend.CreateBindGroup(fmt.Sprintf("%s aux group", id), entry.computePipeline, 2, auxBuffers)
		if err != nil {
			p.log.Errorf("gpu pipeline: build auxiliary bind group for %s: %v", id, err)
			p.skippedThisFrame[id] = true
			continue
		}

		if err := p.ensureZeroBuffer(entry.resultSize); err != nil {
			p.log.Errorf("gpu pipeline: ensure zero buffer for %s: %v", id, err)
			p.skippedThisFrame[id] = true
			continue
		}
		encoder.CopyBuffer(p.zeroBuffer, 0, entry.storageBuffer, 0, entry.resultSize)

		p.backend.WriteBuffer(entry.positionsBuffer, 0, positionsBytes(positions))

		encoder.Dispatch(entry.computePipeline, [3]BindGroup{entry.frameAndPosGrp, entry.resultGrp, auxGroup}, entry.workGroupCount)

		encoder.CopyBuffer(entry.storageBuffer, 0, entry.stagingBuffer, 0, entry.resultSize)
	}

	p.backend.Submit(encoder)
	p.state = StateComputing
	return nil
}

// resolveAuxiliaryBuffer picks the live buffer for auxiliary slot i of
// animation id if it resolves and type-matches consumer, else the shared
// empty-kind substitute, logging per §4.6's debug/error distinction.
func (p *pipeline) resolveAuxiliaryBuffer(id common.AnimationId, i int, consumer auxiliary.AuxiliaryDataTypeConsumer, sources []common.AuxiliaryId) Buffer {
	if i >= len(sources) {
		p.log.Debugf("gpu pipeline: animation %s aux slot %d unmapped, substituting empty buffer", id, i)
		return p.emptyBufs[consumer]
	}
	auxID := sources[i]
	rec, ok := p.auxiliaries[auxID]
	if !ok {
		p.log.Errorf("gpu pipeline: animation %s aux slot %d references unknown auxiliary %s, substituting empty buffer", id, i, auxID)
		return p.emptyBufs[consumer]
	}
	if rec.kind != consumer {
		p.log.Errorf("gpu pipeline: animation %s aux slot %d type mismatch (want %d, have %d), substituting empty buffer", id, i, consumer, rec.kind)
		return p.emptyBufs[consumer]
	}
	return rec.buffer
}

func (p *pipeline) PollDevice() {
	p.backend.Poll()
}

func (p *pipeline) ReadLEDStates() (ComputeOutput, error) {
	out := ComputeOutput{States: make(map[common.AnimationId][]common.LED)}

	for id, entry := range p.entries {
		if p.skippedThisFrame[id] {
			continue
		}
		data, err := p.backend.MapRead(entry.stagingBuffer, entry.resultSize)
		if err != nil {
			return out, fmt.Errorf("read led states for %s: %w", id, err)
		}

		leds := decodeLEDs(data)
		if uint32(len(leds)) != entry.numLEDs {
			panic(fmt.Sprintf("shader did not return enough states: animation %s wanted %d, got %d", id, entry.numLEDs, len(leds)))
		}
		out.States[id] = leds
	}

	p.state = StateIdle
	return out, nil
}

func frameDataBytes(frame common.FrameData) []byte {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(float32(frame.Frame)))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(float32(frame.FrameNumerator)))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(float32(frame.FrameDenominator)))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(frame.SecondsElapsed))
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(float32(frame.WholeSecondsElapsed)))
	return buf
}

// positionsBytes reinterprets positions as raw bytes: Coord's three float32
// fields are laid out exactly as the GPU positions buffer expects, so no
// per-element encoding is needed.
func positionsBytes(positions []common.Coord) []byte {
	return common.SliceToBytes(positions)
}

func decodeLEDs(data []byte) []common.LED {
	count := len(data) / 12
	leds := make([]common.LED, 0, count)
	for i := 0; i < count; i++ {
		off := i * 12
		r := math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
		g := math.Float32frombits(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		b := math.Float32frombits(binary.LittleEndian.Uint32(data[off+8 : off+12]))
		leds = append(leds, common.LEDFromFloats([]float32{r, g, b}))
	}
	return leds
}
