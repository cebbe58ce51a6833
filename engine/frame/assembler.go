package frame

import (
	"errors"
	"sync"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/camera"
	"github.com/Carmen-Shannon/oxy-vr/engine/cull"
	"github.com/Carmen-Shannon/oxy-vr/engine/light"
	"github.com/Carmen-Shannon/oxy-vr/engine/model"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-vr/engine/resources"
	"github.com/Carmen-Shannon/oxy-vr/engine/scene"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// ErrNilInput is returned when Assemble is called without a scene or resource tables.
var ErrNilInput = errors.New("scene and resource tables are required")

type bucketKey struct {
	pipelineKey string
	workflow    material.Workflow
}

// pending is a draw collected during traversal, before it is placed in its bucket.
type pending struct {
	record  cull.GPUDrawRecord
	command cull.GPUDrawCommand
	bucket  int
}

// assembler is the implementation of the Assembler interface.
type assembler struct {
	mu           *sync.Mutex
	logger       *zap.Logger
	iblIntensity float32

	out *FrameBuffers

	// scratch state reused across frames
	pending   []pending
	bucketIDs map[bucketKey]int
	skinSlots map[common.SkinHandle]uint32
	cursor    []uint32
	lights    []light.GPULight
}

// Assembler converts the scene graph into the contents of the per-frame GPU buffers.
//
// Usage pattern:
//  1. Create one Assembler per renderer with NewAssembler
//  2. Call Assemble once per frame after animation has updated transforms and skins
//  3. Hand the returned FrameBuffers to the buffer synchronizer before the next Assemble call
type Assembler interface {
	// Assemble walks the scene depth-first and produces draw records, pre-filled draw commands grouped into
	// buckets, frame-local joint blocks, the culling uniform and the scene uniform. Unresolvable references
	// fall back to the error material and error mesh and are counted in FrameBuffers.Fallbacks. The same
	// scene, tables and view always produce identical output.
	//
	// Parameters:
	//   - s: the scene to draw
	//   - t: the resource tables the scene's handles refer to
	//   - view: the stereo view of this frame
	//
	// Returns:
	//   - *FrameBuffers: the frame contents, owned by the assembler until the next call
	//   - error: ErrNilInput if the scene or tables are nil
	Assemble(s scene.Scene, t resources.Tables, view camera.StereoView) (*FrameBuffers, error)

	// SetIBLIntensity changes the image-based lighting scale written to SceneData.
	SetIBLIntensity(intensity float32)
}

var _ Assembler = &assembler{}

// NewAssembler creates an Assembler.
//
// Parameters:
//   - options: functional options applied to the assembler
//
// Returns:
//   - Assembler: the assembler
func NewAssembler(options ...AssemblerBuilderOption) Assembler {
	a := &assembler{
		mu:           &sync.Mutex{},
		logger:       zap.NewNop(),
		iblIntensity: 1,
		out:          &FrameBuffers{},
		bucketIDs:    make(map[bucketKey]int),
		skinSlots:    make(map[common.SkinHandle]uint32),
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

func (a *assembler) SetIBLIntensity(intensity float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.iblIntensity = intensity
}

func (a *assembler) Assemble(s scene.Scene, t resources.Tables, view camera.StereoView) (*FrameBuffers, error) {
	if s == nil || t == nil {
		return nil, ErrNilInput
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.out
	out.reset()
	a.pending = a.pending[:0]
	a.lights = a.lights[:0]
	clear(a.bucketIDs)
	clear(a.skinSlots)

	errorMaterial, err := t.Material(t.ErrorMaterial())
	if err != nil {
		return nil, err
	}

	for _, l := range s.Lights() {
		if l != nil && l.Enabled() {
			a.lights = append(a.lights, light.ToGPULight(l))
		}
	}

	s.Traverse(func(v *scene.Visit) {
		if v.State.Light != nil && v.State.Light.Enabled() {
			a.lights = append(a.lights, light.ToGPULightAt(v.State.Light, v.World))
		}
		if v.State.Mesh.IsZero() {
			return
		}
		a.collect(t, v, errorMaterial)
	})

	a.place(out)
	out.Materials, out.MaterialVersion = t.MaterialRecords(out.Materials[:0])
	out.CullParams = cull.NewGPUCullParams(view.Frustums(), out.DrawCount())
	out.SceneData = camera.NewGPUSceneData(view, a.iblIntensity, nil)
	out.Lights = min(len(a.lights), light.MaxGPULights)
	copy(out.SceneData.Lights[:], a.lights[:out.Lights])

	if out.Fallbacks.Total() > 0 {
		a.logger.Debug("frame assembled with fallbacks",
			zap.Int("materials", out.Fallbacks.Materials),
			zap.Int("meshes", out.Fallbacks.Meshes),
			zap.Int("skins", out.Fallbacks.Skins),
		)
	}
	return out, nil
}

// collect resolves one visited entity into a pending draw.
func (a *assembler) collect(t resources.Tables, v *scene.Visit, errorMaterial resources.MaterialEntry) {
	out := a.out
	world := v.World
	mat := errorMaterial
	skinID := common.NotPresent

	mesh, err := t.Mesh(v.State.Mesh)
	if err != nil {
		out.Fallbacks.Meshes++
		a.logger.Debug("mesh fallback", zap.Stringer("entity", v.ID), zap.Error(err))
		mesh = t.ErrorMesh()
		world = mgl32.Ident4()
	} else {
		if m, err := t.Material(v.State.Material); err == nil {
			mat = m
		} else {
			out.Fallbacks.Materials++
			a.logger.Debug("material fallback", zap.Stringer("entity", v.ID), zap.Error(err))
		}
		if !v.State.Skin.IsZero() {
			skinID = a.resolveSkin(t, v)
		}
	}

	key := bucketKey{pipelineKey: mat.Material.PipelineKey(), workflow: mat.Material.Workflow()}
	bucket, ok := a.bucketIDs[key]
	if !ok {
		bucket = len(out.Buckets)
		a.bucketIDs[key] = bucket
		out.Buckets = append(out.Buckets, Bucket{PipelineKey: key.pipelineKey, Workflow: key.workflow})
	}
	out.Buckets[bucket].Count++

	a.pending = append(a.pending, pending{
		record: cull.GPUDrawRecord{
			Transform:        world,
			InverseTranspose: common.InverseTranspose(world),
			BoundingSphere:   common.TransformSphere(world, mesh.Bounds).Vec4(),
			MaterialID:       mat.Index,
			SkinID:           skinID,
		},
		command: cull.GPUDrawCommand{
			IndexCount:    mesh.IndexCount,
			InstanceCount: 1,
			FirstIndex:    mesh.FirstIndex,
			VertexOffset:  mesh.VertexOffset,
		},
		bucket: bucket,
	})
}

// resolveSkin returns the frame-local joint block of the entity's skin, copying the joints on first use.
func (a *assembler) resolveSkin(t resources.Tables, v *scene.Visit) uint32 {
	h := v.State.Skin
	if slot, ok := a.skinSlots[h]; ok {
		return slot
	}
	out := a.out
	slot := uint32(len(out.JointBlocks))
	out.JointBlocks = append(out.JointBlocks, model.GPUJointBlock{})
	if err := t.CopySkinJoints(h, &out.JointBlocks[slot]); err != nil {
		out.JointBlocks = out.JointBlocks[:slot]
		out.Fallbacks.Skins++
		a.logger.Debug("skin fallback", zap.Stringer("entity", v.ID), zap.Error(err))
		return common.NotPresent
	}
	out.SkinHandles = append(out.SkinHandles, h)
	a.skinSlots[h] = slot
	return slot
}

// place lays the pending draws out bucket by bucket, keeping traversal order inside each bucket.
func (a *assembler) place(out *FrameBuffers) {
	a.cursor = a.cursor[:0]
	var first uint32
	for i := range out.Buckets {
		out.Buckets[i].First = first
		a.cursor = append(a.cursor, first)
		first += out.Buckets[i].Count
	}

	n := len(a.pending)
	out.DrawRecords = resize(out.DrawRecords, n)
	out.DrawCommands = resize(out.DrawCommands, n)
	for _, p := range a.pending {
		idx := a.cursor[p.bucket]
		a.cursor[p.bucket]++
		out.DrawRecords[idx] = p.record
		p.command.FirstInstance = idx
		out.DrawCommands[idx] = p.command
	}
}

func resize[T any](s []T, n int) []T {
	if cap(s) >= n {
		return s[:n]
	}
	return make([]T, n)
}
