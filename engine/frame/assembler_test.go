package frame

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/camera"
	"github.com/Carmen-Shannon/oxy-vr/engine/cull"
	"github.com/Carmen-Shannon/oxy-vr/engine/game_object"
	"github.com/Carmen-Shannon/oxy-vr/engine/light"
	"github.com/Carmen-Shannon/oxy-vr/engine/model"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-vr/engine/resources"
	"github.com/Carmen-Shannon/oxy-vr/engine/scene"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	tables resources.Tables
	scene  scene.Scene
	cube   common.MeshHandle
	lit    common.MaterialHandle
	unlit  common.MaterialHandle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tabs, err := resources.NewTables(device.NewSoftwareDevice())
	require.NoError(t, err)
	t.Cleanup(tabs.Release)

	cube, err := tabs.RegisterMesh(model.CubeMesh())
	require.NoError(t, err)
	lit, err := tabs.RegisterMaterial(material.NewMaterial(material.WithName("lit")))
	require.NoError(t, err)
	unlit, err := tabs.RegisterMaterial(material.NewMaterial(material.WithName("unlit"), material.WithWorkflow(material.WorkflowUnlit)))
	require.NoError(t, err)

	return &fixture{tables: tabs, scene: scene.NewScene("test"), cube: cube, lit: lit, unlit: unlit}
}

func (f *fixture) add(t *testing.T, parent scene.EntityID, options ...game_object.GameObjectBuilderOption) scene.EntityID {
	t.Helper()
	id, err := f.scene.Add(game_object.NewGameObject(options...), parent)
	require.NoError(t, err)
	return id
}

func testView() camera.StereoView {
	var view camera.StereoView
	fov := camera.SymmetricFov(mgl32.DegToRad(90), mgl32.DegToRad(90))
	for i, x := range []float32{-0.032, 0.032} {
		view.Eyes[i] = camera.Eye{
			Pose: camera.Pose{Position: mgl32.Vec3{x, 0, 0}, Orientation: mgl32.QuatIdent()},
			Fov:  fov,
		}
	}
	return view
}

func TestAssembleWorldTransformAndBounds(t *testing.T) {
	f := newFixture(t)
	parent := f.add(t, scene.EntityID{}, game_object.WithPosition(0, 0, -5))
	f.add(t, parent,
		game_object.WithPosition(1, 0, 0),
		game_object.WithScale(1, 2, 3),
		game_object.WithMesh(f.cube),
		game_object.WithMaterial(f.lit),
	)

	out, err := NewAssembler().Assemble(f.scene, f.tables, testView())
	require.NoError(t, err)
	require.Len(t, out.DrawRecords, 1)

	rec := out.DrawRecords[0]
	assert.Equal(t, mgl32.Translate3D(1, 0, -5).Mul4(mgl32.Scale3D(1, 2, 3)), rec.Transform)
	center := rec.BoundingSphere.Vec3()
	assert.InDeltaSlice(t, []float32{1, 0, -5}, center[:], 1e-5)
	// unit cube radius √3/2 scaled by the largest axis
	assert.InDelta(t, 3*0.8660254, rec.BoundingSphere.W(), 1e-4)
	assert.Equal(t, f.lit.Index, rec.MaterialID)
	assert.Equal(t, common.NotPresent, rec.SkinID)
	assert.Equal(t, uint32(1), out.CullParams.DrawCount)

	entry, err := f.tables.Mesh(f.cube)
	require.NoError(t, err)
	assert.Equal(t, cullCommand(entry, 0), out.DrawCommands[0])
	assert.Zero(t, out.Fallbacks.Total())
}

func TestAssembleSingularTransform(t *testing.T) {
	f := newFixture(t)
	f.add(t, scene.EntityID{}, game_object.WithScale(0, 1, 1), game_object.WithMesh(f.cube), game_object.WithMaterial(f.lit))

	out, err := NewAssembler().Assemble(f.scene, f.tables, testView())
	require.NoError(t, err)
	require.Len(t, out.DrawRecords, 1)
	assert.Equal(t, mgl32.Ident4(), out.DrawRecords[0].InverseTranspose)
}

func TestAssembleFallbacks(t *testing.T) {
	f := newFixture(t)
	stale, err := f.tables.RegisterMesh(model.CubeMesh())
	require.NoError(t, err)
	require.NoError(t, f.tables.UnregisterMesh(stale))

	f.add(t, scene.EntityID{}, game_object.WithMesh(f.cube))
	f.add(t, scene.EntityID{}, game_object.WithPosition(3, 3, 3), game_object.WithMesh(stale), game_object.WithMaterial(f.lit))
	f.add(t, scene.EntityID{}, game_object.WithMesh(f.cube), game_object.WithMaterial(f.lit), game_object.WithSkin(common.SkinHandle{Index: 9, Generation: 1}))

	out, err := NewAssembler().Assemble(f.scene, f.tables, testView())
	require.NoError(t, err)
	require.Len(t, out.DrawRecords, 3)
	assert.Equal(t, Fallbacks{Materials: 1, Meshes: 1, Skins: 1}, out.Fallbacks)

	// the first two draws share the error material's bucket
	require.Len(t, out.Buckets, 2)
	assert.Equal(t, Bucket{PipelineKey: material.DefaultPipelineKey, Workflow: material.WorkflowUnlit, First: 0, Count: 2}, out.Buckets[0])

	assert.Equal(t, resources.ErrorMaterialIndex, out.DrawRecords[0].MaterialID)
	errMesh := out.DrawRecords[1]
	assert.Equal(t, resources.ErrorMaterialIndex, errMesh.MaterialID)
	assert.Equal(t, mgl32.Ident4(), errMesh.Transform)
	assert.Equal(t, cullCommand(f.tables.ErrorMesh(), 1), out.DrawCommands[1])
	assert.Equal(t, common.NotPresent, out.DrawRecords[2].SkinID)
	assert.Empty(t, out.JointBlocks)
}

func TestAssembleBucketsAreContiguous(t *testing.T) {
	f := newFixture(t)
	order := []common.MaterialHandle{f.lit, f.unlit, f.lit, f.unlit, f.lit}
	for i, m := range order {
		f.add(t, scene.EntityID{}, game_object.WithPosition(float32(i), 0, -5), game_object.WithMesh(f.cube), game_object.WithMaterial(m))
	}

	out, err := NewAssembler().Assemble(f.scene, f.tables, testView())
	require.NoError(t, err)
	require.Equal(t, []Bucket{
		{PipelineKey: material.DefaultPipelineKey, Workflow: material.WorkflowMetallicRoughness, First: 0, Count: 3},
		{PipelineKey: material.DefaultPipelineKey, Workflow: material.WorkflowUnlit, First: 3, Count: 2},
	}, out.Buckets)

	// traversal order is kept within a bucket
	xs := make([]float32, 0, len(out.DrawRecords))
	for i, rec := range out.DrawRecords {
		xs = append(xs, rec.Transform.Col(3).X())
		assert.Equal(t, uint32(i), out.DrawCommands[i].FirstInstance)
		assert.Equal(t, uint32(1), out.DrawCommands[i].InstanceCount)
	}
	assert.Equal(t, []float32{0, 2, 4, 1, 3}, xs)
}

func TestAssembleDeduplicatesSkins(t *testing.T) {
	f := newFixture(t)
	skinA, err := f.tables.RegisterSkin(2)
	require.NoError(t, err)
	skinB, err := f.tables.RegisterSkin(1)
	require.NoError(t, err)
	require.NoError(t, f.tables.SetSkinJoints(skinA, []mgl32.Mat4{mgl32.Translate3D(1, 0, 0), mgl32.Translate3D(2, 0, 0)}))

	for _, s := range []common.SkinHandle{skinB, skinA, skinB} {
		f.add(t, scene.EntityID{}, game_object.WithMesh(f.cube), game_object.WithMaterial(f.lit), game_object.WithSkin(s))
	}

	out, err := NewAssembler().Assemble(f.scene, f.tables, testView())
	require.NoError(t, err)
	require.Len(t, out.JointBlocks, 2)
	assert.Equal(t, []common.SkinHandle{skinB, skinA}, out.SkinHandles)
	assert.Equal(t, []uint32{0, 1, 0}, []uint32{out.DrawRecords[0].SkinID, out.DrawRecords[1].SkinID, out.DrawRecords[2].SkinID})
	assert.Equal(t, mgl32.Translate3D(2, 0, 0), out.JointBlocks[1].Joints[1])
	assert.Equal(t, mgl32.Mat4{}, out.JointBlocks[1].Joints[2])
}

func TestAssembleLights(t *testing.T) {
	f := newFixture(t)
	f.scene.AddLight(light.NewLight(light.LightTypeDirectional))
	f.scene.AddLight(light.NewLight(light.LightTypePoint, light.WithEnabled(false)))
	f.add(t, scene.EntityID{}, game_object.WithPosition(0, 2, 0), game_object.WithLight(light.NewLight(light.LightTypePoint)))

	out, err := NewAssembler(WithIBLIntensity(0.5)).Assemble(f.scene, f.tables, testView())
	require.NoError(t, err)
	assert.Equal(t, 2, out.Lights)
	assert.Equal(t, uint32(light.LightTypeDirectional), out.SceneData.Lights[0].LightType)
	assert.Equal(t, uint32(light.LightTypePoint), out.SceneData.Lights[1].LightType)
	assert.Equal(t, [3]float32{0, 2, 0}, out.SceneData.Lights[1].Position)
	assert.Equal(t, common.NotPresent, out.SceneData.Lights[2].LightType)
	assert.Equal(t, common.NotPresent, out.SceneData.Lights[3].LightType)
	assert.Equal(t, float32(0.5), out.SceneData.Params.X())
	assert.Empty(t, out.DrawRecords)
}

func TestAssembleIsIdempotentAndReusesBuffers(t *testing.T) {
	f := newFixture(t)
	for i := range 10 {
		m := f.lit
		if i%3 == 0 {
			m = f.unlit
		}
		f.add(t, scene.EntityID{}, game_object.WithPosition(float32(i), 0, -5), game_object.WithMesh(f.cube), game_object.WithMaterial(m))
	}

	a := NewAssembler(WithCapacity(16))
	view := testView()
	first, err := a.Assemble(f.scene, f.tables, view)
	require.NoError(t, err)
	snapshot := first.Clone()
	records := &first.DrawRecords[0]

	second, err := a.Assemble(f.scene, f.tables, view)
	require.NoError(t, err)
	assert.Equal(t, snapshot, second.Clone())
	assert.Same(t, records, &second.DrawRecords[0])
}

func TestAssembleRequiresInputs(t *testing.T) {
	f := newFixture(t)
	_, err := NewAssembler().Assemble(nil, f.tables, testView())
	assert.ErrorIs(t, err, ErrNilInput)
	_, err = NewAssembler().Assemble(f.scene, nil, testView())
	assert.ErrorIs(t, err, ErrNilInput)
}

func cullCommand(entry resources.MeshEntry, index uint32) cull.GPUDrawCommand {
	return cull.GPUDrawCommand{
		IndexCount:    entry.IndexCount,
		InstanceCount: 1,
		FirstIndex:    entry.FirstIndex,
		VertexOffset:  entry.VertexOffset,
		FirstInstance: index,
	}
}
