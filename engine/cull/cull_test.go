package cull

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/camera"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/device"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testView looks down -Z with the left eye and down +Z with the right eye.
func testView() camera.StereoView {
	var view camera.StereoView
	fov := camera.SymmetricFov(mgl32.DegToRad(90), mgl32.DegToRad(90))
	view.Eyes[camera.EyeLeft] = camera.Eye{
		Pose: camera.Pose{Position: mgl32.Vec3{-0.032, 0, 0}, Orientation: mgl32.QuatIdent()},
		Fov:  fov,
	}
	view.Eyes[camera.EyeRight] = camera.Eye{
		Pose: camera.Pose{Position: mgl32.Vec3{0.032, 0, 0}, Orientation: mgl32.QuatRotate(math.Pi, mgl32.Vec3{0, 1, 0})},
		Fov:  fov,
	}
	return view
}

func sidePlanes(view camera.StereoView) [common.ViewCount][4]common.Plane {
	f := view.Frustums()
	return [common.ViewCount][4]common.Plane{f[0].SidePlanes(), f[1].SidePlanes()}
}

func TestGPUTypeSizes(t *testing.T) {
	assert.Equal(t, DrawRecordSize, (&GPUDrawRecord{}).Size())
	assert.Equal(t, DrawCommandSize, (&GPUDrawCommand{}).Size())
	assert.Equal(t, CullParamsSize, (&GPUCullParams{}).Size())
	assert.Equal(t, device.DrawIndexedIndirectSize, DrawCommandSize)
}

func TestDrawRecordMarshal(t *testing.T) {
	rec := GPUDrawRecord{
		Transform:        mgl32.Translate3D(1, 2, 3),
		InverseTranspose: mgl32.Ident4(),
		BoundingSphere:   mgl32.Vec4{1, 2, 3, 4},
		MaterialID:       7,
		SkinID:           common.NotPresent,
	}
	buf := rec.Marshal()
	require.Len(t, buf, DrawRecordSize)
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(buf[48:])))
	assert.Equal(t, float32(4), math.Float32frombits(binary.LittleEndian.Uint32(buf[140:])))
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(buf[144:]))
	assert.Equal(t, common.NotPresent, binary.LittleEndian.Uint32(buf[148:]))
}

func TestDrawCommandMarshal(t *testing.T) {
	cmd := GPUDrawCommand{IndexCount: 36, InstanceCount: 1, FirstIndex: 72, VertexOffset: -4, FirstInstance: 9}
	buf := cmd.Marshal()
	assert.Equal(t, uint32(36), binary.LittleEndian.Uint32(buf[0:]))
	assert.Equal(t, uint32(72), binary.LittleEndian.Uint32(buf[8:]))
	assert.Equal(t, int32(-4), int32(binary.LittleEndian.Uint32(buf[12:])))
	assert.Equal(t, uint32(9), binary.LittleEndian.Uint32(buf[16:]))
}

func TestCullParamsRoundTrip(t *testing.T) {
	params := NewGPUCullParams(testView().Frustums(), 12)
	got := unmarshalCullParams(params.Marshal())
	assert.Equal(t, params, got)
}

func TestShaderCompiles(t *testing.T) {
	p, err := NewPipeline()
	require.NoError(t, err)
	assert.Equal(t, PipelineKey, p.PipelineKey())
	assert.Equal(t, [3]uint32{2, 1, 1}, p.WorkgroupCount(65))
}

func TestSphereVisible(t *testing.T) {
	planes := sidePlanes(testView())

	cases := []struct {
		name    string
		sphere  common.Sphere
		visible bool
	}{
		{"in front of left eye", common.Sphere{Center: mgl32.Vec3{0, 0, -5}, Radius: 1}, true},
		{"in front of right eye only", common.Sphere{Center: mgl32.Vec3{0, 0, 5}, Radius: 1}, true},
		{"far to the side", common.Sphere{Center: mgl32.Vec3{-100, 0, 0}, Radius: 1}, false},
		{"straddling a plane", common.Sphere{Center: mgl32.Vec3{-5.5, 0, -5}, Radius: 1}, true},
		{"above both", common.Sphere{Center: mgl32.Vec3{0, 100, 0}, Radius: 1}, false},
		{"zero radius", common.Sphere{Center: mgl32.Vec3{0, 0, -5}, Radius: 0}, false},
		{"negative radius", common.Sphere{Center: mgl32.Vec3{0, 0, -5}, Radius: -1}, false},
		{"nan radius", common.Sphere{Center: mgl32.Vec3{0, 0, -5}, Radius: float32(math.NaN())}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.visible, SphereVisible(planes, tc.sphere))
		})
	}
}

func TestKernelWritesOnlyInstanceCount(t *testing.T) {
	dev := device.NewSoftwareDevice(device.WithKernel(PipelineKey, Kernel))
	p, err := NewPipeline()
	require.NoError(t, err)
	require.NoError(t, dev.RegisterPipeline(p))

	view := testView()
	spheres := []common.Sphere{
		{Center: mgl32.Vec3{0, 0, -5}, Radius: 1},
		{Center: mgl32.Vec3{-100, 0, 0}, Radius: 1},
		{Center: mgl32.Vec3{0, 0, 5}, Radius: 0.5},
		{Center: mgl32.Vec3{0, 0, -5}, Radius: float32(math.NaN())},
		{Center: mgl32.Vec3{0, 0, -5}, Radius: 1},
	}
	// the last record lies past draw_count and must be left alone
	drawCount := uint32(len(spheres) - 1)

	records := make([]byte, len(spheres)*DrawRecordSize)
	commands := make([]byte, len(spheres)*DrawCommandSize)
	for i, s := range spheres {
		rec := GPUDrawRecord{Transform: mgl32.Ident4(), InverseTranspose: mgl32.Ident4(), BoundingSphere: s.Vec4()}
		rec.MarshalInto(records[i*DrawRecordSize:])
		cmd := GPUDrawCommand{IndexCount: 36, InstanceCount: 7, FirstIndex: uint32(i * 3), VertexOffset: int32(i), FirstInstance: uint32(i)}
		cmd.MarshalInto(commands[i*DrawCommandSize:])
	}
	params := NewGPUCullParams(view.Frustums(), drawCount)

	paramsBuf, err := dev.CreateBuffer("params", CullParamsSize, device.BufferUsageUniform)
	require.NoError(t, err)
	recordBuf, err := dev.CreateBuffer("records", uint64(len(records)), device.BufferUsageStorage)
	require.NoError(t, err)
	commandBuf, err := dev.CreateBuffer("commands", uint64(len(commands)), device.BufferUsageStorage|device.BufferUsageIndirect)
	require.NoError(t, err)
	require.NoError(t, dev.WriteBuffer(paramsBuf, 0, params.Marshal()))
	require.NoError(t, dev.WriteBuffer(recordBuf, 0, records))
	require.NoError(t, dev.WriteBuffer(commandBuf, 0, commands))

	bg, err := dev.CreateBindGroup("cull group", p, 0, []device.BindGroupEntry{
		{Binding: BindingParams, Buffer: paramsBuf},
		{Binding: BindingRecords, Buffer: recordBuf},
		{Binding: BindingCommands, Buffer: commandBuf},
	})
	require.NoError(t, err)
	enc, err := dev.CreateCommandEncoder("cull")
	require.NoError(t, err)
	pass := enc.BeginComputePass("cull pass")
	pass.SetPipeline(p)
	pass.SetBindGroup(0, bg)
	wg := p.WorkgroupCount(drawCount)
	pass.DispatchWorkgroups(wg[0], wg[1], wg[2])
	pass.End()
	_, err = dev.Submit(enc)
	require.NoError(t, err)

	out, err := dev.ReadBuffer(commandBuf)
	require.NoError(t, err)

	planes := sidePlanes(view)
	for i, s := range spheres {
		cmd := out[i*DrawCommandSize:]
		want := uint32(7)
		if uint32(i) < drawCount {
			want = 0
			if SphereVisible(planes, s) {
				want = 1
			}
		}
		assert.Equal(t, want, binary.LittleEndian.Uint32(cmd[4:]), "draw %d", i)
		assert.Equal(t, commands[i*DrawCommandSize:i*DrawCommandSize+4], cmd[0:4])
		assert.Equal(t, commands[i*DrawCommandSize+8:(i+1)*DrawCommandSize], cmd[8:DrawCommandSize])
	}
	assert.Equal(t, []uint32{1, 0, 1, 0, 7}, instanceCounts(out))
}

func TestKernelRejectsShortBuffers(t *testing.T) {
	params := NewGPUCullParams(testView().Frustums(), 4)
	bindings := map[device.BindingSlot][]byte{
		{Group: 0, Binding: BindingParams}:   params.Marshal(),
		{Group: 0, Binding: BindingRecords}:  make([]byte, DrawRecordSize),
		{Group: 0, Binding: BindingCommands}: make([]byte, DrawCommandSize),
	}
	assert.Error(t, Kernel(bindings, [3]uint32{1, 1, 1}))
	assert.Error(t, Kernel(map[device.BindingSlot][]byte{}, [3]uint32{1, 1, 1}))
}

func instanceCounts(buf []byte) []uint32 {
	out := make([]uint32, 0, len(buf)/DrawCommandSize)
	for i := 0; i+DrawCommandSize <= len(buf); i += DrawCommandSize {
		out = append(out, binary.LittleEndian.Uint32(buf[i+4:]))
	}
	return out
}
