package loader

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-vr/engine/resources"
	"github.com/Carmen-Shannon/oxy-vr/engine/scene"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

// bufferBuilder packs accessor data into one little-endian buffer.
type bufferBuilder struct {
	data      []byte
	views     []gltfBufferView
	accessors []gltfAccessor
}

func (b *bufferBuilder) add(values any, componentType int, accessorType string, count int) int {
	for len(b.data)%4 != 0 {
		b.data = append(b.data, 0)
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, values); err != nil {
		panic(err)
	}
	view := len(b.views)
	b.views = append(b.views, gltfBufferView{ByteOffset: len(b.data), ByteLength: buf.Len()})
	b.data = append(b.data, buf.Bytes()...)
	b.accessors = append(b.accessors, gltfAccessor{
		BufferView:    &view,
		ComponentType: componentType,
		Count:         count,
		Type:          accessorType,
	})
	return len(b.accessors) - 1
}

func solidPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// skinnedDocument describes an armature with two joints listed child first, a skinned triangle, a static
// two-primitive prop and one animation.
func skinnedDocument(t *testing.T) (gltfDocument, []byte) {
	t.Helper()
	b := &bufferBuilder{}
	positions := b.add([]float32{0, 0, 0, 1, 0, 0, 0, 1, 0}, gltfFloat, "VEC3", 3)
	uvs := b.add([]float32{0, 0, 1, 0, 0, 1}, gltfFloat, "VEC2", 3)
	joints := b.add([]uint8{1, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0}, gltfUnsignedByte, "VEC4", 3)
	weights := b.add([]float32{1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0}, gltfFloat, "VEC4", 3)
	indices := b.add([]uint16{0, 1, 2}, gltfUnsignedShort, "SCALAR", 3)
	tipIBM := mgl32.Translate3D(0, -1, 0)
	rootIBM := mgl32.Ident4()
	ibms := b.add(append(tipIBM[:], rootIBM[:]...), gltfFloat, "MAT4", 2)
	times := b.add([]float32{0, 1}, gltfFloat, "SCALAR", 2)
	slide := b.add([]float32{0, 0, 0, 2, 0, 0}, gltfFloat, "VEC3", 2)
	spin := b.add([]float32{0, 0, 0, 1, 0, 1, 0, 0}, gltfFloat, "VEC4", 2)

	slideChannel := gltfAnimChannel{Sampler: 0}
	slideChannel.Target.Node, slideChannel.Target.Path = ptr(1), "translation"
	spinChannel := gltfAnimChannel{Sampler: 1}
	spinChannel.Target.Node, spinChannel.Target.Path = ptr(4), "rotation"

	doc := gltfDocument{
		Asset:  gltfAsset{Version: "2.0"},
		Scene:  ptr(0),
		Scenes: []gltfScene{{Nodes: []int{0, 4}}},
		Nodes: []gltfNode{
			{Name: "armature", Children: []int{1, 3}},
			{Name: "root", Children: []int{2}},
			{Name: "tip", Translation: &[3]float32{0, 1, 0}},
			{Name: "body", Mesh: ptr(0), Skin: ptr(0), Translation: &[3]float32{9, 9, 9}},
			{Name: "prop", Mesh: ptr(1), Translation: &[3]float32{2, 0, 0}},
		},
		Meshes: []gltfMesh{
			{Name: "body", Primitives: []gltfPrimitive{{
				Attributes: map[string]int{"POSITION": positions, "TEXCOORD_0": uvs, "JOINTS_0": joints, "WEIGHTS_0": weights},
				Indices:    &indices,
				Material:   ptr(0),
			}}},
			{Name: "prop", Primitives: []gltfPrimitive{
				{Attributes: map[string]int{"POSITION": positions}, Material: ptr(0)},
				{Attributes: map[string]int{"POSITION": positions}},
			}},
		},
		Materials: []gltfMaterial{{
			Name: "skin",
			PbrMetallicRoughness: &gltfPbrMetallicRoughness{
				BaseColorFactor:  &[4]float32{1, 0.5, 0.25, 1},
				BaseColorTexture: &gltfTextureInfo{Index: 0},
				RoughnessFactor:  ptr[float32](0.4),
			},
			AlphaMode:   "MASK",
			AlphaCutoff: ptr[float32](0.3),
			Extensions:  map[string]any{gltfExtUnlit: map[string]any{}},
		}},
		Textures: []gltfTexture{{Source: ptr(0)}},
		Images: []gltfImage{{
			URI: "data:image/png;base64," + base64.StdEncoding.EncodeToString(solidPNG(t, 8, 4)),
		}},
		Skins: []gltfSkin{{Name: "rig", InverseBindMatrices: &ibms, Joints: []int{2, 1}}},
		Animations: []gltfAnimation{{
			Name:     "slide",
			Channels: []gltfAnimChannel{slideChannel, spinChannel},
			Samplers: []gltfAnimSampler{{Input: times, Output: slide}, {Input: times, Output: spin}},
		}},
	}
	doc.BufferViews = b.views
	doc.Accessors = b.accessors
	return doc, b.data
}

func embeddedJSON(t *testing.T) []byte {
	t.Helper()
	doc, bin := skinnedDocument(t)
	doc.Buffers = []gltfBuffer{{
		URI:        "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(bin),
		ByteLength: len(bin),
	}}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

func glb(t *testing.T) []byte {
	t.Helper()
	doc, bin := skinnedDocument(t)
	doc.Buffers = []gltfBuffer{{ByteLength: len(bin)}}
	js, err := json.Marshal(doc)
	require.NoError(t, err)
	for len(js)%4 != 0 {
		js = append(js, ' ')
	}
	for len(bin)%4 != 0 {
		bin = append(bin, 0)
	}

	var out bytes.Buffer
	total := 12 + 8 + len(js) + 8 + len(bin)
	require.NoError(t, binary.Write(&out, binary.LittleEndian, []uint32{glbMagic, glbVersion, uint32(total)}))
	require.NoError(t, binary.Write(&out, binary.LittleEndian, []uint32{uint32(len(js)), glbChunkJSON}))
	out.Write(js)
	require.NoError(t, binary.Write(&out, binary.LittleEndian, []uint32{uint32(len(bin)), glbChunkBIN}))
	out.Write(bin)
	return out.Bytes()
}

func newTestTables(t *testing.T, options ...resources.TablesBuilderOption) resources.Tables {
	t.Helper()
	tabs, err := resources.NewTables(device.NewSoftwareDevice(), options...)
	require.NoError(t, err)
	t.Cleanup(tabs.Release)
	return tabs
}

func assertSkinnedAsset(t *testing.T, a *Asset) {
	t.Helper()
	require.Len(t, a.Skins, 1)
	bones := a.Skins[0].Skeleton.Bones
	require.Len(t, bones, 2)
	assert.Equal(t, "root", bones[0].Name)
	assert.Equal(t, -1, bones[0].Parent)
	assert.Equal(t, "tip", bones[1].Name)
	assert.Equal(t, 0, bones[1].Parent)
	assert.Equal(t, mgl32.Vec3{0, 1, 0}, bones[1].Rest.Translation)
	assert.Equal(t, mgl32.Translate3D(0, -1, 0), bones[1].InverseBind)

	require.Len(t, a.Meshes, 2)
	body := a.Meshes[0]
	assert.Equal(t, 0, body.Skin)
	require.Len(t, body.Primitives, 1)
	verts := body.Primitives[0].Mesh.Vertices()
	require.Len(t, verts, 3)
	assert.Equal(t, uint32(0), verts[0].Joints[0], "joint 1 of the skin is the root bone")
	assert.Equal(t, uint32(1), verts[2].Joints[0], "joint 0 of the skin is the tip bone")
	assert.InDeltaSlice(t, []float32{0, 0, 1}, verts[0].Normal[:], 1e-6)
	assert.InDeltaSlice(t, []float32{1, 0, 0, 1}, verts[0].Tangent[:], 1e-6)

	prop := a.Meshes[1]
	assert.Equal(t, -1, prop.Skin)
	require.Len(t, prop.Primitives, 2)
	assert.Equal(t, 0, prop.Primitives[0].Material)
	assert.Equal(t, -1, prop.Primitives[1].Material)
	assert.Equal(t, "prop_prim1", prop.Primitives[1].Mesh.Name())

	clips := a.Skins[0].Clips
	require.Len(t, clips, 1)
	assert.Equal(t, "slide", clips[0].Name)
	assert.Equal(t, float32(1), clips[0].Duration)
	require.Len(t, clips[0].Channels, 1)
	assert.Equal(t, 0, clips[0].Channels[0].Bone)
	require.Len(t, clips[0].Channels[0].Translations, 2)
	assert.Equal(t, mgl32.Vec3{2, 0, 0}, clips[0].Channels[0].Translations[1].Value)

	require.Len(t, a.Materials, 1)
	mat := a.Materials[0]
	assert.True(t, mat.Unlit)
	assert.True(t, mat.AlphaMask)
	assert.Equal(t, float32(0.3), mat.AlphaCutoff)
	assert.Equal(t, float32(1), mat.Metallic)
	assert.Equal(t, float32(0.4), mat.Roughness)
	assert.Equal(t, 0, mat.Textures[material.TextureSlotBaseColor])
	assert.Equal(t, -1, mat.Textures[material.TextureSlotNormal])

	require.Len(t, a.Nodes, 5)
	assert.Equal(t, common.IdentityTransform(), a.Nodes[3].Transform, "skinned node transform is dropped")
	assert.Equal(t, mgl32.Vec3{2, 0, 0}, a.Nodes[4].Transform.Translation)
	assert.Equal(t, []int{0, 4}, a.Roots)
}

func TestLoadReaderEmbeddedJSON(t *testing.T) {
	l := NewLoader(newTestTables(t), WithMaxTextureSize(4))
	a, err := l.LoadReader("rig.gltf", bytes.NewReader(embeddedJSON(t)))
	require.NoError(t, err)
	assertSkinnedAsset(t, a)

	require.Len(t, a.Textures, 1)
	tex := a.Textures[0]
	assert.Equal(t, uint32(4), tex.Width)
	assert.Equal(t, uint32(2), tex.Height)
	require.Len(t, tex.Pixels, 4*2*4)
	assert.InDelta(t, 10, int(tex.Pixels[0]), 1)
	assert.Equal(t, byte(255), tex.Pixels[3])

	again, err := l.LoadReader("rig.gltf", bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Same(t, a, again)
	assert.Same(t, a, l.Get("rig.gltf"))
	assert.Len(t, l.Assets(), 1)
}

func TestLoadReaderGLB(t *testing.T) {
	l := NewLoader(newTestTables(t))
	a, err := l.LoadReader("rig.glb", bytes.NewReader(glb(t)))
	require.NoError(t, err)
	assertSkinnedAsset(t, a)
	assert.Equal(t, uint32(8), a.Textures[0].Width, "no downscale below the default limit")
}

func TestLoadFileWithExternalBuffer(t *testing.T) {
	dir := t.TempDir()
	doc, bin := skinnedDocument(t)
	doc.Buffers = []gltfBuffer{{URI: "rig.bin", ByteLength: len(bin)}}
	js, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rig.bin"), bin, 0o644))
	path := filepath.Join(dir, "rig.gltf")
	require.NoError(t, os.WriteFile(path, js, 0o644))

	l := NewLoader(newTestTables(t))
	a, err := l.Load(path)
	require.NoError(t, err)
	assertSkinnedAsset(t, a)

	_, err = l.Load(filepath.Join(dir, "rig.obj"))
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = l.LoadReader("detached", bytes.NewReader(js))
	assert.ErrorIs(t, err, ErrInvalidAsset, "external buffers need a directory")
}

func TestRegisterAndInstantiate(t *testing.T) {
	tabs := newTestTables(t)
	l := NewLoader(tabs)
	a, err := l.LoadReader("rig", bytes.NewReader(embeddedJSON(t)))
	require.NoError(t, err)

	m, err := l.Register(a)
	require.NoError(t, err)
	require.Len(t, m.Textures, 1)
	require.Len(t, m.Materials, 1)
	require.Len(t, m.Meshes, 2)
	assert.Len(t, m.Meshes[1], 2)

	entry, err := tabs.Material(m.Materials[0])
	require.NoError(t, err)
	assert.Equal(t, material.WorkflowUnlit, entry.Material.Workflow())
	assert.Equal(t, m.Textures[0], entry.Material.Texture(material.TextureSlotBaseColor))

	s := scene.NewScene("test")
	inst, err := l.Instantiate(s, m, scene.EntityID{})
	require.NoError(t, err)
	// container, armature, root, tip, body, prop and two prop primitives
	assert.Equal(t, 8, s.Count())
	assert.Equal(t, []scene.EntityID{inst.Root}, s.Roots())

	require.Len(t, inst.Skins, 1)
	assert.Equal(t, 3, inst.Skins[0].Node)
	joints, err := tabs.SkinJoints(inst.Skins[0].Handle)
	require.NoError(t, err)
	assert.Len(t, joints, 2)

	second, err := l.Instantiate(s, m, scene.EntityID{})
	require.NoError(t, err)
	assert.NotEqual(t, inst.Skins[0].Handle, second.Skins[0].Handle, "each instance animates its own skin")

	before := tabs.Stats()
	require.NoError(t, l.Unregister(m))
	after := tabs.Stats()
	assert.Equal(t, before.Meshes-3, after.Meshes)
	assert.Equal(t, before.Materials-1, after.Materials)
	assert.Zero(t, after.Textures)
}

func TestRegisterRollsBackOnFailure(t *testing.T) {
	limits := resources.DefaultLimits()
	limits.Meshes = 2
	tabs := newTestTables(t, resources.WithLimits(limits))
	l := NewLoader(tabs)
	a, err := l.LoadReader("rig", bytes.NewReader(embeddedJSON(t)))
	require.NoError(t, err)

	before := tabs.Stats()
	_, err = l.Register(a)
	require.ErrorIs(t, err, resources.ErrResourceExhausted)
	after := tabs.Stats()
	assert.Equal(t, before.Meshes, after.Meshes)
	assert.Equal(t, before.Materials, after.Materials)
	assert.Equal(t, before.Textures, after.Textures)
}

func TestImportErrors(t *testing.T) {
	cases := map[string]struct {
		mutate func(doc *gltfDocument)
		want   error
	}{
		"version": {func(doc *gltfDocument) { doc.Asset.Version = "1.0" }, ErrUnsupported},
		"required extension": {func(doc *gltfDocument) {
			doc.ExtensionsRequired = []string{"KHR_draco_mesh_compression"}
		}, ErrUnsupported},
		"sparse accessor":  {func(doc *gltfDocument) { doc.Accessors[0].Sparse = &struct{}{} }, ErrUnsupported},
		"accessor overrun": {func(doc *gltfDocument) { doc.Accessors[0].Count = 300 }, ErrInvalidAsset},
		"line mode":        {func(doc *gltfDocument) { doc.Meshes[1].Primitives[0].Mode = ptr(1) }, ErrUnsupported},
		"joint outside skin": {func(doc *gltfDocument) {
			doc.Skins[0].Joints = doc.Skins[0].Joints[1:]
			doc.Skins[0].InverseBindMatrices = nil
		}, ErrInvalidAsset},
		"node cycle": {func(doc *gltfDocument) { doc.Nodes[2].Children = []int{0} }, ErrInvalidAsset},
		"bad material": {func(doc *gltfDocument) {
			doc.Meshes[1].Primitives[1].Material = ptr(7)
		}, ErrInvalidAsset},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			doc, bin := skinnedDocument(t)
			doc.Buffers = []gltfBuffer{{
				URI:        "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(bin),
				ByteLength: len(bin),
			}}
			tc.mutate(&doc)
			data, err := json.Marshal(doc)
			require.NoError(t, err)

			_, err = NewLoader(newTestTables(t)).LoadReader(name, bytes.NewReader(data))
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err := NewLoader(newTestTables(t)).LoadReader("garbage", bytes.NewReader([]byte("{")))
	assert.ErrorIs(t, err, ErrInvalidAsset)
}

func TestDecodeFloatNormalizes(t *testing.T) {
	assert.Equal(t, float32(1), decodeFloat([]byte{255}, gltfUnsignedByte))
	assert.Equal(t, float32(-1), decodeFloat([]byte{0x80}, gltfByte))
	assert.Equal(t, float32(-1), decodeFloat([]byte{0x00, 0x80}, gltfShort))
	assert.Equal(t, float32(1), decodeFloat([]byte{0xff, 0xff}, gltfUnsignedShort))
}

func TestDecomposeMatrix(t *testing.T) {
	rot := mgl32.QuatRotate(mgl32.DegToRad(90), mgl32.Vec3{0, 1, 0})
	m := common.BuildModelMatrix(mgl32.Vec3{1, 2, 3}, rot, mgl32.Vec3{2, 3, 4})

	got := decomposeMatrix(m)
	assert.True(t, got.Translation.ApproxEqualThreshold(mgl32.Vec3{1, 2, 3}, 1e-5))
	assert.True(t, got.Scale.ApproxEqualThreshold(mgl32.Vec3{2, 3, 4}, 1e-5))
	assert.True(t, got.Matrix().ApproxEqualThreshold(m, 1e-5))
}
