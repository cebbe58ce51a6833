package loader

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-vr/engine/model"
	"github.com/go-gl/mathgl/mgl32"
)

// extractMesh converts every primitive of a glTF mesh. jointToBone remaps JOINTS_0 values from skin joint
// order to skeleton bone order and is nil for static meshes.
func (d *document) extractMesh(meshIndex int, jointToBone []int) (MeshAsset, error) {
	if meshIndex < 0 || meshIndex >= len(d.Meshes) {
		return MeshAsset{}, fmt.Errorf("%w: mesh %d out of range", ErrInvalidAsset, meshIndex)
	}
	src := d.Meshes[meshIndex]
	out := MeshAsset{Name: src.Name, Skin: -1}
	if out.Name == "" {
		out.Name = fmt.Sprintf("mesh_%d", meshIndex)
	}
	for i := range src.Primitives {
		prim, err := d.extractPrimitive(&src.Primitives[i], primitiveName(out.Name, i), jointToBone)
		if err != nil {
			return MeshAsset{}, fmt.Errorf("mesh %s primitive %d: %w", out.Name, i, err)
		}
		out.Primitives = append(out.Primitives, prim)
	}
	return out, nil
}

func primitiveName(mesh string, index int) string {
	if index == 0 {
		return mesh
	}
	return fmt.Sprintf("%s_prim%d", mesh, index)
}

func (d *document) extractPrimitive(prim *gltfPrimitive, name string, jointToBone []int) (Primitive, error) {
	if prim.Mode != nil && *prim.Mode != gltfModeTriangles {
		return Primitive{}, fmt.Errorf("%w: primitive mode %d", ErrUnsupported, *prim.Mode)
	}
	posAccessor, ok := prim.Attributes["POSITION"]
	if !ok {
		return Primitive{}, fmt.Errorf("%w: no POSITION attribute", ErrInvalidAsset)
	}
	positions, err := d.floats(posAccessor, "VEC3")
	if err != nil {
		return Primitive{}, fmt.Errorf("positions: %w", err)
	}
	vertices := make([]model.GPUVertex, len(positions)/3)
	for i := range vertices {
		copy(vertices[i].Position[:], positions[i*3:])
	}

	attr := func(key, accessorType string, dst func(v *model.GPUVertex) []float32) (bool, error) {
		index, ok := prim.Attributes[key]
		if !ok {
			return false, nil
		}
		values, err := d.floats(index, accessorType)
		if err != nil {
			return false, fmt.Errorf("%s: %w", key, err)
		}
		comps := gltfComponentCounts[accessorType]
		if len(values)/comps != len(vertices) {
			return false, fmt.Errorf("%w: %s has %d elements for %d vertices", ErrInvalidAsset, key, len(values)/comps, len(vertices))
		}
		for i := range vertices {
			copy(dst(&vertices[i]), values[i*comps:])
		}
		return true, nil
	}

	hasNormals, err := attr("NORMAL", "VEC3", func(v *model.GPUVertex) []float32 { return v.Normal[:] })
	if err != nil {
		return Primitive{}, err
	}
	hasTangents, err := attr("TANGENT", "VEC4", func(v *model.GPUVertex) []float32 { return v.Tangent[:] })
	if err != nil {
		return Primitive{}, err
	}
	if _, err := attr("TEXCOORD_0", "VEC2", func(v *model.GPUVertex) []float32 { return v.TexCoord[:] }); err != nil {
		return Primitive{}, err
	}
	if _, err := attr("WEIGHTS_0", "VEC4", func(v *model.GPUVertex) []float32 { return v.Weights[:] }); err != nil {
		return Primitive{}, err
	}
	if index, ok := prim.Attributes["JOINTS_0"]; ok {
		joints, err := d.uints(index, "VEC4")
		if err != nil {
			return Primitive{}, fmt.Errorf("JOINTS_0: %w", err)
		}
		if len(joints)/4 != len(vertices) {
			return Primitive{}, fmt.Errorf("%w: JOINTS_0 has %d elements for %d vertices", ErrInvalidAsset, len(joints)/4, len(vertices))
		}
		for i := range vertices {
			for c := range 4 {
				j := joints[i*4+c]
				if jointToBone != nil {
					if int(j) >= len(jointToBone) {
						return Primitive{}, fmt.Errorf("%w: joint %d outside skin", ErrInvalidAsset, j)
					}
					j = uint32(jointToBone[j])
				}
				vertices[i].Joints[c] = j
			}
		}
	}

	var indices []uint32
	if prim.Indices != nil {
		if indices, err = d.uints(*prim.Indices, "SCALAR"); err != nil {
			return Primitive{}, fmt.Errorf("indices: %w", err)
		}
	} else {
		indices = make([]uint32, len(vertices))
		for i := range indices {
			indices[i] = uint32(i)
		}
	}

	if !hasNormals {
		generateNormals(vertices, indices)
	}
	if !hasTangents {
		generateTangents(vertices, indices)
	}

	mesh, err := model.NewMesh(name, vertices, indices)
	if err != nil {
		return Primitive{}, err
	}
	material := -1
	if prim.Material != nil {
		material = *prim.Material
	}
	return Primitive{Mesh: mesh, Material: material}, nil
}

// triangles calls fn for every in-range triangle of the index list.
func triangles(indices []uint32, vertexCount int, fn func(i0, i1, i2 uint32)) {
	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]
		if int(i0) >= vertexCount || int(i1) >= vertexCount || int(i2) >= vertexCount {
			continue
		}
		fn(i0, i1, i2)
	}
}

// generateNormals writes area-weighted smooth normals. Vertices on no triangle get +Y.
func generateNormals(vertices []model.GPUVertex, indices []uint32) {
	accum := make([]mgl32.Vec3, len(vertices))
	triangles(indices, len(vertices), func(i0, i1, i2 uint32) {
		p0 := mgl32.Vec3(vertices[i0].Position)
		face := mgl32.Vec3(vertices[i1].Position).Sub(p0).Cross(mgl32.Vec3(vertices[i2].Position).Sub(p0))
		accum[i0] = accum[i0].Add(face)
		accum[i1] = accum[i1].Add(face)
		accum[i2] = accum[i2].Add(face)
	})
	for i, n := range accum {
		if n.Len() < 1e-6 {
			vertices[i].Normal = [3]float32{0, 1, 0}
			continue
		}
		vertices[i].Normal = n.Normalize()
	}
}

// generateTangents derives tangents from UV gradients, orthonormalized against the normal. W carries the
// bitangent handedness.
func generateTangents(vertices []model.GPUVertex, indices []uint32) {
	tan := make([]mgl32.Vec3, len(vertices))
	bitan := make([]mgl32.Vec3, len(vertices))
	triangles(indices, len(vertices), func(i0, i1, i2 uint32) {
		p0 := mgl32.Vec3(vertices[i0].Position)
		e1 := mgl32.Vec3(vertices[i1].Position).Sub(p0)
		e2 := mgl32.Vec3(vertices[i2].Position).Sub(p0)
		uv0 := mgl32.Vec2(vertices[i0].TexCoord)
		d1 := mgl32.Vec2(vertices[i1].TexCoord).Sub(uv0)
		d2 := mgl32.Vec2(vertices[i2].TexCoord).Sub(uv0)

		det := d1[0]*d2[1] - d1[1]*d2[0]
		if det == 0 {
			return
		}
		r := 1 / det
		t := e1.Mul(d2[1]).Sub(e2.Mul(d1[1])).Mul(r)
		b := e2.Mul(d1[0]).Sub(e1.Mul(d2[0])).Mul(r)
		for _, idx := range [3]uint32{i0, i1, i2} {
			tan[idx] = tan[idx].Add(t)
			bitan[idx] = bitan[idx].Add(b)
		}
	})
	for i := range vertices {
		n := mgl32.Vec3(vertices[i].Normal)
		ortho := tan[i].Sub(n.Mul(n.Dot(tan[i])))
		if ortho.Len() < 1e-6 {
			vertices[i].Tangent = [4]float32{1, 0, 0, 1}
			continue
		}
		ortho = ortho.Normalize()
		w := float32(1)
		if n.Cross(ortho).Dot(bitan[i]) < 0 {
			w = -1
		}
		vertices[i].Tangent = ortho.Vec4(w)
	}
}
