package loader

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/model"
	"github.com/go-gl/mathgl/mgl32"
)

// skinMapping relates one glTF skin to the bone order of its skeleton.
type skinMapping struct {
	jointToBone []int
	nodeToBone  map[int]int
}

// parents returns the parent node of every node, -1 for roots.
func (d *document) parents() ([]int, error) {
	parents := make([]int, len(d.Nodes))
	for i := range parents {
		parents[i] = -1
	}
	for i, n := range d.Nodes {
		for _, c := range n.Children {
			if c < 0 || c >= len(d.Nodes) || parents[c] != -1 || c == i {
				return nil, fmt.Errorf("%w: node %d has invalid child %d", ErrInvalidAsset, i, c)
			}
			parents[c] = i
		}
	}
	for i := range parents {
		steps := 0
		for p := parents[i]; p >= 0; p = parents[p] {
			if steps++; steps > len(parents) {
				return nil, fmt.Errorf("%w: node %d is part of a cycle", ErrInvalidAsset, i)
			}
		}
	}
	return parents, nil
}

// extractSkeleton builds a parent-before-child skeleton from a glTF skin. A joint's parent is its nearest
// ancestor node that is also a joint of the skin.
func (d *document) extractSkeleton(skinIndex int, parents []int) (*model.Skeleton, skinMapping, error) {
	skin := d.Skins[skinIndex]
	if len(skin.Joints) == 0 {
		return nil, skinMapping{}, fmt.Errorf("%w: skin %d has no joints", ErrInvalidAsset, skinIndex)
	}

	jointOf := make(map[int]int, len(skin.Joints))
	for j, node := range skin.Joints {
		if node < 0 || node >= len(d.Nodes) {
			return nil, skinMapping{}, fmt.Errorf("%w: skin %d joint node %d", ErrInvalidAsset, skinIndex, node)
		}
		jointOf[node] = j
	}
	jointParent := make([]int, len(skin.Joints))
	children := make([][]int, len(skin.Joints))
	var roots []int
	for j, node := range skin.Joints {
		jointParent[j] = -1
		for p := parents[node]; p >= 0; p = parents[p] {
			if pj, ok := jointOf[p]; ok {
				jointParent[j] = pj
				break
			}
		}
		if jointParent[j] < 0 {
			roots = append(roots, j)
		} else {
			children[jointParent[j]] = append(children[jointParent[j]], j)
		}
	}

	inverseBinds := make([]mgl32.Mat4, len(skin.Joints))
	for i := range inverseBinds {
		inverseBinds[i] = mgl32.Ident4()
	}
	if skin.InverseBindMatrices != nil {
		values, err := d.floats(*skin.InverseBindMatrices, "MAT4")
		if err != nil {
			return nil, skinMapping{}, fmt.Errorf("skin %d inverse bind matrices: %w", skinIndex, err)
		}
		if len(values) < len(skin.Joints)*16 {
			return nil, skinMapping{}, fmt.Errorf("%w: skin %d has %d inverse bind matrices for %d joints", ErrInvalidAsset, skinIndex, len(values)/16, len(skin.Joints))
		}
		for i := range inverseBinds {
			copy(inverseBinds[i][:], values[i*16:])
		}
	}

	// Breadth-first from the roots keeps parents ahead of children.
	mapping := skinMapping{
		jointToBone: make([]int, len(skin.Joints)),
		nodeToBone:  make(map[int]int, len(skin.Joints)),
	}
	skeleton := &model.Skeleton{Bones: make([]model.Bone, 0, len(skin.Joints))}
	queue := roots
	for len(queue) > 0 {
		j := queue[0]
		queue = queue[1:]
		node := skin.Joints[j]
		parent := -1
		if jointParent[j] >= 0 {
			parent = mapping.jointToBone[jointParent[j]]
		}
		name := d.Nodes[node].Name
		if name == "" {
			name = fmt.Sprintf("joint_%d", j)
		}
		mapping.jointToBone[j] = len(skeleton.Bones)
		mapping.nodeToBone[node] = len(skeleton.Bones)
		skeleton.Bones = append(skeleton.Bones, model.Bone{
			Name:        name,
			Parent:      parent,
			InverseBind: inverseBinds[j],
			Rest:        nodeTransform(&d.Nodes[node]),
		})
		queue = append(queue, children[j]...)
	}
	if err := skeleton.Validate(); err != nil {
		return nil, skinMapping{}, fmt.Errorf("skin %d: %w", skinIndex, err)
	}
	return skeleton, mapping, nil
}

// nodeTransform reads a node's local transform from TRS properties or decomposes its matrix.
func nodeTransform(n *gltfNode) common.Transform {
	if n.Matrix != nil {
		return decomposeMatrix(mgl32.Mat4(*n.Matrix))
	}
	t := common.IdentityTransform()
	if n.Translation != nil {
		t.Translation = *n.Translation
	}
	if n.Rotation != nil {
		r := *n.Rotation
		t.Rotation = mgl32.Quat{W: r[3], V: mgl32.Vec3{r[0], r[1], r[2]}}
	}
	if n.Scale != nil {
		t.Scale = *n.Scale
	}
	return t
}

// decomposeMatrix splits an affine matrix without shear into translation, rotation and scale.
func decomposeMatrix(m mgl32.Mat4) common.Transform {
	t := common.IdentityTransform()
	t.Translation = m.Col(3).Vec3()
	for i := range 3 {
		t.Scale[i] = m.Col(i).Vec3().Len()
	}
	if t.Scale[0] == 0 || t.Scale[1] == 0 || t.Scale[2] == 0 {
		return t
	}
	if m.Mat3().Det() < 0 {
		t.Scale[0] = -t.Scale[0]
	}
	var rot mgl32.Mat3
	for i := range 3 {
		rot.SetCol(i, m.Col(i).Vec3().Mul(1/t.Scale[i]))
	}
	t.Rotation = mgl32.Mat4ToQuat(rot.Mat4()).Normalize()
	return t
}
