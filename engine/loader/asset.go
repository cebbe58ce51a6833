package loader

import (
	"fmt"
	"runtime"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/model"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/material"
	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/sync/errgroup"
)

// Asset is an imported glTF scene held in CPU memory. Indices between its slices are plain ints; -1 marks an
// absent reference.
type Asset struct {
	Name      string
	Meshes    []MeshAsset
	Materials []MaterialAsset
	Textures  []common.TextureStagingData
	Skins     []SkinAsset
	Nodes     []NodeAsset
	Roots     []int
}

// MeshAsset is a glTF mesh prepared for one skin. A glTF mesh shared by nodes with different skins yields
// one MeshAsset per skin because joint indices are remapped into each skeleton's bone order.
type MeshAsset struct {
	Name       string
	Skin       int
	Primitives []Primitive
}

// Primitive is one drawable part of a mesh.
type Primitive struct {
	Mesh     model.Mesh
	Material int
}

// MaterialAsset holds the material factors and texture indices of a glTF material.
type MaterialAsset struct {
	Name        string
	BaseColor   mgl32.Vec4
	Emissive    mgl32.Vec3
	Metallic    float32
	Roughness   float32
	AlphaMask   bool
	AlphaCutoff float32
	Unlit       bool
	Textures    [material.TextureSlotCount]int
}

// SkinAsset is a skeleton together with every animation that drives it.
type SkinAsset struct {
	Name     string
	Skeleton *model.Skeleton
	Clips    []model.AnimationClip
}

// NodeAsset is one node of the glTF node hierarchy.
type NodeAsset struct {
	Name      string
	Transform common.Transform
	Mesh      int
	Skin      int
	Children  []int
}

// buildAsset converts a parsed document into an Asset.
func buildAsset(d *document, name string, maxTextureSize int) (*Asset, error) {
	a := &Asset{Name: name}
	parents, err := d.parents()
	if err != nil {
		return nil, err
	}

	mappings := make([]skinMapping, len(d.Skins))
	for i := range d.Skins {
		skeleton, mapping, err := d.extractSkeleton(i, parents)
		if err != nil {
			return nil, err
		}
		mappings[i] = mapping
		skin := SkinAsset{Name: d.Skins[i].Name, Skeleton: skeleton}
		if skin.Name == "" {
			skin.Name = fmt.Sprintf("skin_%d", i)
		}
		for ai := range d.Animations {
			clip, ok, err := d.extractClip(ai, mapping)
			if err != nil {
				return nil, err
			}
			if ok {
				skin.Clips = append(skin.Clips, clip)
			}
		}
		a.Skins = append(a.Skins, skin)
	}

	a.Textures = make([]common.TextureStagingData, len(d.Textures))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range d.Textures {
		g.Go(func() error {
			tex, err := d.extractTexture(i, maxTextureSize)
			if err != nil {
				return fmt.Errorf("texture %d: %w", i, err)
			}
			a.Textures[i] = tex
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range d.Materials {
		m, err := d.extractMaterial(i)
		if err != nil {
			return nil, err
		}
		a.Materials = append(a.Materials, m)
	}

	meshes := map[[2]int]int{}
	for i := range d.Nodes {
		n := &d.Nodes[i]
		node := NodeAsset{Name: n.Name, Transform: nodeTransform(n), Mesh: -1, Skin: -1, Children: n.Children}
		if node.Name == "" {
			node.Name = fmt.Sprintf("node_%d", i)
		}
		if n.Skin != nil {
			if *n.Skin < 0 || *n.Skin >= len(d.Skins) {
				return nil, fmt.Errorf("%w: node %d references skin %d", ErrInvalidAsset, i, *n.Skin)
			}
			node.Skin = *n.Skin
			// Joint matrices already place the skinned mesh; its own node transform does not apply.
			node.Transform = common.IdentityTransform()
		}
		if n.Mesh != nil {
			key := [2]int{*n.Mesh, node.Skin}
			index, ok := meshes[key]
			if !ok {
				var jointToBone []int
				if node.Skin >= 0 {
					jointToBone = mappings[node.Skin].jointToBone
				}
				mesh, err := d.extractMesh(*n.Mesh, jointToBone)
				if err != nil {
					return nil, err
				}
				mesh.Skin = node.Skin
				for _, p := range mesh.Primitives {
					if p.Material >= len(a.Materials) {
						return nil, fmt.Errorf("%w: mesh %s references material %d", ErrInvalidAsset, mesh.Name, p.Material)
					}
				}
				index = len(a.Meshes)
				a.Meshes = append(a.Meshes, mesh)
				meshes[key] = index
			}
			node.Mesh = index
		}
		a.Nodes = append(a.Nodes, node)
	}

	switch {
	case len(d.Scenes) > 0:
		scene := 0
		if d.Scene != nil {
			scene = *d.Scene
		}
		if scene < 0 || scene >= len(d.Scenes) {
			return nil, fmt.Errorf("%w: default scene %d out of range", ErrInvalidAsset, scene)
		}
		a.Roots = d.Scenes[scene].Nodes
		for _, r := range a.Roots {
			if r < 0 || r >= len(a.Nodes) || parents[r] >= 0 {
				return nil, fmt.Errorf("%w: scene root %d is not a root node", ErrInvalidAsset, r)
			}
		}
	default:
		for i, p := range parents {
			if p < 0 {
				a.Roots = append(a.Roots, i)
			}
		}
	}
	return a, nil
}
