package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/game_object"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-vr/engine/resources"
	"github.com/Carmen-Shannon/oxy-vr/engine/scene"
	"go.uber.org/zap"
)

var (
	// ErrInvalidAsset is returned when a file is not well-formed glTF 2.0.
	ErrInvalidAsset = errors.New("invalid glTF asset")

	// ErrUnsupported is returned for valid glTF features the importer does not handle.
	ErrUnsupported = errors.New("unsupported glTF feature")
)

// DefaultMaxTextureSize bounds the longer side of imported textures.
const DefaultMaxTextureSize = 4096

// Model is an Asset whose meshes, materials and textures live in the resource tables.
type Model struct {
	Asset *Asset

	// Meshes holds one handle per primitive, indexed like Asset.Meshes[i].Primitives.
	Meshes    [][]common.MeshHandle
	Materials []common.MaterialHandle
	Textures  []common.TextureHandle
}

// Instance is one placement of a Model in a scene.
type Instance struct {
	Root  scene.EntityID
	Skins []InstanceSkin
}

// InstanceSkin is a skin handle registered for one skinned node of an instance. Skin indexes Asset.Skins and
// names the skeleton and clips an animator needs for it.
type InstanceSkin struct {
	Node   int
	Skin   int
	Handle common.SkinHandle
}

// loader is the implementation of the Loader interface.
type loader struct {
	mu *sync.RWMutex

	tables         resources.Tables
	logger         *zap.Logger
	maxTextureSize int

	cache map[string]*Asset
}

// Loader imports glTF 2.0 files (.gltf and .glb) and turns them into resource table entries and scene
// entities.
type Loader interface {
	// Load imports a file and caches the result by path. A cached asset is returned without reading the file.
	//
	// Parameters:
	//   - path: the .gltf or .glb file
	//
	// Returns:
	//   - *Asset: the imported asset
	//   - error: wrapping ErrInvalidAsset or ErrUnsupported when the file cannot be imported
	Load(path string) (*Asset, error)

	// LoadReader imports glTF JSON or GLB data from a stream and caches it by name. GLB is detected from the
	// header. Buffers and images must be embedded because there is no directory to resolve files against.
	//
	// Parameters:
	//   - name: the cache key
	//   - r: the data
	//
	// Returns:
	//   - *Asset: the imported asset
	//   - error: if reading or importing fails
	LoadReader(name string, r io.Reader) (*Asset, error)

	// Get returns a cached asset.
	//
	// Parameters:
	//   - name: the path or name it was loaded under
	//
	// Returns:
	//   - *Asset: the asset, nil if not cached
	Get(name string) *Asset

	// Assets returns a copy of the cache.
	//
	// Returns:
	//   - map[string]*Asset: every cached asset by name
	Assets() map[string]*Asset

	// Register uploads an asset's textures, materials and meshes into the resource tables. On failure every
	// entry registered so far is removed again.
	//
	// Parameters:
	//   - asset: the asset to register
	//
	// Returns:
	//   - *Model: the handles
	//   - error: if a table rejects an entry
	Register(asset *Asset) (*Model, error)

	// Unregister removes every handle of a model from the resource tables.
	//
	// Parameters:
	//   - m: the model
	//
	// Returns:
	//   - error: every failed removal, joined
	Unregister(m *Model) error

	// Instantiate adds the model's node hierarchy under parent. Each node becomes a game object; a node with
	// several primitives gets one child object per primitive. Every skinned node gets its own skin handle.
	//
	// Parameters:
	//   - s: the scene to add to
	//   - m: the registered model
	//   - parent: the parent entity, zero for a scene root
	//
	// Returns:
	//   - Instance: the root entity and the registered skins
	//   - error: if the scene or the tables reject an entry
	Instantiate(s scene.Scene, m *Model, parent scene.EntityID) (Instance, error)
}

var _ Loader = &loader{}

// NewLoader creates a Loader that registers into tables.
//
// Parameters:
//   - tables: the resource tables models are registered in
//   - options: a variadic list of LoaderBuilderOption functions
//
// Returns:
//   - Loader: the loader
func NewLoader(tables resources.Tables, options ...LoaderBuilderOption) Loader {
	l := &loader{
		mu:             &sync.RWMutex{},
		tables:         tables,
		logger:         zap.NewNop(),
		maxTextureSize: DefaultMaxTextureSize,
		cache:          make(map[string]*Asset),
	}
	for _, option := range options {
		option(l)
	}
	l.logger = l.logger.Named("loader")
	return l
}

func (l *loader) Load(path string) (*Asset, error) {
	if a := l.Get(path); a != nil {
		return a, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gltf", ".glb":
	default:
		return nil, fmt.Errorf("%w: file extension of %s", ErrUnsupported, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	a, err := l.importData(path, data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return a, nil
}

func (l *loader) LoadReader(name string, r io.Reader) (*Asset, error) {
	if a := l.Get(name); a != nil {
		return a, nil
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	a, err := l.importData(name, buf.Bytes(), "")
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", name, err)
	}
	return a, nil
}

func (l *loader) importData(name string, data []byte, baseDir string) (*Asset, error) {
	d, err := parseDocument(data, baseDir)
	if err != nil {
		return nil, err
	}
	a, err := buildAsset(d, name, l.maxTextureSize)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("imported asset",
		zap.String("name", name),
		zap.Int("meshes", len(a.Meshes)),
		zap.Int("materials", len(a.Materials)),
		zap.Int("textures", len(a.Textures)),
		zap.Int("skins", len(a.Skins)),
	)

	l.mu.Lock()
	defer l.mu.Unlock()
	if cached, ok := l.cache[name]; ok {
		return cached, nil
	}
	l.cache[name] = a
	return a, nil
}

func (l *loader) Get(name string) *Asset {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cache[name]
}

func (l *loader) Assets() map[string]*Asset {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]*Asset, len(l.cache))
	for k, v := range l.cache {
		out[k] = v
	}
	return out
}

func (l *loader) Register(asset *Asset) (*Model, error) {
	if asset == nil {
		return nil, fmt.Errorf("%w: nil asset", ErrInvalidAsset)
	}
	m := &Model{Asset: asset}
	fail := func(err error) (*Model, error) {
		if uerr := l.Unregister(m); uerr != nil {
			l.logger.Warn("rollback after failed registration left entries behind", zap.Error(uerr))
		}
		return nil, fmt.Errorf("failed to register %s: %w", asset.Name, err)
	}

	for i, tex := range asset.Textures {
		h, err := l.tables.RegisterTexture(tex)
		if err != nil {
			return fail(fmt.Errorf("texture %d: %w", i, err))
		}
		m.Textures = append(m.Textures, h)
	}
	for _, mat := range asset.Materials {
		h, err := l.tables.RegisterMaterial(material.NewMaterial(mat.Options(m.Textures)...))
		if err != nil {
			return fail(fmt.Errorf("material %s: %w", mat.Name, err))
		}
		m.Materials = append(m.Materials, h)
	}
	for _, mesh := range asset.Meshes {
		handles := make([]common.MeshHandle, 0, len(mesh.Primitives))
		for _, p := range mesh.Primitives {
			h, err := l.tables.RegisterMesh(p.Mesh)
			if err != nil {
				m.Meshes = append(m.Meshes, handles)
				return fail(fmt.Errorf("mesh %s: %w", p.Mesh.Name(), err))
			}
			handles = append(handles, h)
		}
		m.Meshes = append(m.Meshes, handles)
	}
	return m, nil
}

func (l *loader) Unregister(m *Model) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, handles := range m.Meshes {
		for _, h := range handles {
			errs = append(errs, l.tables.UnregisterMesh(h))
		}
	}
	for _, h := range m.Materials {
		errs = append(errs, l.tables.UnregisterMaterial(h))
	}
	for _, h := range m.Textures {
		errs = append(errs, l.tables.UnregisterTexture(h))
	}
	m.Meshes, m.Materials, m.Textures = nil, nil, nil
	return errors.Join(errs...)
}

func (l *loader) Instantiate(s scene.Scene, m *Model, parent scene.EntityID) (Instance, error) {
	if m == nil || m.Asset == nil {
		return Instance{}, fmt.Errorf("%w: nil model", ErrInvalidAsset)
	}
	a := m.Asset
	root, err := s.Add(game_object.NewGameObject(game_object.WithName(a.Name)), parent)
	if err != nil {
		return Instance{}, err
	}
	inst := Instance{Root: root}

	var addNode func(index int, parent scene.EntityID) error
	addNode = func(index int, parent scene.EntityID) error {
		node := a.Nodes[index]
		var skin common.SkinHandle
		if node.Skin >= 0 {
			var err error
			if skin, err = l.tables.RegisterSkin(len(a.Skins[node.Skin].Skeleton.Bones)); err != nil {
				return fmt.Errorf("node %s: %w", node.Name, err)
			}
			inst.Skins = append(inst.Skins, InstanceSkin{Node: index, Skin: node.Skin, Handle: skin})
		}

		opts := []game_object.GameObjectBuilderOption{
			game_object.WithName(node.Name),
			game_object.WithTransform(node.Transform),
		}
		var prims [][]game_object.GameObjectBuilderOption
		if node.Mesh >= 0 {
			handles := m.Meshes[node.Mesh]
			for i, p := range a.Meshes[node.Mesh].Primitives {
				prim := []game_object.GameObjectBuilderOption{
					game_object.WithMesh(handles[i]),
					game_object.WithMaterial(m.material(p.Material)),
					game_object.WithSkin(skin),
				}
				if len(handles) == 1 {
					opts = append(opts, prim...)
					break
				}
				prims = append(prims, append(prim, game_object.WithName(fmt.Sprintf("%s_prim%d", node.Name, i))))
			}
		}

		id, err := s.Add(game_object.NewGameObject(opts...), parent)
		if err != nil {
			return err
		}
		for _, prim := range prims {
			if _, err := s.Add(game_object.NewGameObject(prim...), id); err != nil {
				return err
			}
		}
		for _, c := range node.Children {
			if err := addNode(c, id); err != nil {
				return err
			}
		}
		return nil
	}

	for _, r := range a.Roots {
		if err := addNode(r, root); err != nil {
			if _, rerr := s.Remove(root); rerr != nil {
				l.logger.Warn("failed to remove partial instance", zap.Error(rerr))
			}
			for _, sk := range inst.Skins {
				_ = l.tables.UnregisterSkin(sk.Handle)
			}
			return Instance{}, fmt.Errorf("failed to instantiate %s: %w", a.Name, err)
		}
	}
	return inst, nil
}

// material resolves an asset material index to its handle. An absent material yields the zero handle,
// which draws with the error material.
func (m *Model) material(index int) common.MaterialHandle {
	if index < 0 || index >= len(m.Materials) {
		return common.MaterialHandle{}
	}
	return m.Materials[index]
}
