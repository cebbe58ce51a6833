package resources

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/model"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/material"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

var (
	// ErrResourceExhausted is returned when a table or joint limit would be exceeded. The table is unchanged.
	ErrResourceExhausted = errors.New("resource limit exhausted")

	// ErrStaleHandle is returned when a handle was never issued or its entry has been removed.
	ErrStaleHandle = errors.New("stale or invalid handle")

	// ErrTooManyJoints is returned for skins with more joints than a joint block holds. Registration failures
	// also match ErrResourceExhausted.
	ErrTooManyJoints = errors.New("too many joints")

	// ErrInvalidReference is returned when a material references a texture that is not registered.
	ErrInvalidReference = errors.New("invalid resource reference")

	// ErrReserved is returned when removing the error material.
	ErrReserved = errors.New("resource is reserved")
)

// ErrorMaterialIndex is the material index of the built-in error material.
const ErrorMaterialIndex uint32 = 0

// Retirer defers the release of a GPU resource until every frame that may still read it has completed.
type Retirer interface {
	Retire(res device.Resource)
}

// Limits caps the number of live entries per table.
type Limits struct {
	Textures      int `yaml:"textures"`
	Materials     int `yaml:"materials"`
	Meshes        int `yaml:"meshes"`
	Skins         int `yaml:"skins"`
	JointsPerSkin int `yaml:"joints_per_skin"`
}

// DefaultLimits returns the stock table limits.
//
// Returns:
//   - Limits: textures 10000, materials 4096, meshes 65536, skins 1024, joints 64
func DefaultLimits() Limits {
	return Limits{
		Textures:      10_000,
		Materials:     4096,
		Meshes:        65_536,
		Skins:         1024,
		JointsPerSkin: model.MaxJoints,
	}
}

// MeshEntry locates a registered mesh in the shared arenas.
type MeshEntry struct {
	Mesh         model.Mesh
	FirstIndex   uint32
	IndexCount   uint32
	VertexOffset int32
	Bounds       common.Sphere
}

// MaterialEntry pairs a registered material with its index in the material buffer.
type MaterialEntry struct {
	Index    uint32
	Material material.Material
}

// Stats is a point-in-time summary of table occupancy.
type Stats struct {
	Meshes, Materials, Textures, Skins int
	VertexBytes, IndexBytes            uint64
	VertexCapacity, IndexCapacity      uint64
}

type skin struct {
	jointCount int
	joints     []mgl32.Mat4
}

// tables is the implementation of the Tables interface.
type tables struct {
	mu      *sync.RWMutex
	dev     device.Device
	limits  Limits
	retirer Retirer
	logger  *zap.Logger

	meshes    *table[MeshEntry]
	materials *table[material.Material]
	textures  *table[device.Texture]
	skins     *table[*skin]

	errorMesh       MeshEntry
	errorMaterial   common.MaterialHandle
	materialVersion uint64

	vertices *arena
	indices  *arena
}

// Tables owns every long-lived rendering resource: meshes in shared vertex and index arenas, materials,
// textures and skins. Entries are addressed by generational handles.
//
// Mutation is expected from the asset-loading path; frame assembly only reads. All methods are safe for
// concurrent use.
type Tables interface {
	// RegisterMesh appends mesh data to the arenas.
	//
	// Parameters:
	//   - m: the mesh
	//
	// Returns:
	//   - common.MeshHandle: the handle
	//   - error: wrapping ErrResourceExhausted at the mesh limit, or a device error
	RegisterMesh(m model.Mesh) (common.MeshHandle, error)

	// RegisterMaterial stores a material record.
	//
	// Parameters:
	//   - m: the material; texture slots must be unset or reference live textures
	//
	// Returns:
	//   - common.MaterialHandle: the handle
	//   - error: wrapping ErrInvalidReference or ErrResourceExhausted
	RegisterMaterial(m material.Material) (common.MaterialHandle, error)

	// RegisterTexture uploads RGBA8 pixel data.
	//
	// Parameters:
	//   - data: the decoded image
	//
	// Returns:
	//   - common.TextureHandle: the handle
	//   - error: wrapping ErrResourceExhausted, or a device error for malformed data
	RegisterTexture(data common.TextureStagingData) (common.TextureHandle, error)

	// RegisterSkin reserves a skin with identity joint matrices.
	//
	// Parameters:
	//   - jointCount: number of joints, at most the joints-per-skin limit
	//
	// Returns:
	//   - common.SkinHandle: the handle
	//   - error: wrapping ErrTooManyJoints or ErrResourceExhausted
	RegisterSkin(jointCount int) (common.SkinHandle, error)

	// Mesh resolves a mesh handle.
	//
	// Parameters:
	//   - h: the handle
	//
	// Returns:
	//   - MeshEntry: the arena placement
	//   - error: wrapping ErrStaleHandle
	Mesh(h common.MeshHandle) (MeshEntry, error)

	// ErrorMesh returns the built-in cube drawn in place of unresolvable meshes.
	//
	// Returns:
	//   - MeshEntry: the arena placement
	ErrorMesh() MeshEntry

	// Material resolves a material handle.
	//
	// Parameters:
	//   - h: the handle
	//
	// Returns:
	//   - MaterialEntry: the material and its buffer index
	//   - error: wrapping ErrStaleHandle
	Material(h common.MaterialHandle) (MaterialEntry, error)

	// MaterialIndex resolves a material handle to its index in the material buffer.
	//
	// Parameters:
	//   - h: the handle
	//
	// Returns:
	//   - uint32: the index
	//   - error: wrapping ErrStaleHandle
	MaterialIndex(h common.MaterialHandle) (uint32, error)

	// ErrorMaterial returns the handle of the reserved error material at index 0.
	//
	// Returns:
	//   - common.MaterialHandle: the handle
	ErrorMaterial() common.MaterialHandle

	// Texture resolves a texture handle.
	//
	// Parameters:
	//   - h: the handle
	//
	// Returns:
	//   - device.Texture: the GPU texture
	//   - error: wrapping ErrStaleHandle
	Texture(h common.TextureHandle) (device.Texture, error)

	// TextureIndex resolves a texture handle to its slot index.
	//
	// Parameters:
	//   - h: the handle
	//
	// Returns:
	//   - uint32: the index
	//   - error: wrapping ErrStaleHandle
	TextureIndex(h common.TextureHandle) (uint32, error)

	// Skin returns the joint count of a skin.
	//
	// Parameters:
	//   - h: the handle
	//
	// Returns:
	//   - int: the joint count
	//   - error: wrapping ErrStaleHandle
	Skin(h common.SkinHandle) (int, error)

	// SetSkinJoints replaces the whole joint array of a skin.
	//
	// Parameters:
	//   - h: the handle
	//   - joints: the joint matrices, copied; at most the skin's joint count
	//
	// Returns:
	//   - error: wrapping ErrStaleHandle or ErrTooManyJoints
	SetSkinJoints(h common.SkinHandle, joints []mgl32.Mat4) error

	// SkinJoints returns a copy of a skin's joint matrices.
	//
	// Parameters:
	//   - h: the handle
	//
	// Returns:
	//   - []mgl32.Mat4: the joints
	//   - error: wrapping ErrStaleHandle
	SkinJoints(h common.SkinHandle) ([]mgl32.Mat4, error)

	// CopySkinJoints writes a skin's joints into a joint block, zeroing the unused tail.
	//
	// Parameters:
	//   - h: the handle
	//   - dst: the destination block
	//
	// Returns:
	//   - error: wrapping ErrStaleHandle
	CopySkinJoints(h common.SkinHandle, dst *model.GPUJointBlock) error

	// UnregisterMesh removes a mesh. Its arena range is not reclaimed.
	UnregisterMesh(h common.MeshHandle) error

	// UnregisterMaterial removes a material. The error material cannot be removed (ErrReserved).
	UnregisterMaterial(h common.MaterialHandle) error

	// UnregisterTexture removes a texture and retires its GPU memory. Materials referencing it read
	// NotPresent from then on.
	UnregisterTexture(h common.TextureHandle) error

	// UnregisterSkin removes a skin.
	UnregisterSkin(h common.SkinHandle) error

	// MaterialRecords snapshots the material buffer contents. Freed slots hold the error material record.
	//
	// Parameters:
	//   - dst: a slice to reuse, may be nil
	//
	// Returns:
	//   - []material.GPUMaterial: one record per material index
	//   - uint64: the table version, bumped on every change affecting the records
	MaterialRecords(dst []material.GPUMaterial) ([]material.GPUMaterial, uint64)

	// MaterialVersion returns the version MaterialRecords would report.
	MaterialVersion() uint64

	// VertexBuffer returns the current vertex arena. The buffer changes identity when the arena grows.
	VertexBuffer() device.Buffer

	// IndexBuffer returns the current index arena. The buffer changes identity when the arena grows.
	IndexBuffer() device.Buffer

	// Stats summarizes table occupancy.
	Stats() Stats

	// Release frees the arenas and every texture.
	Release()
}

var _ Tables = &tables{}

// NewTables creates the resource tables on a device and registers the error mesh and error material.
//
// Parameters:
//   - dev: the device owning the arenas and textures
//   - options: functional options
//
// Returns:
//   - Tables: the tables
//   - error: if the arenas cannot be created
func NewTables(dev device.Device, options ...TablesBuilderOption) (Tables, error) {
	cfg := &tablesConfig{
		limits:      DefaultLimits(),
		vertexArena: 1 << 20,
		indexArena:  1 << 18,
		logger:      zap.NewNop(),
	}
	for _, opt := range options {
		opt(cfg)
	}
	if cfg.limits.JointsPerSkin > model.MaxJoints || cfg.limits.JointsPerSkin <= 0 {
		cfg.limits.JointsPerSkin = model.MaxJoints
	}

	t := &tables{
		mu:        &sync.RWMutex{},
		dev:       dev,
		limits:    cfg.limits,
		retirer:   cfg.retirer,
		logger:    cfg.logger.Named("resources"),
		meshes:    newTable[MeshEntry]("mesh", cfg.limits.Meshes),
		materials: newTable[material.Material]("material", cfg.limits.Materials),
		textures:  newTable[device.Texture]("texture", cfg.limits.Textures),
		skins:     newTable[*skin]("skin", cfg.limits.Skins),
	}

	var err error
	if t.vertices, err = newArena(dev, "vertex_arena", device.BufferUsageVertex, cfg.vertexArena, t.retirer, t.logger); err != nil {
		return nil, err
	}
	if t.indices, err = newArena(dev, "index_arena", device.BufferUsageIndex, cfg.indexArena, t.retirer, t.logger); err != nil {
		t.vertices.release()
		return nil, err
	}

	if t.errorMesh, err = t.upload(model.CubeMesh()); err != nil {
		t.Release()
		return nil, err
	}
	h, err := t.materials.insert(material.ErrorMaterial())
	if err != nil {
		t.Release()
		return nil, fmt.Errorf("failed to register error material: %w", err)
	}
	t.errorMaterial = common.MaterialHandle(h)
	t.materialVersion = 1
	return t, nil
}

func (t *tables) RegisterMesh(m model.Mesh) (common.MeshHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.meshes.count >= t.meshes.limit {
		return common.MeshHandle{}, fmt.Errorf("%w: mesh limit %d reached", ErrResourceExhausted, t.meshes.limit)
	}
	entry, err := t.upload(m)
	if err != nil {
		return common.MeshHandle{}, err
	}
	h, err := t.meshes.insert(entry)
	if err != nil {
		return common.MeshHandle{}, err
	}
	return common.MeshHandle(h), nil
}

// upload appends vertex and index data. A failed index upload leaves orphaned vertex bytes behind,
// which the arena never compacts anyway.
func (t *tables) upload(m model.Mesh) (MeshEntry, error) {
	vertexOffset, err := t.vertices.append(m.VertexData())
	if err != nil {
		return MeshEntry{}, err
	}
	indexOffset, err := t.indices.append(m.IndexData())
	if err != nil {
		return MeshEntry{}, err
	}
	return MeshEntry{
		Mesh:         m,
		FirstIndex:   uint32(indexOffset / 4),
		IndexCount:   uint32(len(m.Indices())),
		VertexOffset: int32(vertexOffset / 80),
		Bounds:       m.Bounds(),
	}, nil
}

func (t *tables) RegisterMaterial(m material.Material) (common.MaterialHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for slot := range material.TextureSlotCount {
		tex := m.Texture(slot)
		if tex.IsZero() {
			continue
		}
		if !t.textures.valid(common.Handle(tex)) {
			return common.MaterialHandle{}, fmt.Errorf("%w: material %q texture slot %d references %s",
				ErrInvalidReference, m.Name(), slot, common.Handle(tex))
		}
	}
	h, err := t.materials.insert(m)
	if err != nil {
		return common.MaterialHandle{}, err
	}
	t.materialVersion++
	return common.MaterialHandle(h), nil
}

func (t *tables) RegisterTexture(data common.TextureStagingData) (common.TextureHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.textures.count >= t.textures.limit {
		return common.TextureHandle{}, fmt.Errorf("%w: texture limit %d reached", ErrResourceExhausted, t.textures.limit)
	}
	tex, err := t.dev.CreateTexture(fmt.Sprintf("texture_%d", t.textures.span()), data)
	if err != nil {
		return common.TextureHandle{}, fmt.Errorf("failed to create texture: %w", err)
	}
	h, err := t.textures.insert(tex)
	if err != nil {
		tex.Release()
		return common.TextureHandle{}, err
	}
	return common.TextureHandle(h), nil
}

func (t *tables) RegisterSkin(jointCount int) (common.SkinHandle, error) {
	if jointCount < 0 || jointCount > t.limits.JointsPerSkin {
		return common.SkinHandle{}, fmt.Errorf("%w: %w: %d joints, limit %d",
			ErrTooManyJoints, ErrResourceExhausted, jointCount, t.limits.JointsPerSkin)
	}
	s := &skin{jointCount: jointCount, joints: make([]mgl32.Mat4, jointCount)}
	for i := range s.joints {
		s.joints[i] = mgl32.Ident4()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	h, err := t.skins.insert(s)
	if err != nil {
		return common.SkinHandle{}, err
	}
	return common.SkinHandle(h), nil
}

func (t *tables) Mesh(h common.MeshHandle) (MeshEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.meshes.get(common.Handle(h))
}

func (t *tables) ErrorMesh() MeshEntry {
	return t.errorMesh
}

func (t *tables) Material(h common.MaterialHandle) (MaterialEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, err := t.materials.get(common.Handle(h))
	if err != nil {
		return MaterialEntry{}, err
	}
	return MaterialEntry{Index: h.Index, Material: m}, nil
}

func (t *tables) MaterialIndex(h common.MaterialHandle) (uint32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, err := t.materials.lookup(common.Handle(h)); err != nil {
		return ErrorMaterialIndex, err
	}
	return h.Index, nil
}

func (t *tables) ErrorMaterial() common.MaterialHandle {
	return t.errorMaterial
}

func (t *tables) Texture(h common.TextureHandle) (device.Texture, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.textures.get(common.Handle(h))
}

func (t *tables) TextureIndex(h common.TextureHandle) (uint32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, err := t.textures.lookup(common.Handle(h)); err != nil {
		return common.NotPresent, err
	}
	return h.Index, nil
}

func (t *tables) Skin(h common.SkinHandle) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, err := t.skins.get(common.Handle(h))
	if err != nil {
		return 0, err
	}
	return s.jointCount, nil
}

func (t *tables) SetSkinJoints(h common.SkinHandle, joints []mgl32.Mat4) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.skins.get(common.Handle(h))
	if err != nil {
		return err
	}
	if len(joints) > s.jointCount {
		return fmt.Errorf("%w: %d joints for a skin of %d", ErrTooManyJoints, len(joints), s.jointCount)
	}
	replacement := make([]mgl32.Mat4, len(joints))
	copy(replacement, joints)
	s.joints = replacement
	return nil
}

func (t *tables) SkinJoints(h common.SkinHandle) ([]mgl32.Mat4, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, err := t.skins.get(common.Handle(h))
	if err != nil {
		return nil, err
	}
	return append([]mgl32.Mat4(nil), s.joints...), nil
}

func (t *tables) CopySkinJoints(h common.SkinHandle, dst *model.GPUJointBlock) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, err := t.skins.get(common.Handle(h))
	if err != nil {
		return err
	}
	n := copy(dst.Joints[:], s.joints)
	clear(dst.Joints[n:])
	return nil
}

func (t *tables) UnregisterMesh(h common.MeshHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.meshes.remove(common.Handle(h))
	return err
}

func (t *tables) UnregisterMaterial(h common.MaterialHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h == t.errorMaterial {
		return fmt.Errorf("%w: error material", ErrReserved)
	}
	if _, err := t.materials.remove(common.Handle(h)); err != nil {
		return err
	}
	t.materialVersion++
	return nil
}

func (t *tables) UnregisterTexture(h common.TextureHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tex, err := t.textures.remove(common.Handle(h))
	if err != nil {
		return err
	}
	retire(t.retirer, tex)
	t.materialVersion++
	return nil
}

func (t *tables) UnregisterSkin(h common.SkinHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.skins.remove(common.Handle(h))
	return err
}

func (t *tables) MaterialRecords(dst []material.GPUMaterial) ([]material.GPUMaterial, uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.materials.span()
	if cap(dst) < n {
		dst = make([]material.GPUMaterial, n)
	}
	dst = dst[:n]

	errorMaterial, _ := t.materials.get(common.Handle(t.errorMaterial))
	fallback := errorMaterial.GPURecord(t.resolveTextures(errorMaterial))
	for i := range dst {
		dst[i] = fallback
	}
	t.materials.each(func(idx uint32, m material.Material) {
		dst[idx] = m.GPURecord(t.resolveTextures(m))
	})
	return dst, t.materialVersion
}

func (t *tables) resolveTextures(m material.Material) [material.TextureSlotCount]uint32 {
	var out [material.TextureSlotCount]uint32
	for slot := range material.TextureSlotCount {
		out[slot] = common.NotPresent
		h := common.Handle(m.Texture(slot))
		if !h.IsZero() && t.textures.valid(h) {
			out[slot] = h.Index
		}
	}
	return out
}

func (t *tables) MaterialVersion() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.materialVersion
}

func (t *tables) VertexBuffer() device.Buffer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.vertices.buffer
}

func (t *tables) IndexBuffer() device.Buffer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.indices.buffer
}

func (t *tables) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Stats{
		Meshes:         t.meshes.count,
		Materials:      t.materials.count,
		Textures:       t.textures.count,
		Skins:          t.skins.count,
		VertexBytes:    t.vertices.used(),
		IndexBytes:     t.indices.used(),
		VertexCapacity: t.vertices.buffer.Size(),
		IndexCapacity:  t.indices.buffer.Size(),
	}
}

func (t *tables) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.textures.each(func(_ uint32, tex device.Texture) {
		tex.Release()
	})
	if t.vertices != nil {
		t.vertices.release()
	}
	if t.indices != nil {
		t.indices.release()
	}
}
