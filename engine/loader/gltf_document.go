package loader

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// document is a parsed glTF file with every buffer resolved to bytes.
type document struct {
	gltfDocument
	baseDir string
}

// parseDocument decodes .gltf JSON or a .glb container. External buffers are resolved relative to baseDir;
// an empty baseDir forbids them.
func parseDocument(data []byte, baseDir string) (*document, error) {
	var bin []byte
	if len(data) >= 4 && binary.LittleEndian.Uint32(data) == glbMagic {
		var err error
		if data, bin, err = splitGLB(data); err != nil {
			return nil, err
		}
	}

	d := &document{baseDir: baseDir}
	if err := json.Unmarshal(data, &d.gltfDocument); err != nil {
		return nil, fmt.Errorf("%w: decoding json: %v", ErrInvalidAsset, err)
	}
	if !strings.HasPrefix(d.Asset.Version, "2.") {
		return nil, fmt.Errorf("%w: asset version %q, want 2.x", ErrUnsupported, d.Asset.Version)
	}
	for _, ext := range d.ExtensionsRequired {
		if ext != gltfExtUnlit {
			return nil, fmt.Errorf("%w: required extension %s", ErrUnsupported, ext)
		}
	}

	for i := range d.Buffers {
		b := &d.Buffers[i]
		switch {
		case b.URI == "" && i == 0 && bin != nil:
			b.data = bin
		case b.URI == "":
			return nil, fmt.Errorf("%w: buffer %d has no data", ErrInvalidAsset, i)
		default:
			raw, _, err := d.resolveURI(b.URI)
			if err != nil {
				return nil, fmt.Errorf("buffer %d: %w", i, err)
			}
			b.data = raw
		}
		if len(b.data) < b.ByteLength {
			return nil, fmt.Errorf("%w: buffer %d holds %d bytes, declares %d", ErrInvalidAsset, i, len(b.data), b.ByteLength)
		}
	}
	return d, nil
}

// splitGLB returns the JSON and BIN chunks of a GLB container.
func splitGLB(data []byte) (jsonChunk, binChunk []byte, err error) {
	if len(data) < 12 {
		return nil, nil, fmt.Errorf("%w: glb header truncated", ErrInvalidAsset)
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != glbVersion {
		return nil, nil, fmt.Errorf("%w: glb version %d", ErrUnsupported, v)
	}
	r := bytes.NewReader(data[12:])
	for {
		var header struct{ Length, Type uint32 }
		if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
			if err == io.EOF {
				break
			}
			return nil, nil, fmt.Errorf("%w: glb chunk header: %v", ErrInvalidAsset, err)
		}
		chunk := make([]byte, header.Length)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, nil, fmt.Errorf("%w: glb chunk: %v", ErrInvalidAsset, err)
		}
		switch header.Type {
		case glbChunkJSON:
			jsonChunk = chunk
		case glbChunkBIN:
			binChunk = chunk
		}
	}
	if jsonChunk == nil {
		return nil, nil, fmt.Errorf("%w: glb has no JSON chunk", ErrInvalidAsset)
	}
	return jsonChunk, binChunk, nil
}

// resolveURI loads a base64 data URI or a file next to the document. It also returns the MIME type of a
// data URI.
func (d *document) resolveURI(uri string) ([]byte, string, error) {
	if rest, ok := strings.CutPrefix(uri, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, "", fmt.Errorf("%w: malformed data uri", ErrInvalidAsset)
		}
		mime, isBase64 := strings.CutSuffix(header, ";base64")
		if !isBase64 {
			return nil, "", fmt.Errorf("%w: data uri encoding %q", ErrUnsupported, header)
		}
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", fmt.Errorf("%w: data uri: %v", ErrInvalidAsset, err)
		}
		return raw, mime, nil
	}
	if d.baseDir == "" {
		return nil, "", fmt.Errorf("%w: external uri %q without a base directory", ErrInvalidAsset, uri)
	}
	raw, err := os.ReadFile(filepath.Join(d.baseDir, filepath.FromSlash(uri)))
	if err != nil {
		return nil, "", err
	}
	return raw, "", nil
}

// bufferView returns the bytes of a buffer view.
func (d *document) bufferView(index int) ([]byte, error) {
	if index < 0 || index >= len(d.BufferViews) {
		return nil, fmt.Errorf("%w: buffer view %d out of range", ErrInvalidAsset, index)
	}
	bv := d.BufferViews[index]
	if bv.Buffer < 0 || bv.Buffer >= len(d.Buffers) {
		return nil, fmt.Errorf("%w: buffer %d out of range", ErrInvalidAsset, bv.Buffer)
	}
	data := d.Buffers[bv.Buffer].data
	end := bv.ByteOffset + bv.ByteLength
	if bv.ByteOffset < 0 || end > len(data) {
		return nil, fmt.Errorf("%w: buffer view %d exceeds its buffer", ErrInvalidAsset, index)
	}
	return data[bv.ByteOffset:end], nil
}

// elements returns each element of an accessor as a byte slice of componentSize*components bytes,
// honouring the buffer view stride.
func (d *document) elements(index int) (elems [][]byte, acc gltfAccessor, err error) {
	if index < 0 || index >= len(d.Accessors) {
		return nil, acc, fmt.Errorf("%w: accessor %d out of range", ErrInvalidAsset, index)
	}
	acc = d.Accessors[index]
	if acc.Sparse != nil {
		return nil, acc, fmt.Errorf("%w: sparse accessor %d", ErrUnsupported, index)
	}
	comps := gltfComponentCounts[acc.Type]
	size := componentSize(acc.ComponentType)
	if comps == 0 || size == 0 {
		return nil, acc, fmt.Errorf("%w: accessor %d has type %s/%d", ErrInvalidAsset, index, acc.Type, acc.ComponentType)
	}
	if acc.Count < 0 || acc.ByteOffset < 0 {
		return nil, acc, fmt.Errorf("%w: accessor %d has a negative count or offset", ErrInvalidAsset, index)
	}
	elemSize := comps * size
	elems = make([][]byte, acc.Count)
	if acc.BufferView == nil {
		// An accessor without a buffer view reads as zeros.
		zero := make([]byte, elemSize)
		for i := range elems {
			elems[i] = zero
		}
		return elems, acc, nil
	}

	view, err := d.bufferView(*acc.BufferView)
	if err != nil {
		return nil, acc, err
	}
	stride := elemSize
	if s := d.BufferViews[*acc.BufferView].ByteStride; s != nil && *s > 0 {
		stride = *s
	}
	for i := range elems {
		start := acc.ByteOffset + i*stride
		if start+elemSize > len(view) {
			return nil, acc, fmt.Errorf("%w: accessor %d overruns its buffer view", ErrInvalidAsset, index)
		}
		elems[i] = view[start : start+elemSize]
	}
	return elems, acc, nil
}

// floats reads an accessor of the given type as float32 components. Normalized integer components are
// mapped to [0,1] or [-1,1].
func (d *document) floats(index int, accessorType string) ([]float32, error) {
	elems, acc, err := d.elements(index)
	if err != nil {
		return nil, err
	}
	if acc.Type != accessorType {
		return nil, fmt.Errorf("%w: accessor %d is %s, want %s", ErrInvalidAsset, index, acc.Type, accessorType)
	}
	if acc.ComponentType != gltfFloat && !acc.Normalized {
		return nil, fmt.Errorf("%w: accessor %d is not float or normalized", ErrInvalidAsset, index)
	}
	comps := gltfComponentCounts[acc.Type]
	size := componentSize(acc.ComponentType)
	out := make([]float32, 0, len(elems)*comps)
	for _, e := range elems {
		for c := range comps {
			out = append(out, decodeFloat(e[c*size:], acc.ComponentType))
		}
	}
	return out, nil
}

// uints reads an unsigned integer accessor.
func (d *document) uints(index int, accessorType string) ([]uint32, error) {
	elems, acc, err := d.elements(index)
	if err != nil {
		return nil, err
	}
	if acc.Type != accessorType {
		return nil, fmt.Errorf("%w: accessor %d is %s, want %s", ErrInvalidAsset, index, acc.Type, accessorType)
	}
	comps := gltfComponentCounts[acc.Type]
	out := make([]uint32, 0, len(elems)*comps)
	for _, e := range elems {
		for c := range comps {
			switch acc.ComponentType {
			case gltfUnsignedByte:
				out = append(out, uint32(e[c]))
			case gltfUnsignedShort:
				out = append(out, uint32(binary.LittleEndian.Uint16(e[c*2:])))
			case gltfUnsignedInt:
				out = append(out, binary.LittleEndian.Uint32(e[c*4:]))
			default:
				return nil, fmt.Errorf("%w: accessor %d has component type %d, want unsigned", ErrInvalidAsset, index, acc.ComponentType)
			}
		}
	}
	return out, nil
}

func componentSize(componentType int) int {
	switch componentType {
	case gltfByte, gltfUnsignedByte:
		return 1
	case gltfShort, gltfUnsignedShort:
		return 2
	case gltfUnsignedInt, gltfFloat:
		return 4
	}
	return 0
}

func decodeFloat(b []byte, componentType int) float32 {
	switch componentType {
	case gltfFloat:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	case gltfUnsignedByte:
		return float32(b[0]) / 255
	case gltfByte:
		return max(float32(int8(b[0]))/127, -1)
	case gltfUnsignedShort:
		return float32(binary.LittleEndian.Uint16(b)) / 65535
	case gltfShort:
		return max(float32(int16(binary.LittleEndian.Uint16(b)))/32767, -1)
	case gltfUnsignedInt:
		return float32(binary.LittleEndian.Uint32(b)) / math.MaxUint32
	}
	return 0
}
