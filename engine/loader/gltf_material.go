package loader

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"path"
	"strings"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/material"
	"github.com/ftrvxmtrx/tga"
	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

// extractMaterial reads the factors, alpha mode and texture references of a glTF material.
func (d *document) extractMaterial(index int) (MaterialAsset, error) {
	src := d.Materials[index]
	out := MaterialAsset{
		Name:      src.Name,
		BaseColor: mgl32.Vec4{1, 1, 1, 1},
		Metallic:  1,
		Roughness: 1,
	}
	if out.Name == "" {
		out.Name = fmt.Sprintf("material_%d", index)
	}
	for i := range out.Textures {
		out.Textures[i] = -1
	}

	if pbr := src.PbrMetallicRoughness; pbr != nil {
		if pbr.BaseColorFactor != nil {
			out.BaseColor = *pbr.BaseColorFactor
		}
		if pbr.MetallicFactor != nil {
			out.Metallic = *pbr.MetallicFactor
		}
		if pbr.RoughnessFactor != nil {
			out.Roughness = *pbr.RoughnessFactor
		}
		out.Textures[material.TextureSlotBaseColor] = textureRef(pbr.BaseColorTexture)
		out.Textures[material.TextureSlotMetallicRoughness] = textureRef(pbr.MetallicRoughnessTexture)
	}
	out.Textures[material.TextureSlotNormal] = textureRef(src.NormalTexture)
	out.Textures[material.TextureSlotOcclusion] = textureRef(src.OcclusionTexture)
	out.Textures[material.TextureSlotEmissive] = textureRef(src.EmissiveTexture)
	for slot, ref := range out.Textures {
		if ref < -1 || ref >= len(d.Textures) {
			return MaterialAsset{}, fmt.Errorf("%w: material %s slot %d references texture %d", ErrInvalidAsset, out.Name, slot, ref)
		}
	}

	if src.EmissiveFactor != nil {
		out.Emissive = *src.EmissiveFactor
	}
	switch src.AlphaMode {
	case "", "OPAQUE":
	case "MASK":
		out.AlphaMask = true
		out.AlphaCutoff = 0.5
		if src.AlphaCutoff != nil {
			out.AlphaCutoff = *src.AlphaCutoff
		}
	case "BLEND":
		// No transparent pass: blended materials render masked at the default cutoff.
		out.AlphaMask = true
		out.AlphaCutoff = 0.5
	default:
		return MaterialAsset{}, fmt.Errorf("%w: material %s alpha mode %q", ErrInvalidAsset, out.Name, src.AlphaMode)
	}
	_, out.Unlit = src.Extensions[gltfExtUnlit]
	return out, nil
}

func textureRef(info *gltfTextureInfo) int {
	if info == nil {
		return -1
	}
	return info.Index
}

// Options converts the asset into material builder options, resolving texture indices through textures.
//
// Parameters:
//   - textures: registered texture handles indexed like Asset.Textures
//
// Returns:
//   - []material.MaterialBuilderOption: the options for material.NewMaterial
func (m MaterialAsset) Options(textures []common.TextureHandle) []material.MaterialBuilderOption {
	opts := []material.MaterialBuilderOption{
		material.WithName(m.Name),
		material.WithBaseColor(m.BaseColor),
		material.WithEmissive(m.Emissive),
		material.WithMetallic(m.Metallic),
		material.WithRoughness(m.Roughness),
	}
	if m.Unlit {
		opts = append(opts, material.WithWorkflow(material.WorkflowUnlit))
	}
	if m.AlphaMask {
		opts = append(opts, material.WithAlphaMask(), material.WithAlphaCutoff(m.AlphaCutoff))
	}
	for slot, ref := range m.Textures {
		if ref >= 0 && ref < len(textures) {
			opts = append(opts, material.WithTexture(material.TextureSlot(slot), textures[ref]))
		}
	}
	return opts
}

// extractTexture decodes the image a glTF texture samples from.
func (d *document) extractTexture(index, maxSize int) (common.TextureStagingData, error) {
	src := d.Textures[index].Source
	if src == nil {
		return common.TextureStagingData{}, fmt.Errorf("%w: texture %d has no image source", ErrUnsupported, index)
	}
	if *src < 0 || *src >= len(d.Images) {
		return common.TextureStagingData{}, fmt.Errorf("%w: texture %d references image %d", ErrInvalidAsset, index, *src)
	}
	img := d.Images[*src]

	var (
		raw  []byte
		mime = img.MimeType
		err  error
	)
	switch {
	case img.BufferView != nil:
		raw, err = d.bufferView(*img.BufferView)
	case img.URI != "":
		var uriMime string
		raw, uriMime, err = d.resolveURI(img.URI)
		mime = firstNonEmpty(mime, uriMime, mimeFromExt(img.URI))
	default:
		err = fmt.Errorf("%w: image %d has no data", ErrInvalidAsset, *src)
	}
	if err != nil {
		return common.TextureStagingData{}, fmt.Errorf("image %d: %w", *src, err)
	}

	decoded, err := decodeImage(raw, mime)
	if err != nil {
		return common.TextureStagingData{}, fmt.Errorf("image %d: %w", *src, err)
	}
	return toStaging(decoded, maxSize), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func mimeFromExt(uri string) string {
	switch strings.ToLower(path.Ext(uri)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".tga":
		return "image/x-tga"
	}
	return ""
}

// decodeImage sniffs PNG, JPEG and WebP signatures and falls back to the declared MIME type. TGA has no
// signature and is only decoded when declared.
func decodeImage(raw []byte, mime string) (image.Image, error) {
	r := bytes.NewReader(raw)
	switch {
	case bytes.HasPrefix(raw, []byte("\x89PNG\r\n\x1a\n")):
		return png.Decode(r)
	case bytes.HasPrefix(raw, []byte("\xff\xd8\xff")):
		return jpeg.Decode(r)
	case len(raw) >= 12 && string(raw[:4]) == "RIFF" && string(raw[8:12]) == "WEBP":
		return webp.Decode(r)
	case mime == "image/x-tga" || mime == "image/tga":
		return tga.Decode(r)
	}
	return nil, fmt.Errorf("%w: image format %q", ErrUnsupported, mime)
}

// toStaging converts an image to tightly packed straight-alpha RGBA8, downscaling so neither side exceeds
// maxSize. A maxSize of zero disables the limit.
func toStaging(src image.Image, maxSize int) common.TextureStagingData {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSize > 0 && (w > maxSize || h > maxSize) {
		scale := float64(maxSize) / float64(max(w, h))
		w = max(1, int(float64(w)*scale))
		h = max(1, int(float64(h)*scale))
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	}
	return common.TextureStagingData{Pixels: dst.Pix, Width: uint32(w), Height: uint32(h)}
}
