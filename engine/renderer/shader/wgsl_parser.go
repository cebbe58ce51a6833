package shader

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cogentcore/webgpu/wgpu"
)

var (
	lineCommentPattern  = regexp.MustCompile(`//[^\n]*`)
	blockCommentPattern = regexp.MustCompile(`(?s)/\*.*?\*/`)
	workgroupPattern    = regexp.MustCompile(`@workgroup_size\(\s*(\d+)\s*(?:,\s*(\d+)\s*)?(?:,\s*(\d+)\s*)?,?\s*\)`)
	bindingPattern      = regexp.MustCompile(`@group\(\s*(\d+)\s*\)\s*@binding\(\s*(\d+)\s*\)\s*var(?:<([^>]*)>)?\s+([A-Za-z_]\w*)\s*:`)
)

// entryPointPatterns match a stage attribute, optionally followed by other attributes, and the
// function name that follows it.
var entryPointPatterns = map[ShaderType]*regexp.Regexp{
	ShaderTypeCompute:  regexp.MustCompile(`@compute(?:\s+@[a-z_]+(?:\([^)]*\))?)*\s+fn\s+([A-Za-z_]\w*)`),
	ShaderTypeVertex:   regexp.MustCompile(`@vertex(?:\s+@[a-z_]+(?:\([^)]*\))?)*\s+fn\s+([A-Za-z_]\w*)`),
	ShaderTypeFragment: regexp.MustCompile(`@fragment(?:\s+@[a-z_]+(?:\([^)]*\))?)*\s+fn\s+([A-Za-z_]\w*)`),
}

// stripComments removes block and line comments so attributes inside comments are never matched.
func stripComments(source string) string {
	return lineCommentPattern.ReplaceAllString(blockCommentPattern.ReplaceAllString(source, ""), "")
}

// parseEntryPoint returns the first function tagged with the stage attribute for shaderType.
func parseEntryPoint(source string, shaderType ShaderType) string {
	pattern, ok := entryPointPatterns[shaderType]
	if !ok {
		return ""
	}
	m := pattern.FindStringSubmatch(stripComments(source))
	if m == nil {
		return ""
	}
	return m[1]
}

// parseWorkgroupSize reads the @workgroup_size attribute. Omitted dimensions default to 1.
func parseWorkgroupSize(source string) [3]uint32 {
	size := [3]uint32{1, 1, 1}
	m := workgroupPattern.FindStringSubmatch(stripComments(source))
	if m == nil {
		return [3]uint32{}
	}
	for i := range 3 {
		if m[i+1] == "" {
			continue
		}
		v, err := strconv.ParseUint(m[i+1], 10, 32)
		if err == nil {
			size[i] = uint32(v)
		}
	}
	return size
}

// parseBindGroupLayouts builds layout descriptors for every buffer binding declared in source.
// var<uniform> maps to a uniform binding, var<storage> and var<storage, read> to read-only storage
// and var<storage, read_write> to storage. Handle bindings (textures, samplers) are not declared by
// the engine's shaders and are skipped.
func parseBindGroupLayouts(key, source string, visibility wgpu.ShaderStage) map[int]wgpu.BindGroupLayoutDescriptor {
	groups := make(map[int][]wgpu.BindGroupLayoutEntry)
	for _, m := range bindingPattern.FindAllStringSubmatch(stripComments(source), -1) {
		group, _ := strconv.Atoi(m[1])
		binding, _ := strconv.Atoi(m[2])

		bufferType, ok := classifyAddressSpace(m[3])
		if !ok {
			continue
		}
		groups[group] = append(groups[group], wgpu.BindGroupLayoutEntry{
			Binding:    uint32(binding),
			Visibility: visibility,
			Buffer: wgpu.BufferBindingLayout{
				Type: bufferType,
			},
		})
	}

	descriptors := make(map[int]wgpu.BindGroupLayoutDescriptor, len(groups))
	for group, entries := range groups {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Binding < entries[j].Binding
		})
		descriptors[group] = wgpu.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s Group %d", key, group),
			Entries: entries,
		}
	}
	return descriptors
}

func classifyAddressSpace(space string) (wgpu.BufferBindingType, bool) {
	parts := strings.Split(space, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	switch parts[0] {
	case "uniform":
		return wgpu.BufferBindingTypeUniform, true
	case "storage":
		if len(parts) > 1 && parts[1] == "read_write" {
			return wgpu.BufferBindingTypeStorage, true
		}
		return wgpu.BufferBindingTypeReadOnlyStorage, true
	default:
		return wgpu.BufferBindingTypeUndefined, false
	}
}
