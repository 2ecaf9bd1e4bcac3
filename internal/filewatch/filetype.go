package filewatch

import (
	"fmt"
	"path"
	"strings"
)

// FileType restricts which file paths a tracker registers and reports.
type FileType int

const (
	AnyType FileType = iota
	Image
	Video
)

var extensionsByType = map[FileType]map[string]struct{}{
	Image: setOf("jpg", "jpeg", "png", "bmp", "svg", "gif", "webp"),
	Video: setOf("webm", "mp4", "ogv", "ogg"),
}

func setOf(values ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, value := range values {
		out[value] = struct{}{}
	}
	return out
}

func ParseFileType(raw string) (FileType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none", "any", "all":
		return AnyType, nil
	case "image", "images":
		return Image, nil
	case "video", "videos":
		return Video, nil
	default:
		return AnyType, fmt.Errorf("unknown file type %q", raw)
	}
}

func (f FileType) String() string {
	switch f {
	case Image:
		return "image"
	case Video:
		return "video"
	default:
		return "none"
	}
}

// Accepts reports whether filePath has an extension of this type, ignoring
// case. AnyType accepts every path.
func (f FileType) Accepts(filePath string) bool {
	extensions, ok := extensionsByType[f]
	if !ok {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(filePath)), ".")
	if ext == "" {
		return false
	}
	_, ok = extensions[ext]
	return ok
}

func isFolderPath(filePath string) bool {
	return strings.HasSuffix(filePath, "/")
}
