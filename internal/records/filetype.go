package records

import (
	"path/filepath"
	"sort"
	"strings"
)

// FileType is derived from a file's extension. It is never persisted.
type FileType string

const (
	FileTypeVideo    FileType = "video"
	FileTypeAudio    FileType = "audio"
	FileTypeSubtitle FileType = "subtitle"
	FileTypeNFO      FileType = "nfo"
	FileTypeImage    FileType = "image"
	FileTypeArchive  FileType = "archive"
	FileTypeUnknown  FileType = "unknown"
)

var extensionsByType = map[FileType][]string{
	FileTypeVideo:    {".mkv", ".mp4", ".avi", ".mov", ".wmv", ".flv", ".webm", ".m4v", ".ts", ".mts", ".m2ts"},
	FileTypeAudio:    {".mp3", ".wav", ".flac", ".aac", ".ogg", ".wma", ".m4a"},
	FileTypeSubtitle: {".srt", ".ass", ".ssa", ".sub", ".vtt", ".idx"},
	FileTypeNFO:      {".nfo"},
	FileTypeImage:    {".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".webp"},
	FileTypeArchive:  {".zip", ".rar", ".7z", ".tar", ".gz", ".bz2"},
}

var typeByExtension = func() map[string]FileType {
	index := make(map[string]FileType)
	for fileType, exts := range extensionsByType {
		for _, ext := range exts {
			index[ext] = fileType
		}
	}
	return index
}()

// DetectFileType classifies name by its extension, case-insensitively.
func DetectFileType(name string) FileType {
	ext := strings.ToLower(filepath.Ext(name))
	if fileType, ok := typeByExtension[ext]; ok {
		return fileType
	}
	return FileTypeUnknown
}

// ParseFileType converts user input into a FileType.
func ParseFileType(value string) (FileType, bool) {
	fileType := FileType(strings.ToLower(strings.TrimSpace(value)))
	if fileType == FileTypeUnknown {
		return fileType, true
	}
	_, ok := extensionsByType[fileType]
	return fileType, ok
}

// Extensions returns the sorted extensions that map to fileType. Unknown has
// no extension list; backends express it as "none of the known extensions".
func (t FileType) Extensions() []string {
	exts := append([]string(nil), extensionsByType[t]...)
	sort.Strings(exts)
	return exts
}

// KnownExtensions returns every extension that maps to a concrete type.
func KnownExtensions() []string {
	exts := make([]string, 0, len(typeByExtension))
	for ext := range typeByExtension {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// IsMedia reports whether the type is eligible for routing.
func (t FileType) IsMedia() bool {
	return t == FileTypeVideo || t == FileTypeAudio || t == FileTypeSubtitle
}
