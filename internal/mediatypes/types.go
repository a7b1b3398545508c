package mediatypes

import (
	"path/filepath"
	"strings"
)

// FileType classifies an indexed media file.
type FileType string

const (
	// FileTypeImage represents a still image.
	FileTypeImage FileType = "image"
	// FileTypeAnimatedImage represents a multi-frame image (gif, animated webp).
	FileTypeAnimatedImage FileType = "animated_image"
	// FileTypeVideo represents a video file.
	FileTypeVideo FileType = "video"
	// FileTypeAudio represents an audio file.
	FileTypeAudio FileType = "audio"
	// FileTypeUnknown represents an unclassified file type.
	FileTypeUnknown FileType = "unknown"
)

// SortField specifies which file column to sort query results by.
type SortField string

// SortOrder specifies the direction of sorting.
type SortOrder string

const (
	// SortByName sorts results by filename.
	SortByName SortField = "name"
	// SortByDate sorts results by modification time.
	SortByDate SortField = "date"

	// SortAsc sorts in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts in descending order.
	SortDesc SortOrder = "desc"
)

// Extensions holds the recognized file extensions per media class. All
// entries are lowercase and include the leading dot.
type Extensions struct {
	Image         []string
	AnimatedImage []string
	Video         []string
	Audio         []string
}

// DefaultExtensions returns the extension sets recognized out of the box.
func DefaultExtensions() Extensions {
	return Extensions{
		Image:         []string{".png", ".jpg", ".jpeg"},
		AnimatedImage: []string{".gif", ".webp"},
		Video:         []string{".mp4", ".mkv", ".webm", ".mov", ".avi"},
		Audio:         []string{".mp3", ".wav", ".ogg", ".flac"},
	}
}

// Classifier maps file extensions to media classes. Build one with
// NewClassifier; the zero value classifies everything as FileTypeUnknown.
type Classifier struct {
	byExt map[string]FileType
}

// NewClassifier builds a Classifier from the given extension sets.
// Extensions are normalized to lowercase. Later classes win on overlap,
// so an extension listed under both Image and Video is treated as video.
func NewClassifier(exts Extensions) *Classifier {
	c := &Classifier{byExt: make(map[string]FileType)}
	for _, e := range exts.Image {
		c.byExt[strings.ToLower(e)] = FileTypeImage
	}
	for _, e := range exts.AnimatedImage {
		c.byExt[strings.ToLower(e)] = FileTypeAnimatedImage
	}
	for _, e := range exts.Video {
		c.byExt[strings.ToLower(e)] = FileTypeVideo
	}
	for _, e := range exts.Audio {
		c.byExt[strings.ToLower(e)] = FileTypeAudio
	}
	return c
}

// TypeOf returns the media class for a file path based on its extension.
func (c *Classifier) TypeOf(path string) FileType {
	if c == nil || c.byExt == nil {
		return FileTypeUnknown
	}
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := c.byExt[ext]; ok {
		return t
	}
	return FileTypeUnknown
}

// IsMedia reports whether the path has a recognized media extension.
func (c *Classifier) IsMedia(path string) bool {
	return c.TypeOf(path) != FileTypeUnknown
}

// MimeTypes maps file extensions to their MIME types.
var MimeTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",

	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",

	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
}

// GetMimeType returns the MIME type for a file path, or
// "application/octet-stream" for unrecognized extensions.
func GetMimeType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if mime, ok := MimeTypes[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}
