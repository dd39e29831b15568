package stream

import (
	"path"
	"strings"
)

// ArtifactKind distinguishes files a job directory may expose.
type ArtifactKind int

const (
	ArtifactUnknown ArtifactKind = iota
	ArtifactPlaylist
	ArtifactSegment
)

var artifactKinds = map[string]ArtifactKind{
	".m3u8": ArtifactPlaylist,
	".ts":   ArtifactSegment,
}

// ContentType returns the media type players negotiate on.
func (k ArtifactKind) ContentType() string {
	switch k {
	case ArtifactPlaylist:
		return "application/vnd.apple.mpegurl"
	case ArtifactSegment:
		return "video/mp2t"
	default:
		return "application/octet-stream"
	}
}

// CacheControl returns the caching policy for the artifact.
// Playlists keep growing while ffmpeg runs; segments never change once renamed into place.
func (k ArtifactKind) CacheControl() string {
	if k == ArtifactSegment {
		return "public, max-age=31536000, immutable"
	}
	return "no-cache, no-store, must-revalidate"
}

// NormalizeArtifactName validates a requested file name and classifies it.
func NormalizeArtifactName(raw string) (string, ArtifactKind, error) {
	value := strings.TrimSpace(raw)
	if value == "" || strings.ContainsAny(value, "/\\\x00") {
		return "", ArtifactUnknown, NewError(ErrNotFound, "artifact not found", "", nil)
	}
	if strings.HasPrefix(value, ".") || path.Clean(value) != value {
		return "", ArtifactUnknown, NewError(ErrNotFound, "artifact not found", "", nil)
	}
	kind, ok := artifactKinds[strings.ToLower(path.Ext(value))]
	if !ok {
		return "", ArtifactUnknown, NewError(ErrNotFound, "artifact not found", "", nil)
	}
	return value, kind, nil
}
