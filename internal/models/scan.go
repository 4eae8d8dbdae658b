package models

type ArtifactKind string

const (
	ArtifactDocument ArtifactKind = "document"
	ArtifactRaster   ArtifactKind = "raster"
)

func (k ArtifactKind) String() string {
	return string(k)
}

type ScanArtifact struct {
	Path string       `json:"path"`
	Kind ArtifactKind `json:"kind"`
	Size int64        `json:"size"`
}

type NormalizedPage struct {
	Path   string `json:"path"`
	Source string `json:"source"`
	Page   int    `json:"page"`
}
