package storage

import "time"

const ManifestSuffix = ".manifest.json"

// Manifest is the JSON sidecar stored next to every mirrored archive.
type Manifest struct {
	Key         string    `json:"key"`
	Source      string    `json:"source"`
	Format      string    `json:"format"`
	Encryption  bool      `json:"encryption"`
	SizeBytes   int64     `json:"size_bytes"`
	SourceBytes int64     `json:"source_bytes"`
	SHA256      string    `json:"sha256"`
	UploadedAt  time.Time `json:"uploaded_at"`
	ToolVersion string    `json:"tool_version"`
}

func ManifestKey(objectKey string) string {
	return objectKey + ManifestSuffix
}
