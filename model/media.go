package model

import "time"

// MediaState 媒体缓存中单个 URL 的状态
type MediaState string

const (
	MediaStateIdle        MediaState = "idle"
	MediaStateDownloading MediaState = "downloading"
	MediaStateReady       MediaState = "ready"
	MediaStateError       MediaState = "error"
)

// MediaEntry describes one cached remote URL. The bytes live in the cache or a durable store.
type MediaEntry struct {
	URL      string    `json:"url"`
	Key      string    `json:"key"`
	BlobURL  string    `json:"blobUrl"`
	MimeType string    `json:"mimeType"`
	Size     int64     `json:"size"`
	CachedAt time.Time `json:"cachedAt"`
}

// MediaStatus 下载进度与状态
type MediaStatus struct {
	URL     string     `json:"url"`
	State   MediaState `json:"state"`
	Loaded  int64      `json:"loaded"`
	Total   int64      `json:"total"`
	BlobURL string     `json:"blobUrl,omitempty"`
	Error   string     `json:"error,omitempty"`
}
