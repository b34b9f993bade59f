package storage

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"ReelForge/model"

	"github.com/minio/minio-go/v7"
)

// BucketStats 存储统计信息
type BucketStats struct {
	TotalObjects int64            `json:"totalObjects"`
	TotalSize    int64            `json:"totalSize"`
	LastModified time.Time        `json:"lastModified"`
	ByKind       map[string]int64 `json:"byKind"` // 按媒体类别统计字节数
}

// Add 计入一个条目
func (s *BucketStats) Add(e model.MediaEntry) {
	if s.ByKind == nil {
		s.ByKind = make(map[string]int64)
	}
	s.TotalObjects++
	s.TotalSize += e.Size
	if e.CachedAt.After(s.LastModified) {
		s.LastModified = e.CachedAt
	}
	s.ByKind[MediaKind(e.MimeType, e.URL)] += e.Size
}

// Summarize builds stats for entries.
func Summarize(entries []model.MediaEntry) BucketStats {
	var s BucketStats
	for _, e := range entries {
		s.Add(e)
	}
	return s
}

// List returns the cached entries under media/, newest first.
func (m *MinioMediaStore) List(ctx context.Context) ([]model.MediaEntry, error) {
	var out []model.MediaEntry
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:       mediaPrefix,
		Recursive:    true,
		WithMetadata: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("列出对象时出错: %w", obj.Err)
		}
		out = append(out, entryFromObject(strings.TrimPrefix(obj.Key, mediaPrefix), obj))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CachedAt.After(out[j].CachedAt) })
	return out, nil
}

// MediaKind 由 MIME 类型推断类别，缺失时看扩展名
func MediaKind(mimeType, rawURL string) string {
	if i := strings.IndexByte(mimeType, '/'); i > 0 {
		switch kind := mimeType[:i]; kind {
		case "video", "audio", "image":
			return kind
		}
	}
	ext := strings.ToLower(path.Ext(strings.SplitN(rawURL, "?", 2)[0]))
	switch ext {
	case ".mp3", ".wav", ".flac", ".m4a", ".aac", ".ogg":
		return "audio"
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return "image"
	case ".mp4", ".mov", ".mkv", ".webm", ".m4v":
		return "video"
	default:
		return "other"
	}
}

// FormatSize 格式化文件大小
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
