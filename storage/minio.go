package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ReelForge/config"
	"ReelForge/core/mediacache"
	"ReelForge/logger"
	"ReelForge/model"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// 对象键前缀与元数据键
const (
	mediaPrefix    = "media/"
	metaSourceURL  = "Source-Url"
	metaCachedAtMs = "Cached-At"
)

// MinioMediaStore keeps cached media as objects under media/<key>.
// The source URL and cache time travel as user metadata.
type MinioMediaStore struct {
	client *minio.Client
	bucket string
}

// NewMinioClient 创建 MinIO 客户端
func NewMinioClient(cfg *config.Config) (*minio.Client, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}
	return client, nil
}

// NewMinioMediaStore connects and makes sure the bucket exists.
func NewMinioMediaStore(ctx context.Context, cfg *config.Config) (*MinioMediaStore, error) {
	client, err := NewMinioClient(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("成功创建存储桶", logger.String("bucket", cfg.MinioBucket))
	}

	logger.Info("MinIO 媒体存储已就绪",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))
	return &MinioMediaStore{client: client, bucket: cfg.MinioBucket}, nil
}

func objectName(key string) string {
	return mediaPrefix + key
}

// isNotFound 对象或存储桶不存在
func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

func (m *MinioMediaStore) Stat(ctx context.Context, key string) (model.MediaEntry, error) {
	info, err := m.client.StatObject(ctx, m.bucket, objectName(key), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return model.MediaEntry{}, mediacache.ErrNotFound
		}
		return model.MediaEntry{}, fmt.Errorf("stat media object: %w", err)
	}
	return entryFromObject(key, info), nil
}

func (m *MinioMediaStore) Open(ctx context.Context, key string) (io.ReadCloser, model.MediaEntry, error) {
	entry, err := m.Stat(ctx, key)
	if err != nil {
		return nil, model.MediaEntry{}, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, model.MediaEntry{}, fmt.Errorf("get media object: %w", err)
	}
	return obj, entry, nil
}

// Put streams r into the bucket. An unknown size (entry.Size <= 0) uses a
// multipart upload; a failed read aborts the upload without an object.
func (m *MinioMediaStore) Put(ctx context.Context, entry model.MediaEntry, r io.Reader) (model.MediaEntry, error) {
	size := entry.Size
	if size <= 0 {
		size = -1
	}
	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now()
	}
	info, err := m.client.PutObject(ctx, m.bucket, objectName(entry.Key), r, size, minio.PutObjectOptions{
		ContentType: entry.MimeType,
		UserMetadata: map[string]string{
			metaSourceURL:  entry.URL,
			metaCachedAtMs: strconv.FormatInt(entry.CachedAt.UnixMilli(), 10),
		},
	})
	if err != nil {
		return model.MediaEntry{}, fmt.Errorf("upload media object: %w", err)
	}
	entry.Size = info.Size
	return entry, nil
}

func (m *MinioMediaStore) Delete(ctx context.Context, key string) error {
	err := m.client.RemoveObject(ctx, m.bucket, objectName(key), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("remove media object: %w", err)
	}
	return nil
}

// Clear 删除 media/ 前缀下的全部对象
func (m *MinioMediaStore) Clear(ctx context.Context) error {
	return m.DeletePrefix(ctx, mediaPrefix)
}

// DeletePrefix removes every object under prefix.
func (m *MinioMediaStore) DeletePrefix(ctx context.Context, prefix string) error {
	objectsCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(objectsCh)
		for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
			if obj.Err != nil {
				logger.Warn("列出对象时出错", logger.ErrorField(obj.Err))
				continue
			}
			objectsCh <- obj
		}
	}()

	var errs []error
	for rErr := range m.client.RemoveObjects(ctx, m.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		errs = append(errs, fmt.Errorf("remove %s: %w", rErr.ObjectName, rErr.Err))
	}
	return errors.Join(errs...)
}

func entryFromObject(key string, info minio.ObjectInfo) model.MediaEntry {
	entry := model.MediaEntry{
		Key:      key,
		URL:      metadata(info, metaSourceURL),
		MimeType: info.ContentType,
		Size:     info.Size,
		CachedAt: info.LastModified,
	}
	if ms, err := strconv.ParseInt(metadata(info, metaCachedAtMs), 10, 64); err == nil {
		entry.CachedAt = time.UnixMilli(ms)
	}
	return entry
}

// metadata 用户元数据的键在不同接口返回时大小写和前缀不一致
func metadata(info minio.ObjectInfo, name string) string {
	for k, v := range info.UserMetadata {
		k = strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")
		if k == strings.ToLower(name) {
			return v
		}
	}
	if vs := info.Metadata.Values("X-Amz-Meta-" + name); len(vs) > 0 {
		return vs[0]
	}
	return ""
}
