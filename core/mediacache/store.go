package mediacache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	"ReelForge/model"
)

var (
	// ErrNotFound 持久化存储中不存在该条目
	ErrNotFound = errors.New("media entry not found")
	// ErrInvalidURL 不是可下载的远程地址
	ErrInvalidURL = errors.New("invalid media url")
	// ErrTooLarge 超过 MEDIA_MAX_BYTES
	ErrTooLarge = errors.New("media exceeds size limit")
	// ErrClosed 缓存已关闭
	ErrClosed = errors.New("media cache closed")
	// ErrRevoked 下载过程中条目被撤销
	ErrRevoked = errors.New("media entry revoked during download")
)

// Store is the durable side of the cache. Put must not leave a partial
// object behind when r fails.
type Store interface {
	Stat(ctx context.Context, key string) (model.MediaEntry, error)
	Open(ctx context.Context, key string) (io.ReadCloser, model.MediaEntry, error)
	Put(ctx context.Context, entry model.MediaEntry, r io.Reader) (model.MediaEntry, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Key 远程 URL 对应的存储键
func Key(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:16])
}

// MemoryStore 进程内存储，用于测试和 MEDIA_STORE=memory
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryObject
}

type memoryObject struct {
	entry model.MediaEntry
	data  []byte
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryObject)}
}

func (m *MemoryStore) Stat(_ context.Context, key string) (model.MediaEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.entries[key]
	if !ok {
		return model.MediaEntry{}, ErrNotFound
	}
	return obj.entry, nil
}

func (m *MemoryStore) Open(_ context.Context, key string) (io.ReadCloser, model.MediaEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.entries[key]
	if !ok {
		return nil, model.MediaEntry{}, ErrNotFound
	}
	return readSeekNopCloser{bytes.NewReader(obj.data)}, obj.entry, nil
}

// readSeekNopCloser 保留 Seek，blob 接口才能支持 Range
type readSeekNopCloser struct {
	*bytes.Reader
}

func (readSeekNopCloser) Close() error { return nil }

func (m *MemoryStore) Put(_ context.Context, entry model.MediaEntry, r io.Reader) (model.MediaEntry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return model.MediaEntry{}, fmt.Errorf("read media body: %w", err)
	}
	entry.Size = int64(len(data))
	m.mu.Lock()
	m.entries[entry.Key] = memoryObject{entry: entry, data: data}
	m.mu.Unlock()
	return entry, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]memoryObject)
	m.mu.Unlock()
	return nil
}

// Len 条目数量
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
