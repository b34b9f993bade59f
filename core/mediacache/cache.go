package mediacache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"ReelForge/logger"
	"ReelForge/model"
)

// 默认参数
const (
	DefaultBlobPrefix   = "/media/blob/"
	DefaultMaxBytes     = 512 << 20
	DefaultFetchTimeout = 3 * time.Minute

	progressStep = 256 << 10
)

// EventType 缓存事件类型
type EventType string

const (
	EventReady    EventType = "ready"
	EventError    EventType = "error"
	EventProgress EventType = "progress"
)

// Event 缓存事件
type Event struct {
	Type    EventType `json:"type"`
	URL     string    `json:"url"`
	BlobURL string    `json:"blobUrl,omitempty"`
	Loaded  int64     `json:"loaded,omitempty"`
	Total   int64     `json:"total,omitempty"`
	Err     error     `json:"-"`
}

// Options 缓存配置
type Options struct {
	BlobPrefix   string
	MaxBytes     int64
	FetchTimeout time.Duration
}

func (o *Options) fill() {
	if o.BlobPrefix == "" {
		o.BlobPrefix = DefaultBlobPrefix
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
}

// call 同一 URL 的一次下载，所有等待者共享结果
type call struct {
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	revoked bool // 由 Cache.mu 保护
	blobURL string
	err     error
}

// Cache turns remote media URLs into local blob URLs. Each URL is
// downloaded at most once at a time; concurrent callers share the result.
// Downloads run on the cache's own context, so only Close aborts them.
type Cache struct {
	fetcher Fetcher
	store   Store
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	closed   bool
	entries  map[string]model.MediaEntry
	inflight map[string]*call
	status   map[string]model.MediaStatus

	subMu   sync.RWMutex
	subs    map[int]func(Event)
	nextSub int
}

// New 创建媒体缓存
func New(fetcher Fetcher, store Store, opts Options) *Cache {
	opts.fill()
	if store == nil {
		store = NewMemoryStore()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		fetcher:  fetcher,
		store:    store,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[string]model.MediaEntry),
		inflight: make(map[string]*call),
		status:   make(map[string]model.MediaStatus),
		subs:     make(map[int]func(Event)),
	}
}

// IsRemote 是否需要下载
func IsRemote(rawURL string) bool {
	return (strings.HasPrefix(rawURL, "http://") && len(rawURL) > len("http://")) ||
		(strings.HasPrefix(rawURL, "https://") && len(rawURL) > len("https://"))
}

// IsLocal reports URLs that are already playable without the cache:
// data: URIs and same-origin paths.
func IsLocal(rawURL string) bool {
	if strings.HasPrefix(rawURL, "data:") {
		return true
	}
	return strings.HasPrefix(rawURL, "/") && !strings.HasPrefix(rawURL, "//")
}

// BlobURLForKey 存储键对应的本地地址
func (c *Cache) BlobURLForKey(key string) string {
	return c.opts.BlobPrefix + key
}

// Get resolves rawURL to a local blob URL, downloading it if needed.
// ctx bounds how long this caller waits, not the download itself.
func (c *Cache) Get(ctx context.Context, rawURL string) (string, error) {
	if IsLocal(rawURL) {
		return rawURL, nil
	}
	if !IsRemote(rawURL) {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if e, ok := c.entries[rawURL]; ok {
		c.mu.Unlock()
		return e.BlobURL, nil
	}
	cl, ok := c.inflight[rawURL]
	if !ok {
		cl = &call{done: make(chan struct{})}
		cl.ctx, cl.cancel = context.WithTimeout(c.ctx, c.opts.FetchTimeout)
		c.inflight[rawURL] = cl
		c.status[rawURL] = model.MediaStatus{URL: rawURL, State: model.MediaStateDownloading}
		c.wg.Add(1)
		go c.load(rawURL, cl)
	}
	c.mu.Unlock()

	select {
	case <-cl.done:
		return cl.blobURL, cl.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Cache) load(rawURL string, cl *call) {
	defer c.wg.Done()
	defer cl.cancel()
	start := time.Now()

	entry, err := c.resolve(cl.ctx, rawURL)

	c.mu.Lock()
	if c.inflight[rawURL] == cl {
		delete(c.inflight, rawURL)
	}
	orphan := false
	switch {
	case cl.revoked:
		// 撤销后同一 URL 可能已经开始新的下载，此时不动它的数据
		_, restarted := c.inflight[rawURL]
		_, cached := c.entries[rawURL]
		orphan = err == nil && !restarted && !cached
		err = ErrRevoked
	case err != nil:
		c.status[rawURL] = model.MediaStatus{URL: rawURL, State: model.MediaStateError, Error: err.Error()}
	case !c.closed:
		c.entries[rawURL] = entry
		delete(c.status, rawURL)
	}
	c.mu.Unlock()

	if orphan {
		// 下载可能在 Revoke 删除持久化数据之后才写入，这里补删
		if derr := c.store.Delete(context.Background(), entry.Key); derr != nil && !errors.Is(derr, ErrNotFound) {
			logger.Warn("删除已撤销的媒体失败", logger.String("key", entry.Key), logger.ErrorField(derr))
		}
	}
	if err != nil {
		entry = model.MediaEntry{}
	}

	cl.blobURL, cl.err = entry.BlobURL, err
	close(cl.done)

	if err != nil {
		logger.Warn("媒体缓存失败", logger.String("url", rawURL), logger.ErrorField(err))
		c.emit(Event{Type: EventError, URL: rawURL, Err: err})
		return
	}
	logger.Debug("媒体已缓存",
		logger.String("url", rawURL),
		logger.String("key", entry.Key),
		logger.Int64("size", entry.Size),
		logger.Duration("elapsed", time.Since(start)))
	c.emit(Event{Type: EventReady, URL: rawURL, BlobURL: entry.BlobURL, Loaded: entry.Size, Total: entry.Size})
}

// resolve 先查持久化存储，未命中再下载
func (c *Cache) resolve(ctx context.Context, rawURL string) (model.MediaEntry, error) {
	key := Key(rawURL)
	entry, err := c.store.Stat(ctx, key)
	if err == nil {
		entry.BlobURL = c.BlobURLForKey(key)
		return entry, nil
	}
	if !errors.Is(err, ErrNotFound) {
		logger.Warn("读取媒体存储失败，改为重新下载", logger.String("key", key), logger.ErrorField(err))
	}

	resp, err := c.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return model.MediaEntry{}, err
	}
	defer resp.Body.Close()
	if resp.Size > c.opts.MaxBytes {
		return model.MediaEntry{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.Size)
	}

	body := &progressReader{
		r:     resp.Body,
		total: resp.Size,
		limit: c.opts.MaxBytes,
		onProgress: func(loaded, total int64) {
			c.progress(rawURL, loaded, total)
		},
	}
	stored, err := c.store.Put(ctx, model.MediaEntry{
		URL:      rawURL,
		Key:      key,
		MimeType: resp.MimeType,
		Size:     resp.Size,
		CachedAt: time.Now(),
	}, body)
	if err != nil {
		if body.err != nil {
			return model.MediaEntry{}, body.err
		}
		return model.MediaEntry{}, fmt.Errorf("store media %s: %w", key, err)
	}
	stored.BlobURL = c.BlobURLForKey(key)
	return stored, nil
}

func (c *Cache) progress(rawURL string, loaded, total int64) {
	c.mu.Lock()
	if st, ok := c.status[rawURL]; ok && st.State == model.MediaStateDownloading {
		st.Loaded, st.Total = loaded, total
		c.status[rawURL] = st
	}
	c.mu.Unlock()
	c.emit(Event{Type: EventProgress, URL: rawURL, Loaded: loaded, Total: total})
}

// Has 内存中是否已有可用条目
func (c *Cache) Has(rawURL string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[rawURL]
	return ok
}

// BlobURL is the non-blocking lookup used by render paths.
func (c *Cache) BlobURL(rawURL string) (string, bool) {
	if IsLocal(rawURL) {
		return rawURL, true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[rawURL]
	return e.BlobURL, ok
}

// Status 单个 URL 的状态
func (c *Cache) Status(rawURL string) model.MediaStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[rawURL]; ok {
		return model.MediaStatus{URL: rawURL, State: model.MediaStateReady, Loaded: e.Size, Total: e.Size, BlobURL: e.BlobURL}
	}
	if st, ok := c.status[rawURL]; ok {
		return st
	}
	return model.MediaStatus{URL: rawURL, State: model.MediaStateIdle}
}

// Entries 已缓存条目，按 URL 排序
func (c *Cache) Entries() []model.MediaEntry {
	c.mu.RLock()
	out := make([]model.MediaEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// PreloadAll warms the cache for every distinct remote URL without
// waiting. It returns how many URLs were considered.
func (c *Cache) PreloadAll(urls []string) int {
	seen := make(map[string]bool, len(urls))
	n := 0
	for _, u := range urls {
		if seen[u] || !IsRemote(u) {
			continue
		}
		seen[u] = true
		n++
		go func(u string) {
			if _, err := c.Get(c.ctx, u); err != nil && !errors.Is(err, ErrClosed) {
				logger.Debug("预加载失败", logger.String("url", u), logger.ErrorField(err))
			}
		}(u)
	}
	return n
}

// Open returns the bytes of a cached entry by key.
func (c *Cache) Open(ctx context.Context, key string) (io.ReadCloser, model.MediaEntry, error) {
	rc, entry, err := c.store.Open(ctx, key)
	if err != nil {
		return nil, model.MediaEntry{}, err
	}
	entry.BlobURL = c.BlobURLForKey(key)
	return rc, entry, nil
}

// Revoke drops the entry for rawURL from memory and durable storage.
func (c *Cache) Revoke(ctx context.Context, rawURL string) error {
	c.mu.Lock()
	delete(c.entries, rawURL)
	delete(c.status, rawURL)
	c.revokeInflightLocked(rawURL)
	c.mu.Unlock()

	if err := c.store.Delete(ctx, Key(rawURL)); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("revoke %s: %w", rawURL, err)
	}
	return nil
}

// Clear 清空内存与持久化存储
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]model.MediaEntry)
	c.status = make(map[string]model.MediaStatus)
	for u := range c.inflight {
		c.revokeInflightLocked(u)
	}
	c.mu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear media store: %w", err)
	}
	return nil
}

// revokeInflightLocked aborts the download of rawURL, if any. Its waiters
// get ErrRevoked and nothing it fetched is kept.
func (c *Cache) revokeInflightLocked(rawURL string) {
	cl, ok := c.inflight[rawURL]
	if !ok {
		return
	}
	cl.revoked = true
	cl.cancel()
	delete(c.inflight, rawURL)
}

// Subscribe registers fn for cache events.
func (c *Cache) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Cache) emit(e Event) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, fn := range c.subs {
		fn(e)
	}
}

// Close aborts every in-flight download and waits for them to finish.
// Waiters receive the download's context error.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// progressReader 统计已读字节，超出上限时报错
type progressReader struct {
	r          io.Reader
	loaded     int64
	total      int64
	limit      int64
	reported   int64
	err        error
	onProgress func(loaded, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.loaded += int64(n)
	if p.limit > 0 && p.loaded > p.limit {
		p.err = fmt.Errorf("%w: more than %d bytes", ErrTooLarge, p.limit)
		return n, p.err
	}
	if p.onProgress != nil && (p.loaded-p.reported >= progressStep || (err == io.EOF && p.loaded != p.reported)) {
		p.reported = p.loaded
		p.onProgress(p.loaded, p.total)
	}
	if err != nil && err != io.EOF {
		p.err = err
	}
	return n, err
}
