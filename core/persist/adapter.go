package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"ReelForge/core/sanitize"
	"ReelForge/core/timeline"
	"ReelForge/logger"
	"ReelForge/model"
)

// ErrNoDocument 存储中还没有项目记录
var ErrNoDocument = errors.New("no persisted document")

// Adapter reads and writes the single persisted project record.
type Adapter interface {
	Load(ctx context.Context) (*model.Document, error)
	Save(ctx context.Context, doc *model.Document) error
}

// Watcher delivers documents written by other instances. Watch blocks
// until ctx is done.
type Watcher interface {
	Watch(ctx context.Context, fn func(*model.Document)) error
}

// Hydrate loads the persisted document once at startup, repairs it and
// merges it into the store. A missing document leaves the defaults.
func Hydrate(ctx context.Context, st *timeline.Store, a Adapter) (sanitize.Report, error) {
	doc, err := a.Load(ctx)
	if errors.Is(err, ErrNoDocument) {
		logger.Info("未找到已保存的项目，使用默认项目")
		return sanitize.Report{}, nil
	}
	if err != nil {
		return sanitize.Report{}, err
	}

	rep := sanitize.Document(doc)
	if rep.Changed() {
		logger.Warn("项目数据已修复",
			logger.Int("urlsRepaired", rep.URLsRepaired),
			logger.Int("urlsDropped", rep.URLsDropped),
			logger.Int("clipsDropped", rep.ClipsDropped),
			logger.Int("clipsFixed", rep.ClipsFixed),
			logger.Int("tracksDropped", rep.TracksDropped))
	}
	st.Merge(doc, timeline.OriginRemote)
	return rep, nil
}

// Mirror writes the full document after every local or history change.
// Writes are coalesced: only the newest pending document is saved.
// Remote changes and unchanged content are never written back.
type Mirror struct {
	adapter    Adapter
	instanceID string
	timeout    time.Duration

	mu      sync.Mutex
	last    []byte
	pending *model.Document

	saveMu sync.Mutex
	signal chan struct{}
	done   chan struct{}
	unsub  func()
	wg     sync.WaitGroup
}

// NewMirror subscribes to st and starts the writer goroutine.
func NewMirror(st *timeline.Store, a Adapter, instanceID string) *Mirror {
	m := &Mirror{
		adapter:    a,
		instanceID: instanceID,
		timeout:    10 * time.Second,
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	m.last = contentKey(st.Document())
	m.unsub = st.Subscribe(m.onChange)

	m.wg.Add(1)
	go m.loop()
	return m
}

func (m *Mirror) onChange(c timeline.Change) {
	if c.Transient {
		return
	}
	doc := c.State.Document()
	key := contentKey(doc)

	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Origin == timeline.OriginRemote {
		// 远端内容即当前已持久化内容
		m.last = key
		m.pending = nil
		return
	}
	if bytes.Equal(key, m.last) {
		m.pending = nil
		return
	}
	m.pending = doc

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *Mirror) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case <-m.signal:
			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			_ = m.Flush(ctx)
			cancel()
		}
	}
}

// Flush writes the pending document, if any. Save errors are logged and
// returned; the document stays pending for the next change.
func (m *Mirror) Flush(ctx context.Context) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.Lock()
	doc := m.pending
	m.pending = nil
	m.mu.Unlock()
	if doc == nil {
		return nil
	}

	key := contentKey(doc)
	doc.Origin = m.instanceID
	doc.SavedAt = time.Now().UnixMilli()
	if err := m.adapter.Save(ctx, doc); err != nil {
		logger.Warn("保存项目失败，内存状态保持不变", logger.ErrorField(err))
		m.mu.Lock()
		if m.pending == nil {
			doc.Origin, doc.SavedAt = "", 0
			m.pending = doc
		}
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.last = key
	m.mu.Unlock()
	return nil
}

// Close stops the writer after a final flush.
func (m *Mirror) Close(ctx context.Context) error {
	m.unsub()
	close(m.done)
	m.wg.Wait()
	return m.Flush(ctx)
}

// Sync merges documents written by other instances into st. Documents
// carrying this instance's id, or matching the live content, are ignored.
// Conflicts resolve as last write wins.
func Sync(ctx context.Context, st *timeline.Store, w Watcher, instanceID string) error {
	return w.Watch(ctx, func(doc *model.Document) {
		if doc == nil || doc.Origin == instanceID {
			return
		}
		rep := sanitize.Document(doc)
		if bytes.Equal(contentKey(doc), contentKey(st.Document())) {
			return
		}
		logger.Info("合并其他实例写入的项目",
			logger.String("origin", doc.Origin),
			logger.Int64("savedAt", doc.SavedAt),
			logger.Bool("repaired", rep.Changed()))
		st.Merge(doc, timeline.OriginRemote)
	})
}

// contentKey 文档内容的比较键，忽略写入者信息与派生时长
func contentKey(doc *model.Document) []byte {
	if doc == nil {
		return nil
	}
	d := doc.Clone()
	d.Origin, d.SavedAt, d.Project.Duration = "", 0, 0
	if d.Tracks == nil {
		d.Tracks = []model.Track{}
	}
	if d.Clips == nil {
		d.Clips = []model.Clip{}
	}
	if d.Markers == nil {
		d.Markers = []model.Marker{}
	}
	b, _ := json.Marshal(d)
	return b
}
