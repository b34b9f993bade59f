package persist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ReelForge/core/timeline"
	"ReelForge/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memAdapter 内存适配器，记录保存次数
type memAdapter struct {
	mu    sync.Mutex
	doc   *model.Document
	saves int
	fail  bool
}

func (m *memAdapter) Load(context.Context) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return nil, ErrNoDocument
	}
	return m.doc.Clone(), nil
}

func (m *memAdapter) Save(_ context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("quota exceeded")
	}
	m.saves++
	m.doc = doc.Clone()
	return nil
}

func (m *memAdapter) snapshot() (*model.Document, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Clone(), m.saves
}

// chanWatcher 由测试推送文档
type chanWatcher struct {
	docs chan *model.Document
}

func (w *chanWatcher) Watch(ctx context.Context, fn func(*model.Document)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case doc := <-w.docs:
			fn(doc)
		}
	}
}

func sampleDocument() *model.Document {
	return &model.Document{
		Project: model.Project{ID: "p1", Name: "Saved", FPS: 30, Width: 1080, Height: 1920},
		Tracks:  []model.Track{{ID: "t1", Type: model.TrackTypeVideo, Label: "Video 1", Height: 64}},
		Clips: []model.Clip{{
			ID: "c1", TrackID: "t1", Type: model.TrackTypeVideo,
			StartTime: 0, Duration: 4, OriginalDuration: 4, Volume: 1,
			SourceURL: "https://a.com/x.mp4https://a.com/x.mp4",
		}},
		Markers: []model.Marker{},
	}
}

func TestFileAdapter_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "project.json")
	fa := NewFileAdapter(path)

	_, err := fa.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoDocument)

	doc := sampleDocument()
	require.NoError(t, fa.Save(context.Background(), doc))
	got, err := fa.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	entries, _ := os.ReadDir(filepath.Dir(path))
	assert.Len(t, entries, 1, "no temp files left behind")

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	_, err = fa.Load(context.Background())
	assert.Error(t, err)
}

func TestHydrate_RepairsAndMerges(t *testing.T) {
	st := timeline.New()
	a := &memAdapter{doc: sampleDocument()}

	rep, err := Hydrate(context.Background(), st, a)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.URLsRepaired)

	c, ok := st.Clip("c1")
	require.True(t, ok)
	assert.Equal(t, "https://a.com/x.mp4", c.SourceURL)
	assert.Equal(t, "Saved", st.State().Project.Name)
	assert.False(t, st.CanUndo())

	empty := timeline.New()
	_, err = Hydrate(context.Background(), empty, &memAdapter{})
	require.NoError(t, err)
	assert.Len(t, empty.State().Tracks, 2)
}

func TestMirror_WritesLocalChanges(t *testing.T) {
	st := timeline.New()
	a := &memAdapter{}
	m := NewMirror(st, a, "instance-a")
	video := st.State().Tracks[0].ID

	res := st.Dispatch(timeline.AddClip{Clip: model.Clip{TrackID: video, OriginalDuration: 3}})
	require.False(t, res.Rejected())
	require.NoError(t, m.Close(context.Background()))

	doc, saves := a.snapshot()
	require.NotNil(t, doc)
	assert.GreaterOrEqual(t, saves, 1)
	assert.Equal(t, "instance-a", doc.Origin)
	assert.NotZero(t, doc.SavedAt)
	require.Len(t, doc.Clips, 1)
	assert.Equal(t, res.ID, doc.Clips[0].ID)
}

func TestMirror_SkipsUnchangedAndTransient(t *testing.T) {
	st := timeline.New()
	a := &memAdapter{}
	m := NewMirror(st, a, "instance-a")
	defer m.Close(context.Background())
	video := st.State().Tracks[0].ID

	id := st.Dispatch(timeline.AddClip{Clip: model.Clip{TrackID: video, OriginalDuration: 3}}).ID
	require.NoError(t, m.Flush(context.Background()))
	require.Eventually(t, func() bool { _, n := a.snapshot(); return n == 1 }, time.Second, 5*time.Millisecond)

	// 播放头与缩放不属于文档内容
	st.Dispatch(timeline.SetPlayhead{Time: 2})
	st.Dispatch(timeline.SetZoom{Zoom: 200})
	require.NoError(t, m.Flush(context.Background()))
	_, saves := a.snapshot()
	assert.Equal(t, 1, saves)

	st.BeginTransientEdit()
	st.Dispatch(timeline.MoveClip{ID: id, StartTime: 5, Transient: true})
	st.Dispatch(timeline.MoveClip{ID: id, StartTime: 6, Transient: true})
	require.NoError(t, m.Flush(context.Background()))
	_, saves = a.snapshot()
	assert.Equal(t, 1, saves, "gesture frames are not persisted")

	st.CommitEdit()
	require.NoError(t, m.Flush(context.Background()))
	require.Eventually(t, func() bool { _, n := a.snapshot(); return n == 2 }, time.Second, 5*time.Millisecond)
	doc, _ := a.snapshot()
	assert.Equal(t, 6.0, doc.Clips[0].StartTime)
}

func TestMirror_SaveFailureIsSwallowed(t *testing.T) {
	st := timeline.New()
	a := &memAdapter{fail: true}
	m := NewMirror(st, a, "instance-a")
	defer m.Close(context.Background())
	video := st.State().Tracks[0].ID

	res := st.Dispatch(timeline.AddClip{Clip: model.Clip{TrackID: video, OriginalDuration: 3}})
	require.False(t, res.Rejected(), "edits succeed while storage is failing")
	assert.Len(t, st.State().Clips, 1)

	// 等待后台写入失败后把文档放回待写
	require.Eventually(t, func() bool {
		return m.Flush(context.Background()) != nil
	}, time.Second, 5*time.Millisecond)

	a.mu.Lock()
	a.fail = false
	a.mu.Unlock()
	require.NoError(t, m.Flush(context.Background()))
	doc, saves := a.snapshot()
	assert.Equal(t, 1, saves)
	assert.Len(t, doc.Clips, 1)
}

func TestSync_MergesOtherInstancesOnly(t *testing.T) {
	st := timeline.New()
	a := &memAdapter{}
	m := NewMirror(st, a, "instance-a")
	defer m.Close(context.Background())

	w := &chanWatcher{docs: make(chan *model.Document)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Sync(ctx, st, w, "instance-a")

	own := sampleDocument()
	own.Origin = "instance-a"
	own.Project.Name = "Echo"
	w.docs <- own

	remote := sampleDocument()
	remote.Origin = "instance-b"
	w.docs <- remote

	require.Eventually(t, func() bool {
		return st.State().Project.Name == "Saved"
	}, time.Second, 5*time.Millisecond)
	c, _ := st.Clip("c1")
	assert.Equal(t, "https://a.com/x.mp4", c.SourceURL, "remote documents are sanitized")

	require.NoError(t, m.Flush(context.Background()))
	_, saves := a.snapshot()
	assert.Equal(t, 0, saves, "merged remote content is not echoed back")
}

func TestFileAdapter_WatchSeesOtherWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.json")
	reader := NewFileAdapter(path)
	writer := NewFileAdapter(path)

	got := make(chan *model.Document, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	go func() {
		close(ready)
		_ = reader.Watch(ctx, func(doc *model.Document) { got <- doc })
	}()
	<-ready
	time.Sleep(100 * time.Millisecond)

	doc := sampleDocument()
	doc.Origin = "instance-b"
	require.NoError(t, writer.Save(context.Background(), doc))

	select {
	case d := <-got:
		assert.Equal(t, "instance-b", d.Origin)
		assert.Equal(t, "c1", d.Clips[0].ID)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not report the write")
	}
}
