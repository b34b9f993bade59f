package timeline

import (
	"reflect"
	"sync"

	"ReelForge/logger"
	"ReelForge/model"
)

// Origin 状态变更的来源
type Origin string

const (
	// OriginLocal 本实例的编辑命令
	OriginLocal Origin = "local"
	// OriginRemote 从持久化存储或其他实例合并进来的文档
	OriginRemote Origin = "remote"
	// OriginHistory 撤销/重做
	OriginHistory Origin = "history"
)

// Change is delivered to subscribers after every published state.
// Transient is set for intermediate gesture frames; the commit that ends
// the gesture is published as a normal change.
type Change struct {
	State     State
	Origin    Origin
	Command   string
	Result    Result
	Transient bool
}

// gesture 拖拽过程中的中间帧命令
type gesture interface {
	isTransient() bool
}

func (c UpdateClip) isTransient() bool { return c.Transient }
func (c TrimClip) isTransient() bool   { return c.Transient }
func (c MoveClip) isTransient() bool   { return c.Transient }

// Option 配置 Store
type Option func(*Store)

// WithState 使用给定的初始状态
func WithState(s State) Option {
	return func(st *Store) { st.state = s.Clone() }
}

// WithHistoryLimit 设置历史上限
func WithHistoryLimit(n int) Option {
	return func(st *Store) { st.history = NewHistory(n) }
}

// WithSnapThresholdPx sets the default snap distance for MoveClip commands
// that do not carry their own.
func WithSnapThresholdPx(px float64) Option {
	return func(st *Store) {
		if px > 0 {
			st.snapPx = px
		}
	}
}

// Store is the single writer of timeline state. Every mutation goes
// through Dispatch, Undo, Redo, the transient edit calls or Merge.
// Subscribers run synchronously in publish order and must not call back
// into the store's mutating methods.
type Store struct {
	mu        sync.Mutex
	state     State
	history   *History
	gestureAt *model.Snapshot
	snapPx    float64

	notifyMu sync.Mutex
	subMu    sync.RWMutex
	subs     map[int]func(Change)
	nextSub  int
}

// New 创建 Store
func New(opts ...Option) *Store {
	st := &Store{
		state:   NewState(),
		history: NewHistory(HistoryLimit),
		snapPx:  DefaultSnapThresholdPx,
		subs:    make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// Subscribe registers fn for every published change and returns a func
// that removes it.
func (st *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	st.subMu.Lock()
	id := st.nextSub
	st.nextSub++
	st.subs[id] = fn
	st.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			st.subMu.Lock()
			delete(st.subs, id)
			st.subMu.Unlock()
		})
	}
}

// publish must be called with st.mu held; it releases it. notifyMu is
// taken before mu is dropped so changes reach subscribers in commit order.
func (st *Store) publish(c Change) {
	st.notifyMu.Lock()
	st.mu.Unlock()
	defer st.notifyMu.Unlock()

	st.subMu.RLock()
	fns := make([]func(Change), 0, len(st.subs))
	for _, fn := range st.subs {
		fns = append(fns, fn)
	}
	st.subMu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

// Dispatch applies cmd. History-significant commands that are not
// rejected push the pre-command snapshot before the new state is
// published. NewProject clears history.
func (st *Store) Dispatch(cmd Command) Result {
	if mv, ok := cmd.(MoveClip); ok && mv.SnapThresholdPx <= 0 {
		mv.SnapThresholdPx = st.snapPx
		cmd = mv
	}

	st.mu.Lock()
	prev := st.state
	next, res := Reduce(prev, cmd)
	if res.Rejected() {
		st.mu.Unlock()
		logger.Debug("编辑命令未执行",
			logger.String("command", cmd.Name()),
			logger.String("reason", res.Reason))
		return res
	}

	if _, ok := cmd.(NewProject); ok {
		st.history.Reset()
		st.gestureAt = nil
	} else if cmd.RecordsHistory() {
		st.history.Push(prev.Snapshot())
	}
	st.state = next

	transient := false
	if g, ok := cmd.(gesture); ok {
		transient = g.isTransient()
	}
	st.publish(Change{State: next.Clone(), Origin: OriginLocal, Command: cmd.Name(), Result: res, Transient: transient})
	return res
}

// Undo restores the previous snapshot. An open gesture is dropped.
func (st *Store) Undo() Result {
	st.mu.Lock()
	st.gestureAt = nil
	snap, ok := st.history.Undo(st.state.Snapshot())
	if !ok {
		st.mu.Unlock()
		return rejected("nothing to undo")
	}
	return st.restore(snap, "undo")
}

// Redo 重做
func (st *Store) Redo() Result {
	st.mu.Lock()
	st.gestureAt = nil
	snap, ok := st.history.Redo()
	if !ok {
		st.mu.Unlock()
		return rejected("nothing to redo")
	}
	return st.restore(snap, "redo")
}

// restore must be called with st.mu held.
func (st *Store) restore(snap model.Snapshot, name string) Result {
	next := st.state.Clone()
	next.Tracks = snap.Tracks
	next.Clips = snap.Clips
	next.pruneSelection()
	settle(&next)
	st.state = next

	res := applied("")
	st.publish(Change{State: next.Clone(), Origin: OriginHistory, Command: name, Result: res})
	return res
}

// BeginTransientEdit opens a gesture: the current tracks and clips become
// the history entry CommitEdit will push. Returns false if a gesture is
// already open.
func (st *Store) BeginTransientEdit() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.gestureAt != nil {
		return false
	}
	snap := st.state.Snapshot()
	st.gestureAt = &snap
	return true
}

// CommitEdit closes the gesture, pushing one history entry if anything
// changed since BeginTransientEdit.
func (st *Store) CommitEdit() Result {
	st.mu.Lock()
	begin := st.gestureAt
	st.gestureAt = nil
	if begin == nil {
		st.mu.Unlock()
		return rejected("no open gesture")
	}
	if snapshotsEqual(*begin, st.state.Snapshot()) {
		st.mu.Unlock()
		return rejected("unchanged")
	}
	st.history.Push(*begin)

	res := applied("")
	st.publish(Change{State: st.state.Clone(), Origin: OriginLocal, Command: "commit_edit", Result: res})
	return res
}

// CancelEdit closes the gesture and puts tracks and clips back to where
// they were when it began.
func (st *Store) CancelEdit() Result {
	st.mu.Lock()
	begin := st.gestureAt
	st.gestureAt = nil
	if begin == nil {
		st.mu.Unlock()
		return rejected("no open gesture")
	}
	if snapshotsEqual(*begin, st.state.Snapshot()) {
		st.mu.Unlock()
		return applied("")
	}

	next := st.state.Clone()
	next.Tracks = begin.Tracks
	next.Clips = begin.Clips
	next.pruneSelection()
	settle(&next)
	st.state = next

	res := applied("")
	st.publish(Change{State: next.Clone(), Origin: OriginLocal, Command: "cancel_edit", Result: res})
	return res
}

// InTransientEdit 是否有未结束的拖拽
func (st *Store) InTransientEdit() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.gestureAt != nil
}

// Merge replaces project, tracks, clips and markers with doc, keeping UI
// parameters (zoom, snap, playhead). It does not touch history and drops
// any open gesture.
func (st *Store) Merge(doc *model.Document, origin Origin) Result {
	if doc == nil {
		return rejected("nil document")
	}
	d := doc.Clone()

	st.mu.Lock()
	next := st.state.Clone()
	next.Project = d.Project
	next.Tracks = nonNil(d.Tracks)
	next.Clips = nonNil(d.Clips)
	next.Markers = nonNil(d.Markers)
	next.pruneSelection()
	settle(&next)
	st.state = next
	st.gestureAt = nil

	res := applied(next.Project.ID)
	st.publish(Change{State: next.Clone(), Origin: origin, Command: "merge", Result: res})
	return res
}

// State 当前状态的副本
func (st *Store) State() State {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.Clone()
}

// Document 当前状态的持久化记录
func (st *Store) Document() *model.Document {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.Document()
}

// TimelineDuration 时间线总长度
func (st *Store) TimelineDuration() float64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.TimelineDuration()
}

// ClipsForTrack 按开始时间排序的轨道片段
func (st *Store) ClipsForTrack(trackID string) []model.Clip {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.ClipsForTrack(trackID)
}

// ClipAtTime 轨道上覆盖 t 的片段
func (st *Store) ClipAtTime(trackID string, t float64) (model.Clip, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.ClipAtTime(trackID, t)
}

// Clip 按 ID 查找片段
func (st *Store) Clip(id string) (model.Clip, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.Clip(id)
}

// Track 按 ID 查找轨道
func (st *Store) Track(id string) (model.Track, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.Track(id)
}

// CanUndo 是否可以撤销
func (st *Store) CanUndo() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.history.CanUndo()
}

// CanRedo 是否可以重做
func (st *Store) CanRedo() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.history.CanRedo()
}

// HistoryLen 历史快照数量
func (st *Store) HistoryLen() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.history.Len()
}

// settle 重新计算派生字段
func settle(s *State) {
	s.Project.Duration = s.TimelineDuration()
	if s.Playhead > s.Project.Duration {
		s.Playhead = s.Project.Duration
	}
}

func snapshotsEqual(a, b model.Snapshot) bool {
	return reflect.DeepEqual(nonNil(a.Tracks), nonNil(b.Tracks)) &&
		reflect.DeepEqual(nonNil(a.Clips), nonNil(b.Clips))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
