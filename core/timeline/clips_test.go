package timeline

import (
	"math"
	"math/rand"
	"testing"

	"ReelForge/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestState 一条视频轨道、一条音频轨道、无片段
func newTestState(t *testing.T) (State, string, string) {
	t.Helper()
	s := NewState()
	require.Len(t, s.Tracks, 2)
	return s, s.Tracks[0].ID, s.Tracks[1].ID
}

func mustApply(t *testing.T, s State, cmd Command) (State, Result) {
	t.Helper()
	next, res := Reduce(s, cmd)
	require.False(t, res.Rejected(), "%s rejected: %s", cmd.Name(), res.Reason)
	return next, res
}

func addVideoClip(t *testing.T, s State, trackID string, start, orig float64) (State, string) {
	t.Helper()
	next, res := mustApply(t, s, AddClip{Clip: model.Clip{
		TrackID:          trackID,
		StartTime:        start,
		OriginalDuration: orig,
		SourceURL:        "https://cdn.example.com/a.mp4",
	}})
	return next, res.ID
}

func TestAddClip_Defaults(t *testing.T) {
	s, video, audio := newTestState(t)

	s, id := addVideoClip(t, s, video, 0, 10)
	clip, ok := s.Clip(id)
	require.True(t, ok)
	assert.Equal(t, model.TrackTypeVideo, clip.Type)
	assert.Equal(t, 10.0, clip.Duration)
	assert.Equal(t, 1.0, clip.Volume)

	_, res := Reduce(s, AddClip{Clip: model.Clip{TrackID: audio, Type: model.TrackTypeVideo, OriginalDuration: 3}})
	assert.True(t, res.Rejected(), "type mismatch must be rejected")

	_, res = Reduce(s, AddClip{Clip: model.Clip{TrackID: "missing", OriginalDuration: 3}})
	assert.True(t, res.Rejected())

	s, res = mustApply(t, s, AddClip{Clip: model.Clip{TrackID: video}})
	text, _ := s.Clip(res.ID)
	assert.Equal(t, DefaultClipDuration, text.Duration)
}

func TestSplitClip_Scenario(t *testing.T) {
	s, video, _ := newTestState(t)
	s, id := addVideoClip(t, s, video, 0, 10)

	s, res := mustApply(t, s, SplitClip{ID: id, At: 4})
	require.Len(t, s.Clips, 2)

	left, _ := s.Clip(id)
	right, ok := s.Clip(res.ID)
	require.True(t, ok)

	assert.Equal(t, 0.0, left.StartTime)
	assert.Equal(t, 4.0, left.Duration)
	assert.Equal(t, 6.0, left.TrimEnd)
	assert.Equal(t, 0.0, left.TrimStart)

	assert.Equal(t, 4.0, right.StartTime)
	assert.Equal(t, 6.0, right.Duration)
	assert.Equal(t, 4.0, right.TrimStart)
	assert.Equal(t, 0.0, right.TrimEnd)
	assert.Equal(t, left.SourceURL, right.SourceURL)
	assert.Equal(t, 10.0, right.OriginalDuration)
}

func TestSplitClip_Conservation(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		s, video, _ := newTestState(t)
		start := r.Float64() * 20
		s, id := addVideoClip(t, s, video, start, 1+r.Float64()*30)
		orig, _ := s.Clip(id)

		at := orig.StartTime + model.MinClipDuration + r.Float64()*(orig.Duration-2*model.MinClipDuration)
		next, res := Reduce(s, SplitClip{ID: id, At: at})
		if res.Rejected() {
			continue
		}
		left, _ := next.Clip(id)
		right, _ := next.Clip(res.ID)

		assert.InDelta(t, orig.Duration, left.Duration+right.Duration, 1e-9)
		assert.InDelta(t, left.EndTime(), right.StartTime, 1e-9, "pieces must tile without gap")
		assert.Equal(t, orig.StartTime, left.StartTime)
		assert.InDelta(t, orig.EndTime(), right.EndTime(), 1e-9)
	}
}

func TestSplitClip_OutsideIsRejected(t *testing.T) {
	s, video, _ := newTestState(t)
	s, id := addVideoClip(t, s, video, 2, 5)

	for _, at := range []float64{0, 2, 7, 9, 2.05, 6.95} {
		_, res := Reduce(s, SplitClip{ID: id, At: at})
		assert.True(t, res.Rejected(), "split at %v", at)
	}
}

func TestTrimClip_ShiftsStart(t *testing.T) {
	s, video, _ := newTestState(t)
	s, id := addVideoClip(t, s, video, 2, 10)

	s, res := mustApply(t, s, TrimClip{ID: id, TrimStart: 3, TrimEnd: 2})
	assert.Equal(t, StatusApplied, res.Status)
	c, _ := s.Clip(id)
	assert.Equal(t, 5.0, c.StartTime)
	assert.Equal(t, 5.0, c.Duration)
	assert.Equal(t, 10.0, c.EndTime())

	// 左边缘拖过时间线起点时被截住
	s, res = mustApply(t, s, AddClip{Clip: model.Clip{TrackID: video, StartTime: 1, OriginalDuration: 10, TrimStart: 3}})
	id = res.ID
	s, res = mustApply(t, s, TrimClip{ID: id, TrimStart: 0})
	c, _ = s.Clip(id)
	assert.Equal(t, StatusClamped, res.Status)
	assert.Equal(t, 0.0, c.StartTime)
	assert.Equal(t, 2.0, c.TrimStart)
	assert.Equal(t, 8.0, c.Duration)
}

func TestTrimClip_Bounds(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	s, video, _ := newTestState(t)
	s, id := addVideoClip(t, s, video, 50, 8)

	for i := 0; i < 500; i++ {
		ts := r.Float64()*30 - 10
		te := r.Float64()*30 - 10
		next, _ := Reduce(s, TrimClip{ID: id, TrimStart: ts, TrimEnd: te})
		c, _ := next.Clip(id)

		assert.GreaterOrEqual(t, c.Duration, model.MinClipDuration-1e-9)
		assert.Less(t, c.TrimStart+c.TrimEnd, c.OriginalDuration)
		assert.GreaterOrEqual(t, c.TrimStart, 0.0)
		assert.GreaterOrEqual(t, c.TrimEnd, 0.0)
		assert.GreaterOrEqual(t, c.StartTime, 0.0)
	}

	next, res := Reduce(s, TrimClip{ID: id, TrimStart: math.NaN(), TrimEnd: 100})
	c, _ := next.Clip(id)
	assert.Equal(t, StatusClamped, res.Status)
	assert.InDelta(t, model.MinClipDuration, c.Duration, 1e-9)
}

func TestDuplicateClip(t *testing.T) {
	s, video, _ := newTestState(t)
	s, id := addVideoClip(t, s, video, 1, 4)

	s, res := mustApply(t, s, DuplicateClip{ID: id})
	orig, _ := s.Clip(id)
	dup, ok := s.Clip(res.ID)
	require.True(t, ok)
	assert.NotEqual(t, orig.ID, dup.ID)
	assert.Equal(t, orig.TrackID, dup.TrackID)
	assert.InDelta(t, orig.EndTime()+model.DuplicateGap, dup.StartTime, 1e-9)
	assert.Equal(t, orig.SourceURL, dup.SourceURL)
}

func TestMoveClip_Snapping(t *testing.T) {
	s, video, _ := newTestState(t)
	s, a := addVideoClip(t, s, video, 0, 4)
	s, b := addVideoClip(t, s, video, 10, 2)
	s, _ = addVideoClip(t, s, video, 20, 3)
	require.Equal(t, DefaultZoom, s.Zoom)

	// 10px / 50px/s = 0.2s
	next, _ := mustApply(t, s, MoveClip{ID: b, StartTime: 4.15})
	moved, _ := next.Clip(b)
	assert.Equal(t, 4.0, moved.StartTime, "snaps to end of a")

	next, _ = mustApply(t, s, MoveClip{ID: b, StartTime: 17.9})
	moved, _ = next.Clip(b)
	assert.Equal(t, 18.0, moved.StartTime, "end snaps to start of c")

	next, _ = mustApply(t, s, MoveClip{ID: b, StartTime: 4.5})
	moved, _ = next.Clip(b)
	assert.Equal(t, 4.5, moved.StartTime)

	s, _ = mustApply(t, s, SetSnap{Enabled: false})
	next, _ = mustApply(t, s, MoveClip{ID: b, StartTime: 4.15})
	moved, _ = next.Clip(b)
	assert.Equal(t, 4.15, moved.StartTime)

	next, res := mustApply(t, s, MoveClip{ID: b, StartTime: -3})
	moved, _ = next.Clip(b)
	assert.Equal(t, StatusClamped, res.Status)
	assert.Equal(t, 0.0, moved.StartTime)

	_, res = Reduce(s, MoveClip{ID: a, StartTime: -3})
	assert.True(t, res.Rejected(), "already at zero")
}

func TestSnapTarget_PicksClosest(t *testing.T) {
	s, video, _ := newTestState(t)
	s, _ = addVideoClip(t, s, video, 0, 4)
	s, _ = addVideoClip(t, s, video, 6, 4)

	got, ok := SnapTarget(s, "dragged", video, 4.35, 1.5, 0.5)
	require.True(t, ok)
	assert.Equal(t, 4.5, got, "end aligns with the next clip's start")

	got, ok = SnapTarget(s, "dragged", video, 4.3, 1, 0.5)
	require.True(t, ok)
	assert.Equal(t, 4.0, got)

	_, ok = SnapTarget(s, "dragged", video, 20, 1, 0.5)
	assert.False(t, ok)
}

func TestSnapTarget_SkipsOverlappingCandidates(t *testing.T) {
	s, video, _ := newTestState(t)
	s, _ = addVideoClip(t, s, video, 0, 4)
	s, _ = addVideoClip(t, s, video, 8, 4)
	s, _ = addVideoClip(t, s, video, 4.8, 0.5)

	// 贴住第一个片段的末尾会压到 4.8 处的短片段
	_, ok := SnapTarget(s, "dragged", video, 4.1, 1.5, 0.5)
	assert.False(t, ok)

	// 短片段与后一个片段之间放得下时仍然吸附
	got, ok := SnapTarget(s, "dragged", video, 5.5, 1, 0.5)
	require.True(t, ok)
	assert.InDelta(t, 5.3, got, 1e-9)
}

func TestMoveClip_CrossTrack(t *testing.T) {
	s, video, audio := newTestState(t)
	s, id := addVideoClip(t, s, video, 0, 4)
	s, res := mustApply(t, s, AddTrack{Type: model.TrackTypeVideo})
	video2 := res.ID
	s, _ = mustApply(t, s, SetSnap{Enabled: false})

	next, res := mustApply(t, s, MoveClip{ID: id, TrackID: video2, StartTime: 3})
	c, _ := next.Clip(id)
	assert.Equal(t, StatusApplied, res.Status)
	assert.Equal(t, video2, c.TrackID)

	next, res = mustApply(t, s, MoveClip{ID: id, TrackID: audio, StartTime: 3})
	c, _ = next.Clip(id)
	assert.Equal(t, StatusClamped, res.Status)
	assert.Equal(t, video, c.TrackID, "audio track is not a valid destination")
	assert.Equal(t, 3.0, c.StartTime)

	locked := true
	s, _ = mustApply(t, s, UpdateTrack{ID: video2, Patch: model.TrackPatch{Locked: &locked}})
	next, res = mustApply(t, s, MoveClip{ID: id, TrackID: video2, StartTime: 1})
	c, _ = next.Clip(id)
	assert.Equal(t, StatusClamped, res.Status)
	assert.Equal(t, video, c.TrackID)
}

func TestLockedTrack_RejectsEdits(t *testing.T) {
	s, video, _ := newTestState(t)
	s, id := addVideoClip(t, s, video, 0, 10)
	locked := true
	s, _ = mustApply(t, s, UpdateTrack{ID: video, Patch: model.TrackPatch{Locked: &locked}})

	for _, cmd := range []Command{
		TrimClip{ID: id, TrimStart: 1},
		SplitClip{ID: id, At: 5},
		MoveClip{ID: id, StartTime: 3},
		DeleteClips{IDs: []string{id}},
	} {
		_, res := Reduce(s, cmd)
		assert.True(t, res.Rejected(), cmd.Name())
	}
}

func TestDeleteClips_RippleScenario(t *testing.T) {
	s, video, _ := newTestState(t)
	s, a := addVideoClip(t, s, video, 5, 3)
	s, b := addVideoClip(t, s, video, 8, 2)

	next, _ := mustApply(t, s, DeleteClips{IDs: []string{a}, Ripple: true})
	c, _ := next.Clip(b)
	assert.Equal(t, 5.0, c.StartTime)

	next, _ = mustApply(t, s, DeleteClips{IDs: []string{a}})
	c, _ = next.Clip(b)
	assert.Equal(t, 8.0, c.StartTime, "non-ripple keeps the gap")
}

func TestDeleteClips_RippleShrinksTimeline(t *testing.T) {
	s, video, audio := newTestState(t)
	s, a := addVideoClip(t, s, video, 0, 10)
	s, _ = addVideoClip(t, s, video, 40, 10)
	s, res := mustApply(t, s, AddClip{Clip: model.Clip{TrackID: audio, StartTime: 12, OriginalDuration: 5}})
	other := res.ID
	before := s.TimelineDuration()

	next, _ := mustApply(t, s, DeleteClips{IDs: []string{a}, Ripple: true})
	assert.InDelta(t, before-10, next.TimelineDuration(), 1e-9)

	o, _ := next.Clip(other)
	assert.Equal(t, 12.0, o.StartTime, "other tracks are untouched")
}

func TestDeleteClips_RippleMultiple(t *testing.T) {
	s, video, _ := newTestState(t)
	s, a := addVideoClip(t, s, video, 0, 2)
	s, b := addVideoClip(t, s, video, 2, 3)
	s, c := addVideoClip(t, s, video, 6, 1)
	s, d := addVideoClip(t, s, video, 8, 4)

	next, _ := mustApply(t, s, DeleteClips{IDs: []string{a, c}, Ripple: true})
	require.Len(t, next.Clips, 2)
	cb, _ := next.Clip(b)
	cd, _ := next.Clip(d)
	assert.Equal(t, 0.0, cb.StartTime)
	assert.Equal(t, 5.0, cd.StartTime)
}

func TestDeleteClips_PrunesSelection(t *testing.T) {
	s, video, _ := newTestState(t)
	s, a := addVideoClip(t, s, video, 0, 2)
	s, b := addVideoClip(t, s, video, 3, 2)
	s, _ = mustApply(t, s, ToggleClipSelection{ID: a})
	s, _ = mustApply(t, s, ToggleClipSelection{ID: b})
	require.Equal(t, b, s.SelectedClipID)

	s, _ = mustApply(t, s, DeleteClips{IDs: []string{b}})
	assert.Equal(t, []string{a}, s.SelectedClipIDs)
	assert.Equal(t, a, s.SelectedClipID)

	_, res := Reduce(s, DeleteClips{IDs: []string{"nope"}})
	assert.True(t, res.Rejected())
}

func TestSplitAtPlayhead(t *testing.T) {
	s, video, audio := newTestState(t)
	s, v := addVideoClip(t, s, video, 0, 10)
	s, res := mustApply(t, s, AddClip{Clip: model.Clip{TrackID: audio, StartTime: 2, OriginalDuration: 10}})
	a := res.ID
	s, _ = mustApply(t, s, SetPlayhead{Time: 5})

	all, _ := mustApply(t, s, SplitAtPlayhead{})
	assert.Len(t, all.Clips, 4)

	s, _ = mustApply(t, s, SelectClip{ID: a})
	one, _ := mustApply(t, s, SplitAtPlayhead{})
	assert.Len(t, one.Clips, 3)
	vc, _ := one.Clip(v)
	assert.Equal(t, 10.0, vc.Duration, "unselected clip is left alone")
}

func TestSelection_PrimaryIsLastToggled(t *testing.T) {
	s, video, _ := newTestState(t)
	s, a := addVideoClip(t, s, video, 0, 2)
	s, b := addVideoClip(t, s, video, 3, 2)
	s, c := addVideoClip(t, s, video, 6, 2)

	s, _ = mustApply(t, s, SelectClip{ID: a})
	s, _ = mustApply(t, s, ToggleClipSelection{ID: b})
	s, _ = mustApply(t, s, ToggleClipSelection{ID: c})
	assert.Equal(t, c, s.SelectedClipID)
	assert.Equal(t, []string{a, b, c}, s.SelectedClipIDs)

	s, _ = mustApply(t, s, ToggleClipSelection{ID: c})
	assert.Equal(t, b, s.SelectedClipID)
	assert.Equal(t, []string{a, b}, s.SelectedClipIDs)

	s, _ = mustApply(t, s, SelectClip{ID: c})
	assert.Equal(t, []string{c}, s.SelectedClipIDs)

	s, _ = mustApply(t, s, ClearSelection{})
	assert.Empty(t, s.SelectedClipID)
	assert.Empty(t, s.SelectedClipIDs)
}

func TestMarkers(t *testing.T) {
	s, _, _ := newTestState(t)

	var ids []string
	for i := 0; i < 6; i++ {
		var res Result
		s, res = mustApply(t, s, AddMarker{Time: float64(i)})
		ids = append(ids, res.ID)
	}
	assert.Equal(t, "Marker 1", s.Markers[0].Label)
	assert.Equal(t, "Marker 6", s.Markers[5].Label)
	assert.Equal(t, model.MarkerPalette[0], s.Markers[0].Color)
	assert.Equal(t, model.MarkerPalette[4], s.Markers[4].Color)
	assert.Equal(t, model.MarkerPalette[0], s.Markers[5].Color)

	s, res := mustApply(t, s, AddMarker{Time: -2, Label: "intro"})
	assert.Equal(t, StatusClamped, res.Status)
	assert.Equal(t, 0.0, s.Markers[6].Time)

	neg := -1.0
	s, _ = mustApply(t, s, UpdateMarker{ID: ids[2], Patch: model.MarkerPatch{Time: &neg}})
	assert.Equal(t, 0.0, s.Markers[2].Time)

	s, _ = mustApply(t, s, RemoveMarker{ID: ids[0]})
	assert.Len(t, s.Markers, 6)
	_, res = Reduce(s, RemoveMarker{ID: ids[0]})
	assert.True(t, res.Rejected())
}

func TestRemoveTrack_CascadesClips(t *testing.T) {
	s, video, audio := newTestState(t)
	s, _ = addVideoClip(t, s, video, 0, 2)
	s, _ = addVideoClip(t, s, video, 3, 2)
	s, _ = mustApply(t, s, AddClip{Clip: model.Clip{TrackID: audio, OriginalDuration: 3}})

	s, _ = mustApply(t, s, RemoveTrack{ID: video})
	require.Len(t, s.Tracks, 1)
	for _, c := range s.Clips {
		assert.Equal(t, audio, c.TrackID)
	}
	assert.Len(t, s.Clips, 1)
}

func TestTracks_LabelsAndReorder(t *testing.T) {
	s, _, _ := newTestState(t)
	assert.Equal(t, "Video 1", s.Tracks[0].Label)
	assert.Equal(t, model.VideoTrackHeight, s.Tracks[0].Height)
	assert.Equal(t, model.AudioTrackHeight, s.Tracks[1].Height)

	s, res := mustApply(t, s, AddTrack{Type: model.TrackTypeText})
	text, _ := s.Track(res.ID)
	assert.Equal(t, "Text 1", text.Label)
	assert.Equal(t, model.TextTrackHeight, text.Height)

	s, _ = mustApply(t, s, ReorderTracks{From: 2, To: 0})
	assert.Equal(t, res.ID, s.Tracks[0].ID)

	_, res = Reduce(s, ReorderTracks{From: 0, To: 9})
	assert.True(t, res.Rejected())
	_, res = Reduce(s, AddTrack{Type: "subtitle"})
	assert.True(t, res.Rejected())
}

func TestState_QueriesAndDuration(t *testing.T) {
	s, video, _ := newTestState(t)
	assert.Equal(t, model.TimelineFloor, s.TimelineDuration())

	s, b := addVideoClip(t, s, video, 30, 4)
	s, a := addVideoClip(t, s, video, 2, 4)
	assert.Equal(t, 39.0, s.TimelineDuration())
	assert.Equal(t, 39.0, s.Project.Duration)

	clips := s.ClipsForTrack(video)
	require.Len(t, clips, 2)
	assert.Equal(t, a, clips[0].ID)
	assert.Equal(t, b, clips[1].ID)

	got, ok := s.ClipAtTime(video, 2)
	require.True(t, ok)
	assert.Equal(t, a, got.ID)
	_, ok = s.ClipAtTime(video, 6)
	assert.False(t, ok, "end is exclusive")
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	s, video, _ := newTestState(t)
	s, id := addVideoClip(t, s, video, 0, 10)
	before := s.Clone()

	_, _ = Reduce(s, SplitClip{ID: id, At: 3})
	_, _ = Reduce(s, DeleteClips{IDs: []string{id}, Ripple: true})
	_, _ = Reduce(s, TrimClip{ID: id, TrimStart: 2})
	assert.Equal(t, before, s)
}
