package timeline

import (
	"math"
	"sort"

	"ReelForge/model"
)

// 浮点比较容差
const epsilon = 1e-9

// AddClip inserts a clip on an existing track of the same type.
type AddClip struct {
	Clip model.Clip `json:"clip"`
}

func (AddClip) Name() string         { return "add_clip" }
func (AddClip) RecordsHistory() bool { return true }

func (c AddClip) apply(s *State) Result {
	clip := c.Clip
	track, ok := s.Track(clip.TrackID)
	if !ok {
		return rejected("track not found")
	}
	if clip.Type == "" {
		clip.Type = track.Type
	}
	if clip.Type != track.Type {
		return rejected("clip type does not match track type")
	}
	if clip.ID == "" || s.clipIndex(clip.ID) >= 0 {
		clip.ID = newID()
	}
	if clip.OriginalDuration <= 0 && clip.Duration <= 0 {
		clip.OriginalDuration = DefaultClipDuration
	}
	if clip.Duration <= 0 {
		clip.Duration = clip.OriginalDuration - clip.TrimStart - clip.TrimEnd
	}
	if clip.Volume == 0 && clip.Type != model.TrackTypeText {
		clip.Volume = 1
	}
	if clip.Label == "" {
		clip.Label = track.Label
	}
	fixed := clip.Normalize()
	s.Clips = append(s.Clips, clip)
	return clampedIf(fixed, clip.ID, "clip normalised")
}

// UpdateClip patches a clip directly. Live drags send it every frame, so it
// never records history; the gesture commit does.
type UpdateClip struct {
	ID        string          `json:"id"`
	Patch     model.ClipPatch `json:"patch"`
	Transient bool            `json:"transient,omitempty"`
}

func (UpdateClip) Name() string         { return "update_clip" }
func (UpdateClip) RecordsHistory() bool { return false }

func (c UpdateClip) apply(s *State) Result {
	idx := s.clipIndex(c.ID)
	if idx < 0 {
		return rejected("clip not found")
	}
	before := s.Clips[idx]
	clip := before
	c.Patch.Apply(&clip)
	fixed := clip.Normalize()
	if clip == before {
		return rejected("unchanged")
	}
	s.Clips[idx] = clip
	return clampedIf(fixed, c.ID, "clip normalised")
}

// TrimClip sets both trims. Moving the left edge shifts StartTime by the
// same delta so the visible content stays under the pointer.
type TrimClip struct {
	ID        string  `json:"id"`
	TrimStart float64 `json:"trimStart"`
	TrimEnd   float64 `json:"trimEnd"`
	Transient bool    `json:"transient,omitempty"`
}

func (TrimClip) Name() string           { return "trim_clip" }
func (c TrimClip) RecordsHistory() bool { return !c.Transient }

func (c TrimClip) apply(s *State) Result {
	idx := s.clipIndex(c.ID)
	if idx < 0 {
		return rejected("clip not found")
	}
	clip := s.Clips[idx]
	if s.trackLocked(clip.TrackID) {
		return rejected("track locked")
	}

	orig := clip.OriginalDuration
	ts := clampRange(c.TrimStart, 0, orig-model.MinClipDuration)
	clamped := ts != c.TrimStart

	start := clip.StartTime + (ts - clip.TrimStart)
	if start < 0 {
		// 左边缘不能拖出时间线起点
		ts = clip.TrimStart - clip.StartTime
		start = 0
		clamped = true
	}
	te := clampRange(c.TrimEnd, 0, orig-ts-model.MinClipDuration)
	if te != c.TrimEnd {
		clamped = true
	}

	next := clip
	next.TrimStart = ts
	next.TrimEnd = te
	next.StartTime = start
	next.Duration = math.Max(model.MinClipDuration, orig-ts-te)
	if next == clip {
		return rejected("unchanged")
	}
	s.Clips[idx] = next
	return clampedIf(clamped, c.ID, "trim out of range")
}

// SplitClip cuts a clip in two at At. The left part keeps the id; the
// right part is a new clip whose id is returned.
type SplitClip struct {
	ID string  `json:"id"`
	At float64 `json:"at"`
}

func (SplitClip) Name() string         { return "split_clip" }
func (SplitClip) RecordsHistory() bool { return true }

func (c SplitClip) apply(s *State) Result {
	idx := s.clipIndex(c.ID)
	if idx < 0 {
		return rejected("clip not found")
	}
	if s.trackLocked(s.Clips[idx].TrackID) {
		return rejected("track locked")
	}
	right, ok := splitAt(s, idx, c.At)
	if !ok {
		return rejected("split point outside clip")
	}
	return applied(right)
}

// splitAt 在 idx 片段的 at 处切分，新片段插在原片段之后
func splitAt(s *State, idx int, at float64) (string, bool) {
	clip := s.Clips[idx]
	if !(clip.StartTime < at && at < clip.EndTime()) {
		return "", false
	}
	left := at - clip.StartTime
	rightDur := clip.Duration - left
	if left < model.MinClipDuration-epsilon || rightDur < model.MinClipDuration-epsilon {
		return "", false
	}

	first := clip
	first.Duration = left
	first.TrimEnd = clip.TrimEnd + rightDur

	second := clip
	second.ID = newID()
	second.StartTime = at
	second.Duration = rightDur
	second.TrimStart = clip.TrimStart + left

	s.Clips[idx] = first
	s.Clips = append(s.Clips[:idx+1], append([]model.Clip{second}, s.Clips[idx+1:]...)...)
	return second.ID, true
}

// SplitAtPlayhead splits the selected clip under the playhead, or every
// unlocked clip under it when nothing is selected.
type SplitAtPlayhead struct{}

func (SplitAtPlayhead) Name() string         { return "split_at_playhead" }
func (SplitAtPlayhead) RecordsHistory() bool { return true }

func (SplitAtPlayhead) apply(s *State) Result {
	at := s.Playhead
	var targets []string
	if len(s.SelectedClipIDs) > 0 || s.SelectedClipID != "" {
		targets = selectedIDs(s)
	} else {
		for _, c := range s.Clips {
			targets = append(targets, c.ID)
		}
	}

	var lastID string
	for _, id := range targets {
		idx := s.clipIndex(id)
		if idx < 0 || s.trackLocked(s.Clips[idx].TrackID) {
			continue
		}
		if right, ok := splitAt(s, idx, at); ok {
			lastID = right
		}
	}
	if lastID == "" {
		return rejected("no clip under playhead")
	}
	return applied(lastID)
}

// DuplicateClip copies a clip right after the original on the same track.
type DuplicateClip struct {
	ID string `json:"id"`
}

func (DuplicateClip) Name() string         { return "duplicate_clip" }
func (DuplicateClip) RecordsHistory() bool { return true }

func (c DuplicateClip) apply(s *State) Result {
	idx := s.clipIndex(c.ID)
	if idx < 0 {
		return rejected("clip not found")
	}
	dup := s.Clips[idx]
	dup.ID = newID()
	dup.StartTime = dup.EndTime() + model.DuplicateGap
	s.Clips = append(s.Clips, dup)
	return applied(dup.ID)
}

// MoveClip relocates a clip, optionally onto another track of the same
// type. With snapping the start is pulled to abut a neighbour on the
// destination track when within SnapThresholdPx/zoom seconds.
type MoveClip struct {
	ID              string  `json:"id"`
	TrackID         string  `json:"trackId,omitempty"`
	StartTime       float64 `json:"startTime"`
	SnapThresholdPx float64 `json:"snapThresholdPx,omitempty"`
	Transient       bool    `json:"transient,omitempty"`
}

func (MoveClip) Name() string           { return "move_clip" }
func (c MoveClip) RecordsHistory() bool { return !c.Transient }

func (c MoveClip) apply(s *State) Result {
	idx := s.clipIndex(c.ID)
	if idx < 0 {
		return rejected("clip not found")
	}
	clip := s.Clips[idx]
	if s.trackLocked(clip.TrackID) {
		return rejected("track locked")
	}
	if math.IsNaN(c.StartTime) {
		return rejected("invalid start time")
	}

	clamped := false
	dest := clip.TrackID
	if c.TrackID != "" && c.TrackID != clip.TrackID {
		t, ok := s.Track(c.TrackID)
		if ok && t.Type == clip.Type && !t.Locked {
			dest = t.ID
		} else {
			clamped = true
		}
	}

	start := c.StartTime
	if s.SnapEnabled {
		px := c.SnapThresholdPx
		if px <= 0 {
			px = DefaultSnapThresholdPx
		}
		if snapped, ok := SnapTarget(*s, clip.ID, dest, start, clip.Duration, PixelsToSeconds(px, s.Zoom)); ok {
			start = snapped
		}
	}
	if start < 0 {
		start = 0
		clamped = true
	}

	next := clip
	next.TrackID = dest
	next.StartTime = start
	if next == clip {
		return rejected("unchanged")
	}
	s.Clips[idx] = next
	return clampedIf(clamped, c.ID, "destination adjusted")
}

// SnapTarget returns the snapped start for a clip of length dur dragged to
// start on trackID: either abutting the end of a neighbour, or ending where
// a neighbour starts, whichever is closer within threshold seconds.
// Candidates that would overlap another clip on the track are skipped.
func SnapTarget(s State, clipID, trackID string, start, dur, threshold float64) (float64, bool) {
	best := start
	bestDist := threshold
	found := false
	overlaps := func(candidate float64) bool {
		for _, other := range s.Clips {
			if other.ID == clipID || other.TrackID != trackID {
				continue
			}
			if candidate < other.EndTime()-epsilon && candidate+dur > other.StartTime+epsilon {
				return true
			}
		}
		return false
	}
	consider := func(candidate float64) {
		if candidate < 0 || overlaps(candidate) {
			return
		}
		if d := math.Abs(candidate - start); d <= bestDist {
			best, bestDist, found = candidate, d, true
		}
	}
	for _, other := range s.Clips {
		if other.ID == clipID || other.TrackID != trackID {
			continue
		}
		consider(other.EndTime())
		consider(other.StartTime - dur)
	}
	return best, found
}

// DeleteClips removes clips. With Ripple, later clips on each affected
// track close the gap left by every removed clip.
type DeleteClips struct {
	IDs    []string `json:"ids"`
	Ripple bool     `json:"ripple,omitempty"`
}

func (DeleteClips) Name() string         { return "delete_clips" }
func (DeleteClips) RecordsHistory() bool { return true }

func (c DeleteClips) apply(s *State) Result {
	remove := make(map[string]bool, len(c.IDs))
	var removed []model.Clip
	for _, id := range c.IDs {
		idx := s.clipIndex(id)
		if idx < 0 || remove[id] || s.trackLocked(s.Clips[idx].TrackID) {
			continue
		}
		remove[id] = true
		removed = append(removed, s.Clips[idx])
	}
	if len(removed) == 0 {
		return rejected("nothing to delete")
	}

	kept := s.Clips[:0]
	for _, clip := range s.Clips {
		if !remove[clip.ID] {
			kept = append(kept, clip)
		}
	}
	s.Clips = kept

	if c.Ripple {
		// 从最右边的被删片段开始向左处理，避免重复平移
		sort.SliceStable(removed, func(i, j int) bool { return removed[i].StartTime > removed[j].StartTime })
		for _, r := range removed {
			for i := range s.Clips {
				clip := &s.Clips[i]
				if clip.TrackID != r.TrackID || clip.StartTime < r.StartTime {
					continue
				}
				clip.StartTime = math.Max(0, clip.StartTime-r.Duration)
			}
		}
	}

	s.pruneSelection()
	return applied("")
}

func clampRange(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if hi < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
