package timeline

import (
	"fmt"

	"ReelForge/model"
)

// addTrack 追加一条轨道，未指定名称时按类型自动编号
func addTrack(s *State, typ model.TrackType, label string) string {
	if label == "" {
		n := 1
		for _, t := range s.Tracks {
			if t.Type == typ {
				n++
			}
		}
		label = fmt.Sprintf("%s %d", typ.LabelPrefix(), n)
	}
	track := model.Track{
		ID:     newID(),
		Type:   typ,
		Label:  label,
		Height: typ.DefaultHeight(),
	}
	s.Tracks = append(s.Tracks, track)
	return track.ID
}

// AddTrack 新建轨道
type AddTrack struct {
	Type  model.TrackType `json:"type"`
	Label string          `json:"label,omitempty"`
}

func (AddTrack) Name() string         { return "add_track" }
func (AddTrack) RecordsHistory() bool { return false }

func (c AddTrack) apply(s *State) Result {
	if !c.Type.Valid() {
		return rejected("invalid track type")
	}
	return applied(addTrack(s, c.Type, c.Label))
}

// RemoveTrack deletes a track and every clip on it.
type RemoveTrack struct {
	ID string `json:"id"`
}

func (RemoveTrack) Name() string         { return "remove_track" }
func (RemoveTrack) RecordsHistory() bool { return true }

func (c RemoveTrack) apply(s *State) Result {
	idx := s.trackIndex(c.ID)
	if idx < 0 {
		return rejected("track not found")
	}
	s.Tracks = append(s.Tracks[:idx], s.Tracks[idx+1:]...)

	clips := s.Clips[:0]
	for _, clip := range s.Clips {
		if clip.TrackID != c.ID {
			clips = append(clips, clip)
		}
	}
	s.Clips = clips
	s.pruneSelection()
	return applied(c.ID)
}

// UpdateTrack 部分更新轨道（类型不可改）
type UpdateTrack struct {
	ID    string           `json:"id"`
	Patch model.TrackPatch `json:"patch"`
}

func (UpdateTrack) Name() string         { return "update_track" }
func (UpdateTrack) RecordsHistory() bool { return false }

func (c UpdateTrack) apply(s *State) Result {
	idx := s.trackIndex(c.ID)
	if idx < 0 {
		return rejected("track not found")
	}
	before := s.Tracks[idx]
	c.Patch.Apply(&s.Tracks[idx])
	if before == s.Tracks[idx] {
		return rejected("unchanged")
	}
	return applied(c.ID)
}

// ReorderTracks 移动轨道位置（影响渲染层级，不影响时间）
type ReorderTracks struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func (ReorderTracks) Name() string         { return "reorder_tracks" }
func (ReorderTracks) RecordsHistory() bool { return false }

func (c ReorderTracks) apply(s *State) Result {
	n := len(s.Tracks)
	if c.From < 0 || c.From >= n || c.To < 0 || c.To >= n {
		return rejected("index out of range")
	}
	if c.From == c.To {
		return rejected("unchanged")
	}
	t := s.Tracks[c.From]
	s.Tracks = append(s.Tracks[:c.From], s.Tracks[c.From+1:]...)
	s.Tracks = append(s.Tracks[:c.To], append([]model.Track{t}, s.Tracks[c.To:]...)...)
	return applied(t.ID)
}
