package timeline

import (
	"math"
	"slices"
	"sort"

	"ReelForge/model"

	"github.com/google/uuid"
)

// 缩放（像素/秒）范围
const (
	DefaultZoom = 50.0
	MinZoom     = 10.0
	MaxZoom     = 500.0

	// DefaultSnapThresholdPx 吸附阈值（像素），除以缩放得到秒
	DefaultSnapThresholdPx = 10.0
	// DefaultClipDuration 未指定时长的片段（例如文字）默认时长
	DefaultClipDuration = 5.0
)

// newID 生成实体 ID
var newID = uuid.NewString

// State is the canonical editor state. Values handed out by the store are
// never mutated in place; every command works on a clone.
type State struct {
	Project         model.Project  `json:"project"`
	Tracks          []model.Track  `json:"tracks"`
	Clips           []model.Clip   `json:"clips"`
	Markers         []model.Marker `json:"markers"`
	Playhead        float64        `json:"playhead"`
	IsPlaying       bool           `json:"isPlaying"`
	SelectedClipID  string         `json:"selectedClipId"`
	SelectedClipIDs []string       `json:"selectedClipIds"`
	Zoom            float64        `json:"zoom"`
	SnapEnabled     bool           `json:"snapEnabled"`
}

// NewState 创建带默认轨道的初始状态
func NewState() State {
	project := model.Project{ID: newID()}
	project.FillDefaults()

	s := State{
		Project:     project,
		Tracks:      []model.Track{},
		Clips:       []model.Clip{},
		Markers:     []model.Marker{},
		Zoom:        DefaultZoom,
		SnapEnabled: true,
	}
	addTrack(&s, model.TrackTypeVideo, "")
	addTrack(&s, model.TrackTypeAudio, "")
	s.Project.Duration = s.TimelineDuration()
	return s
}

// Clone 深拷贝
func (s State) Clone() State {
	out := s
	out.Tracks = slices.Clone(s.Tracks)
	out.Clips = slices.Clone(s.Clips)
	out.Markers = slices.Clone(s.Markers)
	out.SelectedClipIDs = slices.Clone(s.SelectedClipIDs)
	return out
}

// Snapshot 当前轨道与片段的深拷贝
func (s State) Snapshot() model.Snapshot {
	return model.NewSnapshot(s.Tracks, s.Clips)
}

// Document 导出持久化记录
func (s State) Document() *model.Document {
	project := s.Project
	project.Duration = s.TimelineDuration()
	return &model.Document{
		Project: project,
		Tracks:  append([]model.Track{}, s.Tracks...),
		Clips:   append([]model.Clip{}, s.Clips...),
		Markers: append([]model.Marker{}, s.Markers...),
	}
}

// TimelineDuration is max(30, last clip end + 5): the total span used by
// rulers, export and playback bounds.
func (s State) TimelineDuration() float64 {
	maxEnd := 0.0
	for _, c := range s.Clips {
		maxEnd = math.Max(maxEnd, c.EndTime())
	}
	return math.Max(model.TimelineFloor, maxEnd+model.TimelinePadding)
}

// Track 按 ID 查找轨道
func (s State) Track(id string) (model.Track, bool) {
	if i := s.trackIndex(id); i >= 0 {
		return s.Tracks[i], true
	}
	return model.Track{}, false
}

// Clip 按 ID 查找片段
func (s State) Clip(id string) (model.Clip, bool) {
	if i := s.clipIndex(id); i >= 0 {
		return s.Clips[i], true
	}
	return model.Clip{}, false
}

// ClipsForTrack returns the clips on a track ordered by start time.
func (s State) ClipsForTrack(trackID string) []model.Clip {
	out := make([]model.Clip, 0)
	for _, c := range s.Clips {
		if c.TrackID == trackID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

// ClipAtTime returns the clip on the track whose [start, start+duration) contains t.
func (s State) ClipAtTime(trackID string, t float64) (model.Clip, bool) {
	for _, c := range s.Clips {
		if c.TrackID == trackID && c.Contains(t) {
			return c, true
		}
	}
	return model.Clip{}, false
}

func (s State) trackIndex(id string) int {
	for i := range s.Tracks {
		if s.Tracks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s State) clipIndex(id string) int {
	for i := range s.Clips {
		if s.Clips[i].ID == id {
			return i
		}
	}
	return -1
}

func (s State) trackLocked(trackID string) bool {
	t, ok := s.Track(trackID)
	return ok && t.Locked
}

// pruneSelection 去掉已不存在的片段
func (s *State) pruneSelection() {
	ids := s.SelectedClipIDs
	if len(ids) > 0 {
		ids = make([]string, 0, len(s.SelectedClipIDs))
		for _, id := range s.SelectedClipIDs {
			if s.clipIndex(id) >= 0 {
				ids = append(ids, id)
			}
		}
		s.SelectedClipIDs = ids
	}
	if s.SelectedClipID != "" && s.clipIndex(s.SelectedClipID) < 0 {
		s.SelectedClipID = ""
		if n := len(ids); n > 0 {
			s.SelectedClipID = ids[n-1]
		}
	}
}

// PixelsToSeconds converts a pixel-space drag delta using the zoom factor (px/s).
func PixelsToSeconds(px, zoom float64) float64 {
	if zoom <= 0 {
		zoom = DefaultZoom
	}
	return px / zoom
}
