package timeline

import (
	"math"

	"ReelForge/model"
)

// Command is one state transition. apply mutates a private clone, so
// Reduce stays a pure function of (state, command).
type Command interface {
	// Name 命令名称，用于日志与 dispatch 接口
	Name() string
	// RecordsHistory 为 true 时 store 在执行前保存快照
	RecordsHistory() bool
	apply(s *State) Result
}

// Reduce applies cmd to a clone of s. A rejected command returns s unchanged.
func Reduce(s State, cmd Command) (State, Result) {
	if cmd == nil {
		return s, rejected("nil command")
	}
	next := s.Clone()
	res := cmd.apply(&next)
	if res.Rejected() {
		return s, res
	}
	settle(&next)
	return next, res
}

// ========== 项目与界面参数 ==========

// NewProject 用默认值整体替换当前项目（store 会同时清空历史）
type NewProject struct {
	ProjectName string `json:"name,omitempty"`
}

func (NewProject) Name() string         { return "new_project" }
func (NewProject) RecordsHistory() bool { return false }

func (c NewProject) apply(s *State) Result {
	zoom, snap := s.Zoom, s.SnapEnabled
	*s = NewState()
	s.Zoom, s.SnapEnabled = zoom, snap
	if c.ProjectName != "" {
		s.Project.Name = c.ProjectName
	}
	return applied(s.Project.ID)
}

// UpdateProject 部分更新项目参数
type UpdateProject struct {
	Patch model.ProjectPatch `json:"patch"`
}

func (UpdateProject) Name() string         { return "update_project" }
func (UpdateProject) RecordsHistory() bool { return false }

func (c UpdateProject) apply(s *State) Result {
	before := s.Project
	c.Patch.Apply(&s.Project)
	if before == s.Project {
		return rejected("unchanged")
	}
	return applied(s.Project.ID)
}

// SetPlayhead 设置播放头位置，限制在 [0, 时间线长度]
type SetPlayhead struct {
	Time float64 `json:"time"`
}

func (SetPlayhead) Name() string         { return "set_playhead" }
func (SetPlayhead) RecordsHistory() bool { return false }

func (c SetPlayhead) apply(s *State) Result {
	t := c.Time
	clamped := false
	if math.IsNaN(t) || t < 0 {
		t, clamped = 0, true
	}
	if d := s.TimelineDuration(); t > d {
		t, clamped = d, true
	}
	s.Playhead = t
	return clampedIf(clamped, "", "playhead out of range")
}

// SetPlaying 播放/暂停
type SetPlaying struct {
	Playing bool `json:"playing"`
}

func (SetPlaying) Name() string         { return "set_playing" }
func (SetPlaying) RecordsHistory() bool { return false }

func (c SetPlaying) apply(s *State) Result {
	if s.IsPlaying == c.Playing {
		return rejected("unchanged")
	}
	s.IsPlaying = c.Playing
	// 在末尾按播放时从头开始
	if c.Playing && s.Playhead >= s.TimelineDuration() {
		s.Playhead = 0
	}
	return applied("")
}

// AdvancePlayhead 播放时推进播放头，到达末尾自动暂停
type AdvancePlayhead struct {
	Delta float64 `json:"delta"`
}

func (AdvancePlayhead) Name() string         { return "advance_playhead" }
func (AdvancePlayhead) RecordsHistory() bool { return false }

func (c AdvancePlayhead) apply(s *State) Result {
	if !s.IsPlaying || c.Delta <= 0 || math.IsNaN(c.Delta) {
		return rejected("not playing")
	}
	t := s.Playhead + c.Delta
	if d := s.TimelineDuration(); t >= d {
		s.Playhead = d
		s.IsPlaying = false
		return Result{Status: StatusClamped, Reason: "reached end"}
	}
	s.Playhead = t
	return applied("")
}

// SetZoom 设置缩放（像素/秒）
type SetZoom struct {
	Zoom float64 `json:"zoom"`
}

func (SetZoom) Name() string         { return "set_zoom" }
func (SetZoom) RecordsHistory() bool { return false }

func (c SetZoom) apply(s *State) Result {
	z := c.Zoom
	if math.IsNaN(z) {
		return rejected("invalid zoom")
	}
	clamped := false
	if z < MinZoom {
		z, clamped = MinZoom, true
	}
	if z > MaxZoom {
		z, clamped = MaxZoom, true
	}
	s.Zoom = z
	return clampedIf(clamped, "", "zoom out of range")
}

// SetSnap 开关磁吸
type SetSnap struct {
	Enabled bool `json:"enabled"`
}

func (SetSnap) Name() string         { return "set_snap" }
func (SetSnap) RecordsHistory() bool { return false }

func (c SetSnap) apply(s *State) Result {
	s.SnapEnabled = c.Enabled
	return applied("")
}
