package timeline

import (
	"fmt"
	"math"

	"ReelForge/model"
)

// AddMarker 添加标记，未指定名称时自动命名 "Marker N"，颜色按创建顺序循环
type AddMarker struct {
	Time  float64 `json:"time"`
	Label string  `json:"label,omitempty"`
}

func (AddMarker) Name() string         { return "add_marker" }
func (AddMarker) RecordsHistory() bool { return false }

func (c AddMarker) apply(s *State) Result {
	t := c.Time
	clamped := false
	if math.IsNaN(t) || t < 0 {
		t, clamped = 0, true
	}
	n := len(s.Markers)
	label := c.Label
	if label == "" {
		label = fmt.Sprintf("Marker %d", n+1)
	}
	m := model.Marker{
		ID:    newID(),
		Time:  t,
		Label: label,
		Color: model.MarkerPalette[n%len(model.MarkerPalette)],
	}
	s.Markers = append(s.Markers, m)
	return clampedIf(clamped, m.ID, "marker time below zero")
}

// RemoveMarker 删除标记
type RemoveMarker struct {
	ID string `json:"id"`
}

func (RemoveMarker) Name() string         { return "remove_marker" }
func (RemoveMarker) RecordsHistory() bool { return false }

func (c RemoveMarker) apply(s *State) Result {
	for i, m := range s.Markers {
		if m.ID == c.ID {
			s.Markers = append(s.Markers[:i], s.Markers[i+1:]...)
			return applied(c.ID)
		}
	}
	return rejected("marker not found")
}

// UpdateMarker 部分更新标记
type UpdateMarker struct {
	ID    string            `json:"id"`
	Patch model.MarkerPatch `json:"patch"`
}

func (UpdateMarker) Name() string         { return "update_marker" }
func (UpdateMarker) RecordsHistory() bool { return false }

func (c UpdateMarker) apply(s *State) Result {
	for i := range s.Markers {
		if s.Markers[i].ID != c.ID {
			continue
		}
		before := s.Markers[i]
		c.Patch.Apply(&s.Markers[i])
		if before == s.Markers[i] {
			return rejected("unchanged")
		}
		return applied(c.ID)
	}
	return rejected("marker not found")
}
