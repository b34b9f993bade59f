package timeline

// SelectClip replaces the selection with a single clip. An empty ID clears it.
type SelectClip struct {
	ID string `json:"id"`
}

func (SelectClip) Name() string         { return "select_clip" }
func (SelectClip) RecordsHistory() bool { return false }

func (c SelectClip) apply(s *State) Result {
	if c.ID == "" {
		return ClearSelection{}.apply(s)
	}
	if s.clipIndex(c.ID) < 0 {
		return rejected("clip not found")
	}
	s.SelectedClipID = c.ID
	s.SelectedClipIDs = []string{c.ID}
	return applied(c.ID)
}

// ToggleClipSelection adds a clip to or removes it from the multi-selection.
// The clip toggled in last becomes the primary selection.
type ToggleClipSelection struct {
	ID string `json:"id"`
}

func (ToggleClipSelection) Name() string         { return "toggle_clip_selection" }
func (ToggleClipSelection) RecordsHistory() bool { return false }

func (c ToggleClipSelection) apply(s *State) Result {
	if s.clipIndex(c.ID) < 0 {
		return rejected("clip not found")
	}
	ids := make([]string, 0, len(s.SelectedClipIDs)+1)
	found := false
	for _, id := range s.SelectedClipIDs {
		if id == c.ID {
			found = true
			continue
		}
		ids = append(ids, id)
	}
	if found {
		s.SelectedClipIDs = ids
		if s.SelectedClipID == c.ID {
			s.SelectedClipID = ""
			if n := len(ids); n > 0 {
				s.SelectedClipID = ids[n-1]
			}
		}
		return applied("")
	}
	s.SelectedClipIDs = append(ids, c.ID)
	s.SelectedClipID = c.ID
	return applied(c.ID)
}

// ClearSelection 清空选择
type ClearSelection struct{}

func (ClearSelection) Name() string         { return "clear_selection" }
func (ClearSelection) RecordsHistory() bool { return false }

func (ClearSelection) apply(s *State) Result {
	if s.SelectedClipID == "" && len(s.SelectedClipIDs) == 0 {
		return rejected("unchanged")
	}
	s.SelectedClipID = ""
	s.SelectedClipIDs = []string{}
	return applied("")
}

// selectedIDs 多选列表，兼容只设置了主选中片段的情况
func selectedIDs(s *State) []string {
	ids := append([]string(nil), s.SelectedClipIDs...)
	if s.SelectedClipID == "" {
		return ids
	}
	for _, id := range ids {
		if id == s.SelectedClipID {
			return ids
		}
	}
	return append(ids, s.SelectedClipID)
}
