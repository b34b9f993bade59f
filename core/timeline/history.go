package timeline

import "ReelForge/model"

// HistoryLimit 历史记录上限，超出后丢弃最旧的快照
const HistoryLimit = 50

// History is a bounded linear undo/redo list of {tracks, clips} snapshots.
//
// pos is the number of entries that can still be undone; pos == len(entries)
// means the live state is at the tip. Undo from the tip records the live
// state in tip, outside the bounded list, so all limit entries stay
// restorable and undo×n followed by redo×n lands on the pre-undo state.
type History struct {
	entries []model.Snapshot
	tip     *model.Snapshot
	pos     int
	limit   int
}

// NewHistory 创建历史记录，limit <= 0 时使用 HistoryLimit
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = HistoryLimit
	}
	return &History{limit: limit}
}

// Push drops any redo state, appends snap and evicts the oldest entry
// once the list exceeds its limit.
func (h *History) Push(snap model.Snapshot) {
	h.entries = append(h.entries[:h.pos], snap)
	h.tip = nil
	if over := len(h.entries) - h.limit; over > 0 {
		h.entries = append([]model.Snapshot(nil), h.entries[over:]...)
	}
	h.pos = len(h.entries)
}

// Undo returns the snapshot to restore, given the live state. ok is false
// when there is nothing to undo.
func (h *History) Undo(current model.Snapshot) (model.Snapshot, bool) {
	if h.pos == 0 {
		return model.Snapshot{}, false
	}
	if h.pos == len(h.entries) {
		live := model.NewSnapshot(current.Tracks, current.Clips)
		h.tip = &live
	}
	h.pos--
	snap := h.entries[h.pos]
	return model.NewSnapshot(snap.Tracks, snap.Clips), true
}

// Redo returns the snapshot undone most recently.
func (h *History) Redo() (model.Snapshot, bool) {
	if !h.CanRedo() {
		return model.Snapshot{}, false
	}
	h.pos++
	snap := *h.tip
	if h.pos < len(h.entries) {
		snap = h.entries[h.pos]
	}
	return model.NewSnapshot(snap.Tracks, snap.Clips), true
}

// CanUndo 是否可以撤销
func (h *History) CanUndo() bool { return h.pos > 0 }

// CanRedo 是否可以重做
func (h *History) CanRedo() bool { return h.pos < len(h.entries) && h.tip != nil }

// Len 当前保存的快照数（不含撤销时记录的当前状态）
func (h *History) Len() int { return len(h.entries) }

// Reset 清空历史
func (h *History) Reset() {
	h.entries = nil
	h.tip = nil
	h.pos = 0
}
