package model

// TrackType 轨道类型，创建后不可修改
type TrackType string

const (
	TrackTypeVideo TrackType = "video"
	TrackTypeAudio TrackType = "audio"
	TrackTypeText  TrackType = "text"
)

// 各类型轨道的默认高度
const (
	VideoTrackHeight = 64
	AudioTrackHeight = 48
	TextTrackHeight  = 40
)

// Valid 判断轨道类型是否合法
func (t TrackType) Valid() bool {
	switch t {
	case TrackTypeVideo, TrackTypeAudio, TrackTypeText:
		return true
	}
	return false
}

// DefaultHeight 返回该类型轨道的默认高度
func (t TrackType) DefaultHeight() int {
	switch t {
	case TrackTypeAudio:
		return AudioTrackHeight
	case TrackTypeText:
		return TextTrackHeight
	default:
		return VideoTrackHeight
	}
}

// LabelPrefix 自动编号时使用的名称前缀
func (t TrackType) LabelPrefix() string {
	switch t {
	case TrackTypeAudio:
		return "Audio"
	case TrackTypeText:
		return "Text"
	default:
		return "Video"
	}
}

// Track represents one lane of the timeline. Track order is the z-order.
type Track struct {
	ID     string    `json:"id"`
	Type   TrackType `json:"type"`
	Label  string    `json:"label"`
	Muted  bool      `json:"muted"`
	Locked bool      `json:"locked"`
	Height int       `json:"height"`
}

// TrackPatch 轨道的部分更新，nil 字段表示不修改
type TrackPatch struct {
	Label  *string `json:"label,omitempty"`
	Muted  *bool   `json:"muted,omitempty"`
	Locked *bool   `json:"locked,omitempty"`
	Height *int    `json:"height,omitempty"`
}

// Apply 将补丁应用到轨道上（type 字段不可修改）
func (p TrackPatch) Apply(t *Track) {
	if p.Label != nil {
		t.Label = *p.Label
	}
	if p.Muted != nil {
		t.Muted = *p.Muted
	}
	if p.Locked != nil {
		t.Locked = *p.Locked
	}
	if p.Height != nil && *p.Height > 0 {
		t.Height = *p.Height
	}
}
