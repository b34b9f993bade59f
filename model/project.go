package model

import "slices"

// 项目默认参数（竖屏短视频）
const (
	DefaultProjectName = "Untitled Project"
	DefaultFPS         = 30
	DefaultWidth       = 1080
	DefaultHeight      = 1920

	// TimelineFloor 时间线最短长度（秒）
	TimelineFloor = 30.0
	// TimelinePadding 最后一个片段之后的留白（秒）
	TimelinePadding = 5.0
)

// Project holds the global output settings of the editing session.
// Duration is derived from the clips and is never authoritative.
type Project struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Duration float64 `json:"duration"`
	FPS      int     `json:"fps"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
}

// ProjectPatch 项目的部分更新
type ProjectPatch struct {
	Name   *string `json:"name,omitempty"`
	FPS    *int    `json:"fps,omitempty"`
	Width  *int    `json:"width,omitempty"`
	Height *int    `json:"height,omitempty"`
}

// Apply 应用补丁，非正数的尺寸和帧率会被忽略
func (p ProjectPatch) Apply(pr *Project) {
	if p.Name != nil {
		pr.Name = *p.Name
	}
	if p.FPS != nil && *p.FPS > 0 {
		pr.FPS = *p.FPS
	}
	if p.Width != nil && *p.Width > 0 {
		pr.Width = *p.Width
	}
	if p.Height != nil && *p.Height > 0 {
		pr.Height = *p.Height
	}
}

// FillDefaults 补全缺失的项目参数
func (pr *Project) FillDefaults() {
	if pr.Name == "" {
		pr.Name = DefaultProjectName
	}
	if pr.FPS <= 0 {
		pr.FPS = DefaultFPS
	}
	if pr.Width <= 0 {
		pr.Width = DefaultWidth
	}
	if pr.Height <= 0 {
		pr.Height = DefaultHeight
	}
}

// MarkerPalette 标记颜色按创建顺序循环使用
var MarkerPalette = []string{"#f59e0b", "#ef4444", "#22c55e", "#3b82f6", "#a855f7"}

// Marker 时间线上的标注，不影响片段
type Marker struct {
	ID    string  `json:"id"`
	Time  float64 `json:"time"`
	Label string  `json:"label"`
	Color string  `json:"color"`
}

// MarkerPatch 标记的部分更新
type MarkerPatch struct {
	Time  *float64 `json:"time,omitempty"`
	Label *string  `json:"label,omitempty"`
	Color *string  `json:"color,omitempty"`
}

// Apply 应用补丁，时间不会小于 0
func (p MarkerPatch) Apply(m *Marker) {
	if p.Time != nil {
		m.Time = *p.Time
		if m.Time < 0 {
			m.Time = 0
		}
	}
	if p.Label != nil {
		m.Label = *p.Label
	}
	if p.Color != nil {
		m.Color = *p.Color
	}
}

// Snapshot 撤销/重做使用的轨道与片段深拷贝
type Snapshot struct {
	Tracks []Track `json:"tracks"`
	Clips  []Clip  `json:"clips"`
}

// NewSnapshot 深拷贝轨道与片段
func NewSnapshot(tracks []Track, clips []Clip) Snapshot {
	return Snapshot{
		Tracks: slices.Clone(tracks),
		Clips:  slices.Clone(clips),
	}
}

// Document is the persisted record: plain JSON, one per project.
// Origin identifies the writing instance so cross-instance sync can skip its own writes.
type Document struct {
	Project Project  `json:"project"`
	Tracks  []Track  `json:"tracks"`
	Clips   []Clip   `json:"clips"`
	Markers []Marker `json:"markers"`
	Origin  string   `json:"origin,omitempty"`
	SavedAt int64    `json:"savedAt,omitempty"`
}

// Clone 深拷贝文档
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Tracks = slices.Clone(d.Tracks)
	out.Clips = slices.Clone(d.Clips)
	out.Markers = slices.Clone(d.Markers)
	return &out
}
