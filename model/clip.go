package model

import "math"

const (
	// MinClipDuration 片段最短时长（秒）
	MinClipDuration = 0.1
	// DuplicateGap 复制片段时与原片段之间的间隔（秒）
	DuplicateGap = 0.1
)

// Clip is a trimmed window onto a media source placed on a track.
// Invariant: Duration = OriginalDuration - TrimStart - TrimEnd, Duration >= MinClipDuration.
type Clip struct {
	ID               string    `json:"id"`
	TrackID          string    `json:"trackId"`
	Type             TrackType `json:"type"`
	StartTime        float64   `json:"startTime"`
	Duration         float64   `json:"duration"`
	OriginalDuration float64   `json:"originalDuration"`
	TrimStart        float64   `json:"trimStart"`
	TrimEnd          float64   `json:"trimEnd"`
	SourceURL        string    `json:"sourceUrl,omitempty"`
	ThumbnailURL     string    `json:"thumbnailUrl,omitempty"`
	Label            string    `json:"label"`
	Volume           float64   `json:"volume"`
	Text             string    `json:"text,omitempty"`
	FontSize         float64   `json:"fontSize,omitempty"`
	Color            string    `json:"color,omitempty"`
}

// EndTime 片段在时间线上的结束时间
func (c Clip) EndTime() float64 {
	return c.StartTime + c.Duration
}

// Contains 判断时间点是否落在 [StartTime, EndTime) 内
func (c Clip) Contains(t float64) bool {
	return t >= c.StartTime && t < c.EndTime()
}

// Normalize 修正片段使其满足不变量，返回是否做过修正
func (c *Clip) Normalize() bool {
	before := *c

	if c.OriginalDuration < MinClipDuration || math.IsNaN(c.OriginalDuration) {
		c.OriginalDuration = math.Max(c.Duration, MinClipDuration)
		if math.IsNaN(c.OriginalDuration) {
			c.OriginalDuration = MinClipDuration
		}
	}
	c.TrimStart = clamp(c.TrimStart, 0, c.OriginalDuration-MinClipDuration)
	c.TrimEnd = clamp(c.TrimEnd, 0, c.OriginalDuration-c.TrimStart-MinClipDuration)
	c.Duration = math.Max(MinClipDuration, c.OriginalDuration-c.TrimStart-c.TrimEnd)
	if c.StartTime < 0 || math.IsNaN(c.StartTime) {
		c.StartTime = 0
	}
	if c.Volume < 0 || math.IsNaN(c.Volume) {
		c.Volume = 0
	}

	return before != *c
}

// ClipPatch 片段的部分更新
type ClipPatch struct {
	StartTime    *float64 `json:"startTime,omitempty"`
	TrimStart    *float64 `json:"trimStart,omitempty"`
	TrimEnd      *float64 `json:"trimEnd,omitempty"`
	SourceURL    *string  `json:"sourceUrl,omitempty"`
	ThumbnailURL *string  `json:"thumbnailUrl,omitempty"`
	Label        *string  `json:"label,omitempty"`
	Volume       *float64 `json:"volume,omitempty"`
	Text         *string  `json:"text,omitempty"`
	FontSize     *float64 `json:"fontSize,omitempty"`
	Color        *string  `json:"color,omitempty"`
}

// Apply 应用补丁，调用方负责之后调用 Normalize
func (p ClipPatch) Apply(c *Clip) {
	if p.StartTime != nil {
		c.StartTime = *p.StartTime
	}
	if p.TrimStart != nil {
		c.TrimStart = *p.TrimStart
	}
	if p.TrimEnd != nil {
		c.TrimEnd = *p.TrimEnd
	}
	if p.SourceURL != nil {
		c.SourceURL = *p.SourceURL
	}
	if p.ThumbnailURL != nil {
		c.ThumbnailURL = *p.ThumbnailURL
	}
	if p.Label != nil {
		c.Label = *p.Label
	}
	if p.Volume != nil {
		c.Volume = *p.Volume
	}
	if p.Text != nil {
		c.Text = *p.Text
	}
	if p.FontSize != nil {
		c.FontSize = *p.FontSize
	}
	if p.Color != nil {
		c.Color = *p.Color
	}
}

func clamp(v, lo, hi float64) float64 {
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
