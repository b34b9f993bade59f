package export

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"ReelForge/core/sanitize"
	"ReelForge/core/timeline"
	"ReelForge/model"
)

// VideoSegment 视频轨道上一段需要从源文件截取的片段
type VideoSegment struct {
	ClipID           string  `json:"clipId"`
	SourceURL        string  `json:"sourceUrl"`
	StartTime        float64 `json:"startTime"`
	TrimStart        float64 `json:"trimStart"`
	Duration         float64 `json:"duration"`
	OriginalDuration float64 `json:"originalDuration"`
	Label            string  `json:"label,omitempty"`
}

// AudioSegment 音频轨道上的片段
type AudioSegment struct {
	ClipID           string  `json:"clipId"`
	SourceURL        string  `json:"sourceUrl"`
	StartTime        float64 `json:"startTime"`
	TrimStart        float64 `json:"trimStart"`
	Duration         float64 `json:"duration"`
	OriginalDuration float64 `json:"originalDuration"`
	Volume           float64 `json:"volume"`
}

// TextOverlay 文字叠加
type TextOverlay struct {
	ClipID    string  `json:"clipId"`
	Text      string  `json:"text"`
	StartTime float64 `json:"startTime"`
	Duration  float64 `json:"duration"`
	FontSize  float64 `json:"fontSize,omitempty"`
	Color     string  `json:"color,omitempty"`
}

// TrackPlan is one track's contribution, in timeline order.
type TrackPlan struct {
	TrackID string          `json:"trackId"`
	Label   string          `json:"label"`
	Type    model.TrackType `json:"type"`
	Muted   bool            `json:"muted,omitempty"`
	Video   []VideoSegment  `json:"video,omitempty"`
	Audio   []AudioSegment  `json:"audio,omitempty"`
	Text    []TextOverlay   `json:"text,omitempty"`
}

// Plan is everything an encoder needs to render the project. Track order
// is the render order.
type Plan struct {
	ProjectName string      `json:"projectName"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	FPS         int         `json:"fps"`
	Duration    float64     `json:"duration"`
	Tracks      []TrackPlan `json:"tracks"`
	Skipped     []string    `json:"skipped,omitempty"`
}

// BuildPlan reads the export view of a timeline state. Clips without a
// usable source are listed in Skipped; muted audio tracks are left out.
func BuildPlan(s timeline.State) Plan {
	p := Plan{
		ProjectName: s.Project.Name,
		Width:       s.Project.Width,
		Height:      s.Project.Height,
		FPS:         s.Project.FPS,
		Duration:    s.TimelineDuration(),
		Tracks:      make([]TrackPlan, 0, len(s.Tracks)),
	}

	for _, track := range s.Tracks {
		if track.Type == model.TrackTypeAudio && track.Muted {
			continue
		}
		tp := TrackPlan{TrackID: track.ID, Label: track.Label, Type: track.Type, Muted: track.Muted}
		for _, c := range s.ClipsForTrack(track.ID) {
			switch track.Type {
			case model.TrackTypeVideo:
				if !sanitize.IsMediaURL(c.SourceURL) {
					p.Skipped = append(p.Skipped, c.ID)
					continue
				}
				tp.Video = append(tp.Video, VideoSegment{
					ClipID:           c.ID,
					SourceURL:        c.SourceURL,
					StartTime:        c.StartTime,
					TrimStart:        c.TrimStart,
					Duration:         c.Duration,
					OriginalDuration: c.OriginalDuration,
					Label:            c.Label,
				})
			case model.TrackTypeAudio:
				if !sanitize.IsMediaURL(c.SourceURL) {
					p.Skipped = append(p.Skipped, c.ID)
					continue
				}
				tp.Audio = append(tp.Audio, AudioSegment{
					ClipID:           c.ID,
					SourceURL:        c.SourceURL,
					StartTime:        c.StartTime,
					TrimStart:        c.TrimStart,
					Duration:         c.Duration,
					OriginalDuration: c.OriginalDuration,
					Volume:           c.Volume,
				})
			case model.TrackTypeText:
				if c.Text == "" {
					p.Skipped = append(p.Skipped, c.ID)
					continue
				}
				tp.Text = append(tp.Text, TextOverlay{
					ClipID:    c.ID,
					Text:      c.Text,
					StartTime: c.StartTime,
					Duration:  c.Duration,
					FontSize:  c.FontSize,
					Color:     c.Color,
				})
			}
		}
		p.Tracks = append(p.Tracks, tp)
	}
	return p
}

// 浮点误差容忍
const tolerance = 1e-6

// Validate checks the consistency guarantees an encoder relies on.
func (p Plan) Validate() error {
	var errs []error
	if p.Width <= 0 || p.Height <= 0 {
		errs = append(errs, fmt.Errorf("invalid output size %dx%d", p.Width, p.Height))
	}
	if p.FPS <= 0 {
		errs = append(errs, fmt.Errorf("invalid fps %d", p.FPS))
	}
	check := func(id string, start, trim, dur, orig float64) {
		switch {
		case dur < model.MinClipDuration-tolerance:
			errs = append(errs, fmt.Errorf("clip %s: duration %.3f below minimum", id, dur))
		case trim < 0:
			errs = append(errs, fmt.Errorf("clip %s: negative trim start", id))
		case start < 0:
			errs = append(errs, fmt.Errorf("clip %s: negative start time", id))
		case orig > 0 && trim+dur > orig+tolerance:
			errs = append(errs, fmt.Errorf("clip %s: trimmed window exceeds source (%.3f > %.3f)", id, trim+dur, orig))
		}
	}
	for _, t := range p.Tracks {
		for _, v := range t.Video {
			check(v.ClipID, v.StartTime, v.TrimStart, v.Duration, v.OriginalDuration)
		}
		for _, a := range t.Audio {
			check(a.ClipID, a.StartTime, a.TrimStart, a.Duration, a.OriginalDuration)
			if a.Volume < 0 {
				errs = append(errs, fmt.Errorf("clip %s: negative volume", a.ClipID))
			}
		}
		for _, o := range t.Text {
			check(o.ClipID, o.StartTime, 0, o.Duration, 0)
		}
	}
	return errors.Join(errs...)
}

// SourceURLs 计划中引用的全部源地址（去重、排序）
func (p Plan) SourceURLs() []string {
	seen := map[string]bool{}
	for _, t := range p.Tracks {
		for _, v := range t.Video {
			seen[v.SourceURL] = true
		}
		for _, a := range t.Audio {
			seen[a.SourceURL] = true
		}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Resolver maps a source URL to a local playable URL (the media cache).
type Resolver interface {
	Get(ctx context.Context, rawURL string) (string, error)
}

// Resolve returns a copy of p whose source URLs point at local blobs.
// Each distinct URL is resolved once; every failure is reported.
func Resolve(ctx context.Context, p Plan, r Resolver) (Plan, error) {
	resolved := make(map[string]string)
	var errs []error
	for _, u := range p.SourceURLs() {
		local, err := r.Get(ctx, u)
		if err != nil {
			errs = append(errs, fmt.Errorf("resolve %s: %w", u, err))
			continue
		}
		resolved[u] = local
	}
	if len(errs) > 0 {
		return p, errors.Join(errs...)
	}

	out := p
	out.Tracks = make([]TrackPlan, len(p.Tracks))
	for i, t := range p.Tracks {
		nt := t
		nt.Video = append([]VideoSegment(nil), t.Video...)
		nt.Audio = append([]AudioSegment(nil), t.Audio...)
		for j := range nt.Video {
			nt.Video[j].SourceURL = resolved[nt.Video[j].SourceURL]
		}
		for j := range nt.Audio {
			nt.Audio[j].SourceURL = resolved[nt.Audio[j].SourceURL]
		}
		out.Tracks[i] = nt
	}
	return out, nil
}
