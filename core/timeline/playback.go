package timeline

import (
	"context"
	"time"

	"ReelForge/model"
)

// ActiveClip is a clip covering the queried time, with the offset into its
// source media that a player should be showing.
type ActiveClip struct {
	Track     model.Track `json:"track"`
	Clip      model.Clip  `json:"clip"`
	LocalTime float64     `json:"localTime"`
}

// Clock drives the playhead in real time. It only reads and dispatches
// through the store, so undo while playing simply swaps the clips the
// next tick sees.
type Clock struct {
	store *Store
	fps   int
}

// NewClock fps <= 0 时使用项目帧率
func NewClock(store *Store, fps int) *Clock {
	return &Clock{store: store, fps: fps}
}

// Play 开始播放
func (c *Clock) Play() Result { return c.store.Dispatch(SetPlaying{Playing: true}) }

// Pause 暂停
func (c *Clock) Pause() Result { return c.store.Dispatch(SetPlaying{Playing: false}) }

// Toggle 播放/暂停切换
func (c *Clock) Toggle() Result {
	return c.store.Dispatch(SetPlaying{Playing: !c.store.State().IsPlaying})
}

// Seek 跳转
func (c *Clock) Seek(t float64) Result { return c.store.Dispatch(SetPlayhead{Time: t}) }

// Tick advances the playhead by elapsed while playing. Reaching the end of
// the timeline pauses playback.
func (c *Clock) Tick(elapsed time.Duration) Result {
	return c.store.Dispatch(AdvancePlayhead{Delta: elapsed.Seconds()})
}

// ActiveAt returns, in track order, the clip on each track covering t.
func (c *Clock) ActiveAt(t float64) []ActiveClip {
	return ActiveAt(c.store.State(), t)
}

// ActiveAt 按轨道顺序返回 t 时刻生效的片段
func ActiveAt(s State, t float64) []ActiveClip {
	out := make([]ActiveClip, 0, len(s.Tracks))
	for _, track := range s.Tracks {
		clip, ok := s.ClipAtTime(track.ID, t)
		if !ok {
			continue
		}
		out = append(out, ActiveClip{
			Track:     track,
			Clip:      clip,
			LocalTime: clip.TrimStart + (t - clip.StartTime),
		})
	}
	return out
}

// Run ticks at the frame rate until ctx is done.
func (c *Clock) Run(ctx context.Context) {
	fps := c.fps
	if fps <= 0 {
		fps = c.store.State().Project.FPS
	}
	if fps <= 0 {
		fps = model.DefaultFPS
	}
	interval := time.Second / time.Duration(fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			if c.store.State().IsPlaying {
				c.Tick(elapsed)
			}
		}
	}
}
