package export

import (
	"fmt"
	"math"
	"strings"
)

// EDL renders the plan as a CMX3600 edit decision list. Video events come
// first in track order, then audio; record times are timeline positions.
func (p Plan) EDL() string {
	fps := p.FPS
	if fps <= 0 {
		fps = 30
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n", p.ProjectName)
	b.WriteString("FCM: NON-DROP FRAME\n\n")

	n := 0
	event := func(channel string, trim, dur, start float64, name, source string) {
		n++
		fmt.Fprintf(&b, "%03d  %-8s %-5s C        %s %s %s %s\n",
			n, "AX", channel,
			timecode(trim, fps), timecode(trim+dur, fps),
			timecode(start, fps), timecode(start+dur, fps))
		if name != "" {
			fmt.Fprintf(&b, "* FROM CLIP NAME:  %s\n", name)
		}
		fmt.Fprintf(&b, "* SOURCE FILE:  %s\n", source)
	}

	for _, t := range p.Tracks {
		for _, v := range t.Video {
			event("V", v.TrimStart, v.Duration, v.StartTime, v.Label, v.SourceURL)
		}
	}
	for _, t := range p.Tracks {
		for _, a := range t.Audio {
			event("A", a.TrimStart, a.Duration, a.StartTime, "", a.SourceURL)
		}
	}
	return b.String()
}

// timecode 秒转 HH:MM:SS:FF
func timecode(sec float64, fps int) string {
	total := int(math.Round(sec * float64(fps)))
	if total < 0 {
		total = 0
	}
	frames := total % fps
	s := total / fps
	return fmt.Sprintf("%02d:%02d:%02d:%02d", s/3600, (s/60)%60, s%60, frames)
}
