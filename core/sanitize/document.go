// Package sanitize repairs documents read back from durable storage before
// they reach the live timeline store.
package sanitize

import (
	"ReelForge/model"

	"github.com/google/uuid"
)

// Report 记录一次加载修复所做的改动
type Report struct {
	URLsRepaired   int  `json:"urlsRepaired"`
	URLsDropped    int  `json:"urlsDropped"`
	ClipsDropped   int  `json:"clipsDropped"`
	ClipsFixed     int  `json:"clipsFixed"`
	TracksDropped  int  `json:"tracksDropped"`
	MarkersFixed   int  `json:"markersFixed"`
	IDsReissued    int  `json:"idsReissued"`
	ProjectDefault bool `json:"projectDefault"`
}

// Changed 是否做过任何修复
func (r Report) Changed() bool {
	return r.URLsRepaired+r.URLsDropped+r.ClipsDropped+r.ClipsFixed+
		r.TracksDropped+r.MarkersFixed+r.IDsReissued > 0 || r.ProjectDefault
}

// Document repairs doc in place:
//   - clip source/thumbnail URLs are repaired or dropped
//   - tracks with an unknown type are dropped, missing ids/heights filled
//   - clips without an owning track are dropped (no orphans)
//   - clip type follows its track, trims/durations/start are re-normalised
//   - duplicate ids are re-issued, marker times clamped to >= 0
func Document(doc *model.Document) Report {
	var r Report
	if doc == nil {
		return r
	}

	before := doc.Project
	doc.Project.FillDefaults()
	if doc.Project.ID == "" {
		doc.Project.ID = uuid.NewString()
	}
	r.ProjectDefault = before != doc.Project

	seen := make(map[string]struct{})
	reissue := func(id string) string {
		if id == "" {
			r.IDsReissued++
			id = uuid.NewString()
		} else if _, dup := seen[id]; dup {
			r.IDsReissued++
			id = uuid.NewString()
		}
		seen[id] = struct{}{}
		return id
	}

	trackTypes := make(map[string]model.TrackType, len(doc.Tracks))
	tracks := doc.Tracks[:0]
	for _, t := range doc.Tracks {
		if !t.Type.Valid() {
			r.TracksDropped++
			continue
		}
		// 重复 ID 的轨道无法区分其片段归属，直接丢弃
		if _, dup := trackTypes[t.ID]; dup && t.ID != "" {
			r.TracksDropped++
			continue
		}
		if t.ID == "" {
			r.TracksDropped++
			continue
		}
		seen[t.ID] = struct{}{}
		if t.Height <= 0 {
			t.Height = t.Type.DefaultHeight()
		}
		trackTypes[t.ID] = t.Type
		tracks = append(tracks, t)
	}
	doc.Tracks = tracks

	clips := doc.Clips[:0]
	for _, c := range doc.Clips {
		trackType, ok := trackTypes[c.TrackID]
		if !ok {
			r.ClipsDropped++
			continue
		}
		c.ID = reissue(c.ID)

		fixed := false
		if c.Type != trackType {
			c.Type = trackType
			fixed = true
		}
		if c.Normalize() {
			fixed = true
		}
		if fixed {
			r.ClipsFixed++
		}

		c.SourceURL = repairField(c.SourceURL, &r)
		c.ThumbnailURL = repairField(c.ThumbnailURL, &r)
		clips = append(clips, c)
	}
	doc.Clips = clips

	for i := range doc.Markers {
		m := &doc.Markers[i]
		m.ID = reissue(m.ID)
		if m.Time < 0 {
			m.Time = 0
			r.MarkersFixed++
		}
		if m.Color == "" {
			m.Color = model.MarkerPalette[i%len(model.MarkerPalette)]
			r.MarkersFixed++
		}
	}

	return r
}

func repairField(u string, r *Report) string {
	if u == "" {
		return ""
	}
	out, changed := RepairMediaURL(u)
	if !changed {
		return out
	}
	if out == "" {
		r.URLsDropped++
	} else {
		r.URLsRepaired++
	}
	return out
}
