package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"ReelForge/core/timeline"
	"ReelForge/logger"

	"github.com/gorilla/mux"
)

// editorResponse 编辑接口的统一返回
type editorResponse struct {
	Result          *timeline.Result `json:"result,omitempty"`
	State           timeline.State   `json:"state"`
	Duration        float64          `json:"duration"`
	CanUndo         bool             `json:"canUndo"`
	CanRedo         bool             `json:"canRedo"`
	InTransientEdit bool             `json:"inTransientEdit"`
}

func (s *Server) editorState(res *timeline.Result) editorResponse {
	st := s.store.State()
	return editorResponse{
		Result:          res,
		State:           st,
		Duration:        st.TimelineDuration(),
		CanUndo:         s.store.CanUndo(),
		CanRedo:         s.store.CanRedo(),
		InTransientEdit: s.store.InTransientEdit(),
	}
}

// StateHandler 返回完整编辑器状态
func (s *Server) StateHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.editorState(nil))
}

// CommandsHandler 列出可派发的命令名
func (s *Server) CommandsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"commands": timeline.CommandNames()})
}

// DispatchRequest is one editor command: {"type": "move_clip", "payload": {...}}.
type DispatchRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DispatchHandler decodes and applies one command. A rejected command is
// still a 200: it is a no-op, not a failure.
func (s *Server) DispatchHandler(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cmd, err := timeline.DecodeCommand(req.Type, req.Payload)
	if err != nil {
		if errors.Is(err, timeline.ErrUnknownCommand) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}

	res := s.store.Dispatch(cmd)
	if !res.Rejected() {
		logger.Debug("编辑命令已执行",
			logger.String("command", cmd.Name()),
			logger.String("status", string(res.Status)))
	}
	writeJSON(w, http.StatusOK, s.editorState(&res))
}

// UndoHandler 撤销
func (s *Server) UndoHandler(w http.ResponseWriter, r *http.Request) {
	res := s.store.Undo()
	writeJSON(w, http.StatusOK, s.editorState(&res))
}

// RedoHandler 重做
func (s *Server) RedoHandler(w http.ResponseWriter, r *http.Request) {
	res := s.store.Redo()
	writeJSON(w, http.StatusOK, s.editorState(&res))
}

// TransientHandler handles begin|commit|cancel of a drag gesture.
func (s *Server) TransientHandler(w http.ResponseWriter, r *http.Request) {
	var res timeline.Result
	switch mux.Vars(r)["action"] {
	case "begin":
		if s.store.BeginTransientEdit() {
			res = timeline.Result{Status: timeline.StatusApplied}
		} else {
			res = timeline.Result{Status: timeline.StatusRejected, Reason: "edit already in progress"}
		}
	case "commit":
		res = s.store.CommitEdit()
	case "cancel":
		res = s.store.CancelEdit()
	default:
		writeError(w, http.StatusNotFound, "unknown transient action")
		return
	}
	writeJSON(w, http.StatusOK, s.editorState(&res))
}

// DurationHandler 时间线长度
func (s *Server) DurationHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]float64{"duration": s.store.TimelineDuration()})
}

// ActiveHandler lists the clip under t on every track (t defaults to the playhead).
func (s *Server) ActiveHandler(w http.ResponseWriter, r *http.Request) {
	t := s.store.State().Playhead
	if raw := r.URL.Query().Get("t"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid time")
			return
		}
		t = v
	}
	active := s.clock.ActiveAt(t)
	if active == nil {
		active = []timeline.ActiveClip{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"time": t, "active": active})
}

// PlaybackRequest 播放控制
type PlaybackRequest struct {
	Action string  `json:"action"` // play|pause|toggle|seek
	Time   float64 `json:"time"`
}

// PlaybackHandler drives the server-side clock.
func (s *Server) PlaybackHandler(w http.ResponseWriter, r *http.Request) {
	var req PlaybackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var res timeline.Result
	switch req.Action {
	case "play":
		res = s.clock.Play()
	case "pause":
		res = s.clock.Pause()
	case "toggle":
		res = s.clock.Toggle()
	case "seek":
		res = s.clock.Seek(req.Time)
	default:
		writeError(w, http.StatusBadRequest, "unknown playback action")
		return
	}
	writeJSON(w, http.StatusOK, s.editorState(&res))
}
