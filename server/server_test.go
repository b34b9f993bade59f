package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"ReelForge/config"
	"ReelForge/core/auth"
	"ReelForge/core/mediacache"
	"ReelForge/core/timeline"
	"ReelForge/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv   *Server
	ts    *httptest.Server
	store *timeline.Store
	media *mediacache.Cache
	cfg   *config.Config
}

func newTestEnv(t *testing.T, issuer *auth.Issuer) *testEnv {
	t.Helper()
	cfg := &config.Config{
		MediaBlobPrefix:   "/media/blob/",
		MediaFetchTimeout: 5 * time.Second,
		AdminUser:         "admin",
	}
	store := timeline.New()
	media := mediacache.New(mediacache.NewHTTPFetcher(""), mediacache.NewMemoryStore(), mediacache.Options{})
	srv := New(Options{Config: cfg, Store: store, Media: media, Issuer: issuer})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		media.Close()
	})
	return &testEnv{srv: srv, ts: ts, store: store, media: media, cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) dispatch(t *testing.T, typ string, payload interface{}) editorResponse {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	resp := e.do(t, http.MethodPost, "/api/editor/dispatch", DispatchRequest{Type: typ, Payload: raw}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[editorResponse](t, resp)
}

func TestEditor_DispatchUndoRedo(t *testing.T) {
	e := newTestEnv(t, nil)
	video := e.store.State().Tracks[0].ID

	out := e.dispatch(t, "add_clip", map[string]interface{}{
		"clip": map[string]interface{}{"trackId": video, "originalDuration": 4, "sourceUrl": "https://cdn/a.mp4"},
	})
	require.NotNil(t, out.Result)
	assert.Equal(t, timeline.StatusApplied, out.Result.Status)
	require.Len(t, out.State.Clips, 1)
	assert.True(t, out.CanUndo)
	clipID := out.Result.ID

	out = e.dispatch(t, "split_clip", map[string]interface{}{"id": clipID, "at": 1.5})
	assert.Len(t, out.State.Clips, 2)

	// 无变化的命令是空操作而不是错误
	out = e.dispatch(t, "clear_selection", nil)
	assert.Equal(t, timeline.StatusRejected, out.Result.Status)

	resp := e.do(t, http.MethodPost, "/api/editor/undo", nil, "")
	out = decode[editorResponse](t, resp)
	assert.Len(t, out.State.Clips, 1)
	assert.True(t, out.CanRedo)

	resp = e.do(t, http.MethodPost, "/api/editor/redo", nil, "")
	out = decode[editorResponse](t, resp)
	assert.Len(t, out.State.Clips, 2)

	resp = e.do(t, http.MethodGet, "/api/editor/duration", nil, "")
	assert.Equal(t, map[string]float64{"duration": 30}, decode[map[string]float64](t, resp))
}

func TestEditor_BadRequests(t *testing.T) {
	e := newTestEnv(t, nil)

	resp := e.do(t, http.MethodPost, "/api/editor/dispatch", DispatchRequest{Type: "explode"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode[map[string]string](t, resp)["error"], "explode")

	resp = e.do(t, http.MethodPost, "/api/editor/dispatch", DispatchRequest{Type: "move_clip", Payload: json.RawMessage(`{"startTime":"soon"}`)}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/editor/transient/sideways", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEditor_TransientGesture(t *testing.T) {
	e := newTestEnv(t, nil)
	video := e.store.State().Tracks[0].ID
	id := e.dispatch(t, "add_clip", map[string]interface{}{
		"clip": map[string]interface{}{"trackId": video, "originalDuration": 4},
	}).Result.ID
	historyBefore := e.store.HistoryLen()

	out := decode[editorResponse](t, e.do(t, http.MethodPost, "/api/editor/transient/begin", nil, ""))
	assert.True(t, out.InTransientEdit)
	for _, x := range []float64{2, 4, 6} {
		e.dispatch(t, "move_clip", map[string]interface{}{"id": id, "startTime": x, "transient": true})
	}
	assert.Equal(t, historyBefore, e.store.HistoryLen())

	out = decode[editorResponse](t, e.do(t, http.MethodPost, "/api/editor/transient/commit", nil, ""))
	assert.Equal(t, timeline.StatusApplied, out.Result.Status)
	assert.False(t, out.InTransientEdit)
	assert.Equal(t, historyBefore+1, e.store.HistoryLen())
	assert.Equal(t, 6.0, out.State.Clips[0].StartTime)
}

func TestEditor_PlaybackAndActive(t *testing.T) {
	e := newTestEnv(t, nil)
	video := e.store.State().Tracks[0].ID
	e.dispatch(t, "add_clip", map[string]interface{}{
		"clip": map[string]interface{}{"trackId": video, "startTime": 1, "originalDuration": 4, "trimStart": 0.5},
	})

	out := decode[editorResponse](t, e.do(t, http.MethodPost, "/api/editor/playback", PlaybackRequest{Action: "seek", Time: 2}, ""))
	assert.Equal(t, 2.0, out.State.Playhead)

	resp := e.do(t, http.MethodGet, "/api/editor/active", nil, "")
	active := decode[struct {
		Time   float64               `json:"time"`
		Active []timeline.ActiveClip `json:"active"`
	}](t, resp)
	require.Len(t, active.Active, 1)
	assert.InDelta(t, 1.5, active.Active[0].LocalTime, 1e-9)

	resp = e.do(t, http.MethodPost, "/api/editor/playback", PlaybackRequest{Action: "rewind"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuth_LoginAndMiddleware(t *testing.T) {
	issuer := auth.NewIssuer("test-secret", time.Hour)
	e := newTestEnv(t, issuer)
	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	e.cfg.AdminPasswordHash = hash

	resp := e.do(t, http.MethodGet, "/api/editor/state", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: "admin", Password: "nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: "admin", Password: "hunter2"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := decode[map[string]string](t, resp)["token"]
	require.NotEmpty(t, token)

	resp = e.do(t, http.MethodGet, "/api/editor/state", nil, token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/editor/state?token="+url.QueryEscape(token), nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/editor/state", nil, token+"x")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t, auth.NewIssuer("s", time.Hour))
	resp := e.do(t, http.MethodOptions, "/api/editor/dispatch", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func mediaUpstream(t *testing.T, body string) *httptest.Server {
	t.Helper()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.mp4" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		io.WriteString(w, body)
	}))
	t.Cleanup(up.Close)
	return up
}

func TestMedia_ResolveServeRevoke(t *testing.T) {
	e := newTestEnv(t, nil)
	up := mediaUpstream(t, "0123456789")
	src := up.URL + "/clip.mp4"

	resp := e.do(t, http.MethodGet, "/api/media/resolve?url="+url.QueryEscape(src), nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	blobURL := decode[map[string]string](t, resp)["blobUrl"]
	assert.True(t, strings.HasPrefix(blobURL, "/media/blob/"))

	status := decode[model.MediaStatus](t, e.do(t, http.MethodGet, "/api/media/status?url="+url.QueryEscape(src), nil, ""))
	assert.Equal(t, model.MediaStateReady, status.State)

	resp = e.do(t, http.MethodGet, blobURL, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	data, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "0123456789", string(data))

	req, err := http.NewRequest(http.MethodGet, e.ts.URL+blobURL, nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=2-4")
	ranged, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer ranged.Body.Close()
	assert.Equal(t, http.StatusPartialContent, ranged.StatusCode)
	data, _ = io.ReadAll(ranged.Body)
	assert.Equal(t, "234", string(data))

	resp = e.do(t, http.MethodDelete, "/api/media?url="+url.QueryEscape(src), nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = e.do(t, http.MethodGet, blobURL, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/media/resolve?url="+url.QueryEscape(up.URL+"/missing.mp4"), nil, "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/media/resolve?url=ftp%3A%2F%2Fx", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/media/blob/not-hex", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMedia_PreloadProjectSources(t *testing.T) {
	e := newTestEnv(t, nil)
	up := mediaUpstream(t, "abc")
	video := e.store.State().Tracks[0].ID
	for _, name := range []string{"a.mp4", "b.mp4", "a.mp4"} {
		e.dispatch(t, "add_clip", map[string]interface{}{
			"clip": map[string]interface{}{"trackId": video, "originalDuration": 2, "sourceUrl": up.URL + "/" + name},
		})
	}

	resp := e.do(t, http.MethodPost, "/api/media/preload", nil, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 2, decode[map[string]int](t, resp)["queued"])

	require.Eventually(t, func() bool {
		return e.media.Has(up.URL+"/a.mp4") && e.media.Has(up.URL+"/b.mp4")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProxyHandler(t *testing.T) {
	e := newTestEnv(t, nil)
	up := mediaUpstream(t, "proxied-bytes")

	resp := e.do(t, http.MethodGet, "/api/proxy?url="+url.QueryEscape(up.URL+"/v.mp4"), nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	data, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "proxied-bytes", string(data))

	resp = e.do(t, http.MethodGet, "/api/proxy?url="+url.QueryEscape(up.URL+"/missing.mp4"), nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "upstream status is passed through")

	resp = e.do(t, http.MethodGet, "/api/proxy?url=data%3Atext%2Fplain%2Chi", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// 媒体缓存经由代理下载
	fetcher := mediacache.NewHTTPFetcher(e.ts.URL + "/api/proxy")
	cache := mediacache.New(fetcher, nil, mediacache.Options{})
	defer cache.Close()
	_, err := cache.Get(context.Background(), up.URL+"/via-proxy.mp4")
	require.NoError(t, err)
}

func TestExportEndpoints(t *testing.T) {
	e := newTestEnv(t, nil)
	up := mediaUpstream(t, "abc")
	video := e.store.State().Tracks[0].ID
	e.dispatch(t, "add_clip", map[string]interface{}{
		"clip": map[string]interface{}{"trackId": video, "originalDuration": 3, "sourceUrl": up.URL + "/a.mp4", "label": "Intro"},
	})

	resp := e.do(t, http.MethodGet, "/api/export/plan", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Plan struct {
			Tracks []struct {
				Video []struct {
					SourceURL string `json:"sourceUrl"`
				} `json:"video"`
			} `json:"tracks"`
		} `json:"plan"`
		Valid bool `json:"valid"`
	}](t, resp)
	assert.True(t, body.Valid)
	require.NotEmpty(t, body.Plan.Tracks)
	assert.Equal(t, up.URL+"/a.mp4", body.Plan.Tracks[0].Video[0].SourceURL)

	resp = e.do(t, http.MethodGet, "/api/export/plan?resolve=1", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), `"sourceUrl":"/media/blob/`)

	resp = e.do(t, http.MethodGet, "/api/export/edl", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	edl, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(edl), "* FROM CLIP NAME:  Intro")
}

func TestEditorSocket_PushesCommittedChanges(t *testing.T) {
	e := newTestEnv(t, nil)
	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws/editor"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() WSMessage {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	first := read()
	assert.Equal(t, MsgTypeDocument, first.Type)
	assert.Equal(t, "snapshot", first.Command)
	require.NotNil(t, first.Document)
	assert.Len(t, first.Document.Tracks, 2)
	require.Eventually(t, func() bool { return e.srv.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	video := e.store.State().Tracks[0].ID
	id := e.store.Dispatch(timeline.AddClip{Clip: model.Clip{TrackID: video, OriginalDuration: 2}}).ID

	// 拖拽中间帧不推送
	e.store.BeginTransientEdit()
	e.store.Dispatch(timeline.MoveClip{ID: id, StartTime: 3, Transient: true})
	e.store.CommitEdit()

	msg := read()
	assert.Equal(t, "add_clip", msg.Command)
	assert.Equal(t, timeline.OriginLocal, msg.Origin)
	require.Len(t, msg.Document.Clips, 1)

	msg = read()
	assert.Equal(t, "commit_edit", msg.Command)
	assert.Equal(t, 3.0, msg.Document.Clips[0].StartTime)

	e.store.Undo()
	msg = read()
	assert.Equal(t, timeline.OriginHistory, msg.Origin)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypePing}))
	assert.Equal(t, MsgTypePong, read().Type)
}

func TestEditorSocket_PlaybackTicksSkipDocument(t *testing.T) {
	e := newTestEnv(t, nil)
	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws/editor"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() WSMessage {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}
	require.Equal(t, "snapshot", read().Command)
	require.Eventually(t, func() bool { return e.srv.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	e.store.Dispatch(timeline.SetPlaying{Playing: true})
	e.store.Dispatch(timeline.AdvancePlayhead{Delta: 0.5})

	msg := read()
	assert.Equal(t, MsgTypePlayhead, msg.Type)
	assert.Nil(t, msg.Document)
	require.NotNil(t, msg.Playing)
	assert.True(t, *msg.Playing)

	msg = read()
	assert.Equal(t, MsgTypePlayhead, msg.Type)
	assert.Equal(t, "advance_playhead", msg.Command)
	assert.Nil(t, msg.Document)
	require.NotNil(t, msg.Playhead)
	assert.InDelta(t, 0.5, *msg.Playhead, 1e-9)

	// 播放到末尾自动暂停
	e.store.Dispatch(timeline.AdvancePlayhead{Delta: 1000})
	msg = read()
	require.NotNil(t, msg.Playing)
	assert.False(t, *msg.Playing)
}

func TestEditorSocket_RequiresToken(t *testing.T) {
	issuer := auth.NewIssuer("s", time.Hour)
	e := newTestEnv(t, issuer)
	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws/editor"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := issuer.GenerateToken("admin")
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+url.QueryEscape(token), nil)
	require.NoError(t, err)
	conn.Close()
}
