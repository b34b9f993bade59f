package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ReelForge/core/export"
	"ReelForge/core/mediacache"
	"ReelForge/core/timeline"
	"ReelForge/logger"
	"ReelForge/model"
)

func mediaURLParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	u := r.URL.Query().Get("url")
	if u == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return "", false
	}
	return u, true
}

// MediaListHandler 列出已缓存的条目
func (s *Server) MediaListHandler(w http.ResponseWriter, r *http.Request) {
	entries := s.media.Entries()
	if entries == nil {
		entries = []model.MediaEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// MediaStatusHandler 单个 URL 的下载状态
func (s *Server) MediaStatusHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := mediaURLParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.media.Status(u))
}

// MediaResolveHandler waits for the download (bounded by the request) and
// returns the local blob URL.
func (s *Server) MediaResolveHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := mediaURLParam(w, r)
	if !ok {
		return
	}
	blobURL, err := s.media.Get(r.Context(), u)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"url": u, "blobUrl": blobURL})
	case errors.Is(err, mediacache.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, mediacache.ErrRevoked):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, mediacache.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// PreloadRequest 预加载；URLs 为空时预加载项目中全部片段源
type PreloadRequest struct {
	URLs []string `json:"urls"`
}

// MediaPreloadHandler 预加载，不等待下载完成
func (s *Server) MediaPreloadHandler(w http.ResponseWriter, r *http.Request) {
	var req PreloadRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	urls := req.URLs
	if len(urls) == 0 {
		urls = SourceURLs(s.store.State())
	}
	n := s.media.PreloadAll(urls)
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": n})
}

// MediaRevokeHandler 删除单个缓存条目
func (s *Server) MediaRevokeHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := mediaURLParam(w, r)
	if !ok {
		return
	}
	if err := s.media.Revoke(r.Context(), u); err != nil {
		logger.Error("删除缓存失败", logger.String("url", u), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MediaClearHandler 清空缓存
func (s *Server) MediaClearHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.media.Clear(r.Context()); err != nil {
		logger.Error("清空缓存失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BlobHandler serves the bytes behind a blob URL. Seekable stores get
// range support through http.ServeContent.
func (s *Server) BlobHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(r); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	key := strings.TrimPrefix(r.URL.Path, s.cfg.MediaBlobPrefix)
	if _, err := hex.DecodeString(key); err != nil || key == "" {
		writeError(w, http.StatusNotFound, "blob not found")
		return
	}

	rc, entry, err := s.media.Open(r.Context(), key)
	if err != nil {
		if errors.Is(err, mediacache.ErrNotFound) {
			writeError(w, http.StatusNotFound, "blob not found")
			return
		}
		logger.Error("读取缓存文件失败", logger.String("key", key), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to open blob")
		return
	}
	defer rc.Close()

	if entry.MimeType != "" {
		w.Header().Set("Content-Type", entry.MimeType)
	}
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")

	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, "", entry.CachedAt, rs)
		return
	}
	if entry.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(entry.Size, 10))
	}
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		logger.Debug("blob 传输中断", logger.String("key", key), logger.ErrorField(err))
	}
}

// ProxyHandler streams a remote URL back to the caller. It is the byte
// proxy the media fetcher uses when MEDIA_PROXY_URL points here.
func (s *Server) ProxyHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := mediaURLParam(w, r)
	if !ok {
		return
	}
	if !mediacache.IsRemote(u) {
		writeError(w, http.StatusBadRequest, "only http and https urls can be proxied")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, u, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid url")
		return
	}
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}
	if req.URL.Host == r.Host {
		writeError(w, http.StatusBadRequest, "refusing to proxy to self")
		return
	}

	start := time.Now()
	resp, err := s.proxy.Do(req)
	if err != nil {
		logger.Warn("代理请求失败", logger.String("url", u), logger.ErrorField(err))
		writeError(w, http.StatusBadGateway, "upstream request failed")
		return
	}
	defer resp.Body.Close()

	for _, h := range []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges", "Last-Modified", "ETag"} {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		logger.Debug("代理传输中断", logger.String("url", u), logger.ErrorField(err))
		return
	}
	logger.Debug("代理完成",
		logger.String("url", u),
		logger.Int("status", resp.StatusCode),
		logger.Int64("bytes", n),
		logger.Duration("elapsed", time.Since(start)))
}

// SourceURLs 项目中全部片段的远程源
func SourceURLs(s timeline.State) []string {
	var urls []string
	for _, c := range s.Clips {
		if mediacache.IsRemote(c.SourceURL) {
			urls = append(urls, c.SourceURL)
		}
	}
	return urls
}

// WatchSources preloads clip sources whenever a committed change brings in
// new ones.
func WatchSources(store *timeline.Store, media *mediacache.Cache) (unsubscribe func()) {
	media.PreloadAll(SourceURLs(store.State()))
	return store.Subscribe(func(c timeline.Change) {
		if c.Transient {
			return
		}
		var fresh []string
		for _, u := range SourceURLs(c.State) {
			if !media.Has(u) && media.Status(u).State != model.MediaStateDownloading {
				fresh = append(fresh, u)
			}
		}
		if len(fresh) > 0 {
			media.PreloadAll(fresh)
		}
	})
}

// ExportPlanHandler returns the export plan. ?resolve=1 waits until every
// source is cached and points the plan at local blob URLs.
func (s *Server) ExportPlanHandler(w http.ResponseWriter, r *http.Request) {
	plan := export.BuildPlan(s.store.State())
	if resolve, _ := strconv.ParseBool(r.URL.Query().Get("resolve")); resolve {
		resolved, err := export.Resolve(r.Context(), plan, s.media)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		plan = resolved
	}

	problems := []string{}
	if err := plan.Validate(); err != nil {
		problems = strings.Split(err.Error(), "\n")
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"plan":     plan,
		"valid":    len(problems) == 0,
		"problems": problems,
	})
}

// ExportEDLHandler 导出 CMX3600 EDL
func (s *Server) ExportEDLHandler(w http.ResponseWriter, r *http.Request) {
	plan := export.BuildPlan(s.store.State())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="timeline.edl"`)
	io.WriteString(w, plan.EDL())
}
