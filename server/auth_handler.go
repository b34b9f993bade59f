package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"ReelForge/core/auth"
	"ReelForge/logger"
)

type ctxKey string

const usernameKey ctxKey = "username"

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginHandler 校验管理员账号并签发令牌
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if s.issuer == nil {
		writeError(w, http.StatusNotFound, "authentication is disabled")
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	if req.Username != s.cfg.AdminUser || !auth.VerifyPassword(req.Password, s.cfg.AdminPasswordHash) {
		logger.Warn("[Login] 用户名或密码错误", logger.String("username", req.Username))
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, err := s.issuer.GenerateToken(req.Username)
	if err != nil {
		logger.Error("[Login] 生成Token失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	logger.Info("[Login] 登录成功", logger.String("username", req.Username))
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "username": req.Username})
}

// bearerToken 先看 Authorization 头，再看 ?token=
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// authenticate 返回带用户名的请求；认证关闭时原样放行
func (s *Server) authenticate(r *http.Request) (*http.Request, bool) {
	if s.issuer == nil {
		return r, true
	}
	token := bearerToken(r)
	if token == "" {
		return r, false
	}
	claims, err := s.issuer.ParseToken(token)
	if err != nil {
		logger.Debug("令牌校验失败", logger.ErrorField(err))
		return r, false
	}
	return r.WithContext(context.WithValue(r.Context(), usernameKey, claims.Username)), true
}

// AuthMiddleware rejects /api requests without a valid bearer token.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, ok := s.authenticate(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UsernameFromContext extracts the username from the request context
func UsernameFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(usernameKey).(string)
	return name, ok
}
