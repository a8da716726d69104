package server

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shineum/inkpost/internal/store"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	accountKey      = "account"
	webhookHeader   = "X-Webhook-Token"
)

// requestID reuses the caller's X-Request-ID or assigns a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString(requestIDKey),
			"client_ip", c.ClientIP(),
		)
	}
}

func recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		slog.Error("panic while handling request",
			"path", c.Request.URL.Path,
			"request_id", c.GetString(requestIDKey),
			"panic", recovered,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{
			Error:   "internal",
			Message: "internal error",
		})
	})
}

// webhookAuth enforces the shared webhook token when one is configured. The
// token is accepted from the query string or the X-Webhook-Token header.
func (s *Server) webhookAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.WebhookToken == "" {
			c.Next()
			return
		}
		got := c.GetHeader(webhookHeader)
		if got == "" {
			got = c.Query("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookToken)) != 1 {
			abortUnauthorized(c, "invalid webhook token")
			return
		}
		c.Next()
	}
}

// accountAuth resolves the account named by the configured header. The
// header is trusted: an upstream proxy is expected to have authenticated it.
func (s *Server) accountAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := strings.TrimSpace(c.GetHeader(s.cfg.AuthHeader))
		if addr == "" {
			abortUnauthorized(c, "missing "+s.cfg.AuthHeader+" header")
			return
		}

		acct, err := s.accounts.AccountByEmail(c.Request.Context(), addr)
		if errors.Is(err, store.ErrNotFound) {
			abortUnauthorized(c, "unknown account")
			return
		}
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}

		c.Set(accountKey, acct)
		c.Next()
	}
}

func accountFrom(c *gin.Context) *store.Account {
	return c.MustGet(accountKey).(*store.Account)
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: msg})
}
