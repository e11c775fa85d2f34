package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"lotledger/internal/core/apperror"
	appctx "lotledger/internal/core/context"
	"lotledger/internal/core/idempotency"
	"lotledger/pkg/logger"
)

const (
	HeaderIdempotencyKey    = "Idempotency-Key"
	HeaderIdempotentReplay  = "Idempotent-Replayed"
	maxIdempotencyBodyBytes = 1 << 20
	maxIdempotencyKeyLength = 255
)

// captureWriter tees the response body so it can be stored for replay.
type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response of a POST or DELETE sent again
// with the same Idempotency-Key. Requests without the header pass through.
// Responses below 500 are stored; a 5xx releases the key so the client may retry.
func Idempotency(store idempotency.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost && c.Request.Method != http.MethodDelete {
			c.Next()
			return
		}
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKeyLength {
			_ = c.Error(apperror.NewInvalidArgument("idempotency key too long").
				WithDetail("max_length", maxIdempotencyKeyLength))
			c.Abort()
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIdempotencyBodyBytes+1))
		if err != nil {
			_ = c.Error(apperror.NewInvalidArgument("unreadable request body"))
			c.Abort()
			return
		}
		if len(body) > maxIdempotencyBodyBytes {
			appErr := apperror.NewInvalidArgument("request body too large for idempotency")
			appErr.HTTPStatus = http.StatusRequestEntityTooLarge
			_ = c.Error(appErr.WithDetail("max_bytes", maxIdempotencyBodyBytes))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		hash := sha256.Sum256(body)

		ctx := c.Request.Context()
		req := idempotency.Request{
			Key:       key,
			UserID:    appctx.GetUserID(ctx),
			Operation: c.Request.Method + " " + c.Request.URL.Path,
			Hash:      hex.EncodeToString(hash[:]),
		}

		replay, err := store.Acquire(ctx, req)
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		if replay != nil {
			c.Header(HeaderIdempotentReplay, "true")
			c.Data(replay.StatusCode, replay.ContentType, replay.Body)
			c.Abort()
			return
		}

		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		// Render errors here so the stored body matches what the client saw.
		if !w.Written() && len(c.Errors) > 0 {
			status, body := ErrorBody(c, c.Errors.Last().Err)
			c.JSON(status, body)
		}

		// The request context may already be cancelled by the client.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		status := w.Status()
		if status >= http.StatusInternalServerError {
			if err := store.Release(saveCtx, key); err != nil {
				logger.Warn(saveCtx, "idempotency release failed", "key", key, "error", err)
			}
			return
		}
		resp := idempotency.Replay{
			StatusCode:  status,
			ContentType: w.Header().Get("Content-Type"),
			Body:        w.body.Bytes(),
		}
		if err := store.Complete(saveCtx, key, resp); err != nil {
			logger.Warn(saveCtx, "idempotency completion failed", "key", key, "error", err)
		}
	}
}
