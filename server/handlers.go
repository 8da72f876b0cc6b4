package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Content types.
const (
	ContentTypeMarkdown = "text/markdown; charset=utf-8"
	ContentTypeText     = "text/plain; charset=utf-8"
)

// MessageSignFailed prefixes the body of a failed sign request.
const MessageSignFailed = "Failed to sign document: "

func (s *Server) handleSign(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}

	signed, err := s.service.Sign(body, queryMetadata(c))
	if err != nil {
		_ = c.Error(err)
		c.Data(http.StatusBadRequest, ContentTypeText, []byte(MessageSignFailed+err.Error()))
		return
	}
	c.Data(http.StatusOK, ContentTypeMarkdown, []byte(signed))
}

func (s *Server) handleVerify(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.service.Verify(body))
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"canSign":   s.service.CanSign(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) readBody(c *gin.Context) (string, bool) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.Data(http.StatusRequestEntityTooLarge, ContentTypeText, []byte("Request body too large"))
			return "", false
		}
		s.logger.Warn("failed to read request body", zap.Error(err))
		c.Data(http.StatusBadRequest, ContentTypeText, []byte("Failed to read request body"))
		return "", false
	}
	return string(data), true
}

// queryMetadata turns the query string into signature metadata, keeping the
// first value of repeated keys.
func queryMetadata(c *gin.Context) map[string]string {
	query := c.Request.URL.Query()
	if len(query) == 0 {
		return nil
	}
	md := make(map[string]string, len(query))
	for k, v := range query {
		if len(v) > 0 {
			md[k] = v[0]
		}
	}
	return md
}
