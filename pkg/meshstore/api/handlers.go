package api

import (
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zentalk-labs/magicratchet/pkg/meshstore"
)

const maxPayloadBytes = 16 << 20

func parseAddress(c *gin.Context) ([32]byte, bool) {
	var addr [32]byte
	raw := c.Param("addr")
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "invalid address",
			Message: "address must be 64 hex characters (32 bytes)",
		})
		return addr, false
	}
	copy(addr[:], decoded)
	return addr, true
}

// handlePut stores the raw request body under the given address.
func (s *Server) handlePut(c *gin.Context) {
	addr, ok := parseAddress(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "failed to read body", Message: err.Error()})
		return
	}
	if len(body) > maxPayloadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "payload too large"})
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "empty payload"})
		return
	}

	if err := s.store.Put(c.Request.Context(), addr, body); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "storage failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "bytes": len(body)})
}

// handleGet returns the raw blob stored under the given address.
func (s *Server) handleGet(c *gin.Context) {
	addr, ok := parseAddress(c)
	if !ok {
		return
	}

	data, err := s.store.Get(c.Request.Context(), addr)
	if errors.Is(err, meshstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "retrieval failed", Message: err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// handleDelete removes the blob stored under the given address.
func (s *Server) handleDelete(c *gin.Context) {
	addr, ok := parseAddress(c)
	if !ok {
		return
	}
	if err := s.store.Delete(c.Request.Context(), addr); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "delete failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "stats failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"totalBlobs": stats.TotalBlobs,
		"totalSize":  stats.TotalSize,
	})
}
