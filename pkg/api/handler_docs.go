package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleTest(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "OK"})
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.healthCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	storage, err := s.healthCheck(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"storage": storage,
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"storage": storage,
	})
}

func (s *Server) handleBrandInfo(c *gin.Context) {
	s.serveDocument(c, s.planCfg.BrandInfoFilename)
}

func (s *Server) handleUIModel(c *gin.Context) {
	s.serveDocument(c, s.planCfg.UIModelFilename)
}

// serveDocument returns one of the JSON documents the planogram synchronizer
// maintains on disk. Missing means the kiosk was never synced.
func (s *Server) serveDocument(c *gin.Context, filename string) {
	path := filepath.Join(s.planCfg.DataDir, filename)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document is not available yet"})
		return
	}
	c.Header("Content-Type", "application/json")
	c.File(path)
}

func (s *Server) handleMedia(c *gin.Context) {
	// Base strips any path traversal from the parameter.
	filename := filepath.Base(c.Param("filename"))
	path := filepath.Join(s.planCfg.ImageDir, filename)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "media not found"})
		return
	}
	c.File(path)
}

func (s *Server) handleMachineState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": s.machine.State()})
}
