package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kweaver-ai/sandboxctl/internal/apperrors"
	"github.com/kweaver-ai/sandboxctl/internal/services"
)

// FileHandler exposes upload/download/list/delete over a session's
// workspace prefix.
type FileHandler struct {
	files *services.FileService
}

func NewFileHandler(files *services.FileService) *FileHandler {
	return &FileHandler{files: files}
}

func (h *FileHandler) RegisterRoutes(group *gin.RouterGroup) {
	sessions := group.Group("/sessions/:id")
	sessions.GET("/files", h.List)
	sessions.POST("/files/upload", h.Upload)
	sessions.GET("/files/download", h.Download)
	sessions.DELETE("/files", h.Delete)
}

type fileObjectResponse struct {
	Path         string `json:"path"`
	SizeBytes    int64  `json:"size_bytes"`
	LastModified string `json:"last_modified"`
}

func (h *FileHandler) List(c *gin.Context) {
	prefix := c.Query("path")
	objs, err := h.files.List(c.Request.Context(), c.Param("id"), prefix)
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]fileObjectResponse, 0, len(objs))
	for _, o := range objs {
		items = append(items, fileObjectResponse{
			Path:         o.Path,
			SizeBytes:    o.SizeBytes,
			LastModified: o.LastModified.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *FileHandler) Upload(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		writeError(c, apperrors.FileValidation("path query parameter is required"))
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		writeError(c, apperrors.FileValidation("multipart field 'file' is required"))
		return
	}
	opened, err := file.Open()
	if err != nil {
		writeError(c, apperrors.FileValidation("could not open uploaded file"))
		return
	}
	defer opened.Close()

	contentType := file.Header.Get("Content-Type")
	if err := h.files.Upload(c.Request.Context(), c.Param("id"), path, opened, file.Size, contentType); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *FileHandler) Download(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		writeError(c, apperrors.FileValidation("path query parameter is required"))
		return
	}
	result, err := h.files.Download(c.Request.Context(), c.Param("id"), path)
	if err != nil {
		writeError(c, err)
		return
	}

	if result.PresignedURL != "" {
		c.JSON(http.StatusOK, gin.H{
			"presigned_url": result.PresignedURL,
			"size_bytes":    result.SizeBytes,
		})
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", result.Inline)
}

func (h *FileHandler) Delete(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		writeError(c, apperrors.FileValidation("path query parameter is required"))
		return
	}
	if err := h.files.Delete(c.Request.Context(), c.Param("id"), path); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
