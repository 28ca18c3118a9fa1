package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/echoproof/echo/internal/verifier"
	"github.com/gin-gonic/gin"
)

// proofVerifier is the subset of verifier.Verifier used by VerifyHandler.
type proofVerifier interface {
	VerifyBytes(data []byte, files ...verifier.File) *verifier.Report
}

// VerifyHandler checks uploaded proofs.
type VerifyHandler struct {
	verifier proofVerifier
}

// NewVerifyHandler creates a VerifyHandler.
func NewVerifyHandler(v proofVerifier) *VerifyHandler {
	return &VerifyHandler{verifier: v}
}

// Register registers VerifyHandler routes on the given router group.
func (h *VerifyHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/verify", h.Verify)
}

// Verify handles POST /verify. A multipart body carries the proof as "aqua"
// and any number of "audio" files checked by their file names. Any other body
// is taken as the proof itself.
func (h *VerifyHandler) Verify(c *gin.Context) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		data, err := io.ReadAll(c.Request.Body)
		if err != nil || len(data) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "proof body is required"})
			return
		}
		c.JSON(http.StatusOK, h.verifier.VerifyBytes(data))
		return
	}

	aqua, err := formFile(c, "aqua")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "aqua file is required"})
		return
	}

	var files []verifier.File
	if form, err := c.MultipartForm(); err == nil {
		for _, fh := range form.File["audio"] {
			data, err := readFile(fh)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable audio file " + fh.Filename})
				return
			}
			files = append(files, verifier.File{Name: fh.Filename, Data: data})
		}
	}

	c.JSON(http.StatusOK, h.verifier.VerifyBytes(aqua, files...))
}
