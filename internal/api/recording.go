package api

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/echoproof/echo/internal/auth"
	"github.com/echoproof/echo/internal/evm"
	"github.com/echoproof/echo/internal/recordings"
	"github.com/echoproof/echo/internal/retrieval"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// propagationDetails is returned with 503 while content is still propagating.
const propagationDetails = "The file may still be propagating. Please try again in a few moments."

// recordingSvc is the subset of recordings.Service used by RecordingHandler.
type recordingSvc interface {
	Upload(ctx context.Context, in recordings.UploadInput) (*recordings.UploadResult, error)
	GetShare(ctx context.Context, shareID string) (*recordings.Share, error)
	SaveUser(ctx context.Context, address, npub, email string) (*recordings.User, error)
	List(ctx context.Context, address string) ([]*recordings.Recording, error)
	Delete(ctx context.Context, id uuid.UUID, address string) error
}

// RecordingHandler serves uploads, shares, users and recording lists.
type RecordingHandler struct {
	svc    recordingSvc
	tokens *auth.TokenIssuer
	logger *zap.Logger
}

// NewRecordingHandler creates a RecordingHandler.
func NewRecordingHandler(svc recordingSvc, logger *zap.Logger) *RecordingHandler {
	return &RecordingHandler{svc: svc, logger: logger}
}

// SetTokenIssuer enables bearer-token checks on owner routes.
func (h *RecordingHandler) SetTokenIssuer(ti *auth.TokenIssuer) {
	h.tokens = ti
}

func (h *RecordingHandler) requireToken() gin.HandlerFunc {
	if h.tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return auth.RequireToken(h.tokens)
}

// Register registers RecordingHandler routes on the given router group.
func (h *RecordingHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/recordings", h.requireToken(), h.Upload)
	rg.DELETE("/recordings/:id", h.requireToken(), h.Delete)
	rg.GET("/share/:shareId", h.GetShare)
	rg.POST("/users", h.requireToken(), h.SaveUser)
	rg.GET("/users/:address/recordings", h.requireToken(), h.List)
}

// Upload handles POST /recordings with multipart audio, aqua, evmAddress and
// nostrNpub fields.
func (h *RecordingHandler) Upload(c *gin.Context) {
	audio, err := formFile(c, "audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audio file is required"})
		return
	}
	aqua, err := formFile(c, "aqua")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "aqua file is required"})
		return
	}
	address := c.PostForm("evmAddress")
	if address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "evmAddress is required"})
		return
	}
	if !h.callerIs(c, address) {
		c.JSON(http.StatusForbidden, gin.H{"error": "token address does not match evmAddress"})
		return
	}

	res, err := h.svc.Upload(c.Request.Context(), recordings.UploadInput{
		Audio:      audio,
		Aqua:       aqua,
		EVMAddress: address,
		NostrNpub:  c.PostForm("nostrNpub"),
	})
	if err != nil {
		var pe *recordings.ProofError
		switch {
		case errors.As(err, &pe):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "proof failed verification", "issues": pe.Issues})
		case errors.Is(err, recordings.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case errors.Is(err, recordings.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("upload recording", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to upload recording"})
		}
		return
	}

	recordUpload()
	c.JSON(http.StatusCreated, gin.H{
		"success":   true,
		"shareUrl":  res.ShareURL,
		"shareId":   res.Recording.ShareID,
		"audioCid":  res.Recording.AudioCID,
		"aquaCid":   res.Recording.AquaCID,
		"recording": res.Recording,
	})
}

// GetShare handles GET /share/:shareId.
func (h *RecordingHandler) GetShare(c *gin.Context) {
	share, err := h.svc.GetShare(c.Request.Context(), c.Param("shareId"))
	if err != nil {
		h.shareError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"recording": gin.H{
			"id":         share.Recording.ID,
			"share_id":   share.Recording.ShareID,
			"created_at": share.Recording.CreatedAt,
		},
		"audioData":    share.Audio,
		"aquaData":     share.Proof,
		"verification": share.Report,
	})
}

func (h *RecordingHandler) shareError(c *gin.Context, err error) {
	var cid string
	var re *retrieval.Error
	if errors.As(err, &re) {
		cid = re.CID
	}

	switch {
	case errors.Is(err, recordings.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "recording not found"})
	case errors.Is(err, retrieval.ErrNotYetAvailable):
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "content not yet available",
			"details": propagationDetails,
			"cid":     cid,
		})
	case errors.Is(err, retrieval.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "content not found", "cid": cid})
	default:
		h.logger.Error("get share", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load recording"})
	}
}

type saveUserRequest struct {
	EVMAddress string `json:"evmAddress" binding:"required"`
	NostrNpub  string `json:"nostrNpub"`
	Email      string `json:"email"`
}

// SaveUser handles POST /users.
func (h *RecordingHandler) SaveUser(c *gin.Context) {
	var req saveUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.callerIs(c, req.EVMAddress) {
		c.JSON(http.StatusForbidden, gin.H{"error": "token address does not match evmAddress"})
		return
	}
	u, err := h.svc.SaveUser(c.Request.Context(), req.EVMAddress, req.NostrNpub, req.Email)
	if err != nil {
		if errors.Is(err, recordings.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("save user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": u})
}

// List handles GET /users/:address/recordings.
func (h *RecordingHandler) List(c *gin.Context) {
	address := c.Param("address")
	if !h.callerIs(c, address) {
		c.JSON(http.StatusForbidden, gin.H{"error": "token address does not match"})
		return
	}
	recs, err := h.svc.List(c.Request.Context(), address)
	if err != nil {
		if errors.Is(err, recordings.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("list recordings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list recordings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recordings": recs, "count": len(recs)})
}

// Delete handles DELETE /recordings/:id. Without a token issuer the owner
// address is taken from the evmAddress query parameter.
func (h *RecordingHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recording id"})
		return
	}
	address := auth.AddressFromCtx(c)
	if address == "" {
		address = c.Query("evmAddress")
	}
	if address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "evmAddress is required"})
		return
	}

	err = h.svc.Delete(c.Request.Context(), id, address)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, recordings.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "recording not found"})
	case errors.Is(err, recordings.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "not the owner of this recording"})
	case errors.Is(err, recordings.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("delete recording", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete recording"})
	}
}

// callerIs reports whether the signed-in address matches address. It is
// always true when token checks are disabled.
func (h *RecordingHandler) callerIs(c *gin.Context, address string) bool {
	if h.tokens == nil {
		return true
	}
	want, err := evm.NormalizeAddress(address)
	if err != nil {
		return false
	}
	return strings.EqualFold(auth.AddressFromCtx(c), want)
}

func formFile(c *gin.Context, field string) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, err
	}
	return readFile(fh)
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
