package api

import (
	"errors"
	"net/http"

	"github.com/echoproof/echo/internal/auth"
	"github.com/echoproof/echo/internal/evm"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthHandler implements wallet sign-in: a nonce challenge signed with the
// wallet and exchanged for a session token.
type AuthHandler struct {
	challenges *auth.Challenges
	tokens     *auth.TokenIssuer
	logger     *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(challenges *auth.Challenges, tokens *auth.TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{challenges: challenges, tokens: tokens, logger: logger}
}

// Register registers AuthHandler routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/challenge", h.Challenge)
	rg.POST("/auth/verify", h.Verify)
}

type challengeRequest struct {
	Address string `json:"address" binding:"required"`
}

// Challenge handles POST /auth/challenge.
func (h *AuthHandler) Challenge(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ch, err := h.challenges.Issue(req.Address)
	if err != nil {
		if errors.Is(err, evm.ErrInvalidAddress) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("issue challenge", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue challenge"})
		return
	}
	c.JSON(http.StatusOK, ch)
}

type verifyRequest struct {
	Address   string `json:"address"   binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// Verify handles POST /auth/verify.
func (h *AuthHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	address, err := h.challenges.Redeem(req.Address, req.Signature)
	if err != nil {
		switch {
		case errors.Is(err, evm.ErrInvalidAddress):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, auth.ErrNoChallenge), errors.Is(err, auth.ErrBadSignature):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
		}
		return
	}

	token, err := h.tokens.Issue(address)
	if err != nil {
		h.logger.Error("issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	h.logger.Info("wallet signed in", zap.String("address", address))
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(h.tokens.TTL().Seconds()),
		"address":    address,
	})
}
