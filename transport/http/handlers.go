package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/sigauth/core"
	"github.com/layer-3/sigauth/service"
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
	}
}

type challengeRequest struct {
	Wallet  string `json:"wallet" binding:"required"`
	ChainID int64  `json:"chainId"`
	Domain  string `json:"domain"`
}

type challengeResponse struct {
	ChallengeID string    `json:"challengeId"`
	Wallet      string    `json:"wallet"`
	Message     string    `json:"message"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Challenge issues a login challenge
func (h *AuthHandlers) Challenge(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ch, err := h.authService.IssueChallenge(c.Request.Context(), service.ChallengeRequest{
		Wallet:   req.Wallet,
		ChainID:  req.ChainID,
		Domain:   req.Domain,
		ClientIP: c.ClientIP(),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, challengeResponse{
		ChallengeID: ch.ID,
		Wallet:      ch.Wallet,
		Message:     ch.Message(),
		ExpiresAt:   ch.ExpiresAt,
	})
}

type loginRequest struct {
	Wallet      string `json:"wallet" binding:"required"`
	Signature   string `json:"signature" binding:"required"`
	ChallengeID string `json:"challengeId"`
	Message     string `json:"message"`
	DesiredRole string `json:"desiredRole"`
}

type loginResponse struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	Role             core.Role `json:"role"`
	Wallet           string    `json:"wallet"`
	RoleLocked       bool      `json:"roleLocked"`
	SessionPersisted bool      `json:"sessionPersisted"`
}

// Login exchanges a signed challenge for a token pair
func (h *AuthHandlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	res, err := h.authService.Login(c.Request.Context(), service.LoginRequest{
		Wallet:      req.Wallet,
		Signature:   req.Signature,
		ChallengeID: req.ChallengeID,
		Message:     req.Message,
		DesiredRole: req.DesiredRole,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, loginResponse{
		AccessToken:      res.AccessToken.Token,
		RefreshToken:     res.RefreshToken.Token,
		Role:             res.Role,
		Wallet:           res.Wallet,
		RoleLocked:       res.RoleLocked,
		SessionPersisted: res.SessionPersisted,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type refreshResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	Role         core.Role `json:"role"`
	RoleChanged  bool      `json:"roleChanged"`
}

// Refresh rotates the refresh token
func (h *AuthHandlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	res, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, refreshResponse{
		AccessToken:  res.AccessToken.Token,
		RefreshToken: res.RefreshToken.Token,
		Role:         res.Role,
		RoleChanged:  res.RoleChanged,
	})
}

type userResponse struct {
	Wallet string    `json:"wallet"`
	Role   core.Role `json:"role"`
}

type verifyResponse struct {
	User        userResponse `json:"user"`
	AccessToken string       `json:"accessToken,omitempty"`
	RoleChanged bool         `json:"roleChanged,omitempty"`
}

// Verify reports the caller's identity, optionally revalidating the role
func (h *AuthHandlers) Verify(c *gin.Context, identity core.Identity) {
	out, err := h.authService.Verify(c.Request.Context(), identity, c.Query("revalidate") == "true")
	if err != nil {
		writeError(c, err)
		return
	}

	resp := verifyResponse{
		User: userResponse{Wallet: out.Identity.Wallet, Role: out.Identity.Role},
	}
	if out.RoleChanged && out.AccessToken != nil {
		resp.AccessToken = out.AccessToken.Token
		resp.RoleChanged = true
	}
	c.JSON(http.StatusOK, resp)
}

// Logout revokes the caller's session
func (h *AuthHandlers) Logout(c *gin.Context, identity core.Identity) {
	h.authService.Logout(c.Request.Context(), identity)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Me returns information about the authenticated user
func (h *AuthHandlers) Me(c *gin.Context, identity core.Identity) {
	c.JSON(http.StatusOK, userResponse{Wallet: identity.Wallet, Role: identity.Role})
}

// Creator is a reference route gated on the CREATOR role
func (h *AuthHandlers) Creator(c *gin.Context, identity core.Identity) {
	c.JSON(http.StatusOK, gin.H{
		"wallet":     identity.Wallet,
		"role":       identity.Role,
		"authorized": true,
	})
}

// Health reports liveness
func (h *AuthHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
