package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/sigauth/core"
)

// ErrorCodeRoleSelectionRequired tells the client to retry login with a desired role
const ErrorCodeRoleSelectionRequired = "ROLE_SELECTION_REQUIRED"

// authFailed is the only message clients see for any 401 from the auth flow
const authFailed = "authentication failed"

// writeError maps service errors to status codes and bodies
func writeError(c *gin.Context, err error) {
	var roleErr *core.RoleRequiredError
	switch {
	case errors.As(err, &roleErr):
		c.JSON(http.StatusForbidden, gin.H{
			"error":        "forbidden",
			"requiredRole": roleErr.Required,
			"currentRole":  roleErr.Current,
		})

	case errors.Is(err, core.ErrInvalidAddress),
		errors.Is(err, core.ErrMalformedSignature),
		errors.Is(err, core.ErrInvalidRole),
		errors.Is(err, core.ErrInvalidPurpose),
		errors.Is(err, core.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": badRequestMessage(err)})

	case errors.Is(err, core.ErrInvalidOrExpiredChallenge),
		errors.Is(err, core.ErrSignatureMismatch),
		errors.Is(err, core.ErrStaleMessage),
		errors.Is(err, core.ErrReplayedMessage),
		errors.Is(err, core.ErrInvalidToken),
		errors.Is(err, core.ErrSessionInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{"error": authFailed})

	case errors.Is(err, core.ErrRoleSelectionRequired):
		c.JSON(http.StatusConflict, gin.H{
			"error":          "role selection required",
			"errorCode":      ErrorCodeRoleSelectionRequired,
			"availableRoles": core.AllRoles,
		})

	case errors.Is(err, core.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})

	case errors.Is(err, core.ErrStorageUnavailable), errors.Is(err, core.ErrStoreFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})

	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequestMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrInvalidAddress):
		return core.ErrInvalidAddress.Error()
	case errors.Is(err, core.ErrMalformedSignature):
		return core.ErrMalformedSignature.Error()
	case errors.Is(err, core.ErrInvalidRole):
		return core.ErrInvalidRole.Error()
	case errors.Is(err, core.ErrInvalidPurpose):
		return core.ErrInvalidPurpose.Error()
	default:
		return "invalid request"
	}
}
