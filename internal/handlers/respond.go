package handlers

import (
	"errors"
	"net/http"

	"escrow-backend/internal/apperrors"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// respondError maps the error taxonomy onto HTTP statuses. Rail failures
// carry their classification so callers can tell a retriable outage from a
// recipient problem.
func respondError(c *gin.Context, err error) {
	var validationErr *apperrors.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": validationErr.Error()})
		return
	}

	var notFoundErr *apperrors.NotFoundError
	if errors.As(err, &notFoundErr) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": notFoundErr.Error()})
		return
	}

	var conflictErr *apperrors.ConflictError
	if errors.As(err, &conflictErr) {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": conflictErr.Error()})
		return
	}

	if railErr, ok := apperrors.AsRailError(err); ok {
		status := http.StatusServiceUnavailable
		if railErr.Code == apperrors.RailInsufficientFunds || railErr.Code == apperrors.RailInvalidRecipient {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{
			"success":   false,
			"error":     railErr.Error(),
			"code":      string(railErr.Code),
			"retriable": railErr.Retriable(),
		})
		return
	}

	if errors.Is(err, apperrors.ErrVerificationUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success":   false,
			"error":     "verification service unavailable, try again later",
			"retriable": true,
		})
		return
	}

	var fatalErr *apperrors.FatalError
	if errors.As(err, &fatalErr) {
		logrus.WithError(fatalErr).Error("invariant violation")
	}
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
}

// userID pulls the caller identity set by the identity middleware.
func userID(c *gin.Context) string {
	return c.GetString("user_id")
}
