package http

import (
	"context"
	"errors"
	"net/http"

	"peerboard/internal/core/domain"
	"peerboard/internal/infrastructure/eventloop"
	apperrors "peerboard/pkg/errors"

	"github.com/gin-gonic/gin"
)

// toAppError maps service errors onto API error codes.
func toAppError(err error) *apperrors.AppError {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case errors.Is(err, domain.ErrMalformedToken),
		errors.Is(err, domain.ErrUnexpectedSignalKind):
		return apperrors.NewMalformedTokenError(err)
	case errors.Is(err, domain.ErrNegotiationFailed):
		return apperrors.NewNegotiationError(err)
	case errors.Is(err, domain.ErrLockDenied):
		return apperrors.WrapError(err, apperrors.ErrCodeLockDenied, "object is locked by another participant", http.StatusConflict)
	case errors.Is(err, domain.ErrObjectNotFound):
		return apperrors.NewNotFoundError("object")
	case errors.Is(err, domain.ErrConnectionNotFound):
		return apperrors.NewNotFoundError("connection")
	case errors.Is(err, domain.ErrParticipantNotFound):
		return apperrors.NewNotFoundError("participant")
	case errors.Is(err, domain.ErrRoomNotFound):
		return apperrors.NewNotFoundError("room")
	case errors.Is(err, domain.ErrInvalidObject),
		errors.Is(err, domain.ErrInvalidCollection),
		errors.Is(err, domain.ErrInvalidImport),
		errors.Is(err, domain.ErrSelfConnection):
		return apperrors.NewInvalidInputError(err.Error())
	case errors.Is(err, eventloop.ErrStopped),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable, "node is not accepting requests", http.StatusServiceUnavailable)
	}
	return apperrors.WrapError(err, apperrors.ErrCodeInternal, "internal error", http.StatusInternalServerError)
}

// respondError hands err to the error middleware.
func respondError(c *gin.Context, err error) {
	_ = c.Error(toAppError(err))
}
