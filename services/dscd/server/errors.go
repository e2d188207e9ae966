package server

import (
	"errors"
	"net/http"

	"dscengine/native/dsc"
	"dscengine/services/dscd/feeds"
	"dscengine/services/dscd/node"
)

var (
	errInvalidBody    = errors.New("invalid request body")
	errInvalidAddress = errors.New("invalid address")
	errInvalidAmount  = errors.New("invalid amount")
	errCallerRequired = errors.New("caller identity required")
)

// toStatus maps an error to the HTTP status and the message returned to the
// client. Unknown errors are reported as internal without detail.
func toStatus(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, errInvalidBody),
		errors.Is(err, errInvalidAddress),
		errors.Is(err, errInvalidAmount),
		errors.Is(err, dsc.ErrAmountMustBeMoreThanZero),
		errors.Is(err, dsc.ErrTokenNotAllowed),
		errors.Is(err, dsc.ErrZeroAddress),
		errors.Is(err, node.ErrUnknownAsset),
		errors.Is(err, feeds.ErrAnswerRequired),
		errors.Is(err, feeds.ErrOutOfOrder):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, errCallerRequired):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, feeds.ErrFeedNotFound),
		errors.Is(err, feeds.ErrNoRounds),
		errors.Is(err, feeds.ErrRoundNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, dsc.ErrReentrantCall):
		return http.StatusConflict, err.Error()
	case errors.Is(err, dsc.ErrBreaksHealthFactor),
		errors.Is(err, dsc.ErrHealthFactorNotBroken),
		errors.Is(err, dsc.ErrHealthFactorNotImproved),
		errors.Is(err, dsc.ErrInsufficientCollateral),
		errors.Is(err, dsc.ErrInsufficientBalanceToBurn),
		errors.Is(err, dsc.ErrTransferFailed),
		errors.Is(err, dsc.ErrMintFailed),
		errors.Is(err, dsc.ErrMathOverflow):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, dsc.ErrStalePrice),
		errors.Is(err, dsc.ErrInvalidPrice),
		errors.Is(err, dsc.ErrFeedNotConfigured):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
