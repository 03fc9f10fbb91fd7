package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"launchkey-go/internal/domain/session"
	platformerrors "launchkey-go/internal/platform/errors"
)

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
	Code    int         `json:"code"`
}

// RespondSuccess writes a success envelope.
func RespondSuccess(c *gin.Context, httpStatus int, data interface{}, message string) {
	if message == "" {
		message = "ok"
	}

	resp := APIResponse{
		Success: true,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	}

	c.JSON(httpStatus, resp)
}

// RespondError writes a failure envelope.
func RespondError(c *gin.Context, httpStatus int, message string, data interface{}) {
	resp := APIResponse{
		Success: false,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	}

	c.JSON(httpStatus, resp)
}

// RespondErr maps err to a status code, records it on the context and writes
// a failure envelope.
func RespondErr(c *gin.Context, err error) {
	_ = c.Error(err)
	RespondError(c, StatusFor(err), err.Error(), nil)
}

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	if errors.Is(err, session.ErrNotFound) {
		return http.StatusNotFound
	}
	switch platformerrors.KindOf(err) {
	case platformerrors.KindDomain:
		return http.StatusBadRequest
	case platformerrors.KindSession:
		return http.StatusUnauthorized
	case platformerrors.KindTransport, platformerrors.KindParse, platformerrors.KindCrypto:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
