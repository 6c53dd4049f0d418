package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gopherai-rag/internal/pkg/errs"
)

const (
	CodeOK                 = 0
	CodeBadRequest         = 40000
	CodeNotFound           = 40400
	CodeSessionNotFound    = 40401
	CodeCollectionNotFound = 40402
	CodeDocumentNotFound   = 40403
	CodeModelMismatch      = 40900
	CodeDimensionMismatch  = 42200
	CodeInternalServer     = 50000
	CodeCapabilityError    = 50200
	CodeStoreError         = 50201
	CodeCapabilityTimeout  = 50400
)

type APIResponse struct {
	Code    int            `json:"code"`
	Kind    string         `json:"kind,omitempty"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Data    interface{}    `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, APIResponse{
		Code:    CodeOK,
		Message: "accepted",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}

// Fail writes err with the status and code of its kind. Untyped errors are
// reported as internal without leaking their text.
func Fail(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	status, code := statusOf(kind, err)
	message := errs.MessageOf(err)
	if kind == errs.KindInternal {
		message = "internal server error"
	}
	_ = c.Error(err)
	c.JSON(status, APIResponse{
		Code:    code,
		Kind:    string(kind),
		Message: message,
		Details: errs.FieldsOf(err),
	})
}

func statusOf(kind errs.Kind, err error) (int, int) {
	switch kind {
	case errs.KindValidation:
		return http.StatusBadRequest, CodeBadRequest
	case errs.KindNotFound:
		switch errs.FieldsOf(err)["resource"] {
		case "session":
			return http.StatusNotFound, CodeSessionNotFound
		case "document":
			return http.StatusNotFound, CodeDocumentNotFound
		}
		return http.StatusNotFound, CodeNotFound
	case errs.KindCollectionNotFound:
		return http.StatusNotFound, CodeCollectionNotFound
	case errs.KindModelMismatch:
		return http.StatusConflict, CodeModelMismatch
	case errs.KindDimensionMismatch:
		return http.StatusUnprocessableEntity, CodeDimensionMismatch
	case errs.KindCapabilityError:
		return http.StatusBadGateway, CodeCapabilityError
	case errs.KindStore:
		return http.StatusBadGateway, CodeStoreError
	case errs.KindCapabilityTimeout:
		return http.StatusGatewayTimeout, CodeCapabilityTimeout
	}
	return http.StatusInternalServerError, CodeInternalServer
}
