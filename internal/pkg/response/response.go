// Package response writes the JSON envelope shared by every endpoint.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"
)

type apiError struct {
	code uint32
	msg  string
}

func (e apiError) Error() string {
	return e.msg
}

func (e apiError) Code() uint32 {
	return e.code
}

// CodeError pairs an errcode value with a client-facing message.
func CodeError(code int, msg string) error {
	return apiError{code: uint32(code), msg: msg}
}

func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

// Error reports failures in the envelope with HTTP 200; callers branch on code.
func Error(c *gin.Context, code int, message string) {
	proxyutil.FailJson(c, http.StatusOK, CodeError(code, message))
}
