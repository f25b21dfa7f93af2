package common

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Business codes used in the response envelope.
const (
	CodeOK               = 0
	CodeInvalidJSON      = 10001
	CodeInvalidRequest   = 10002
	CodeAuth             = 40101
	CodeNotFound         = 40400
	CodeMethodNotAllowed = 40500
	CodeRateLimited      = 42901
	CodeGeneration       = 50201
	CodeInternal         = 50001
	CodeUnavailable      = 50301
)

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    CodeOK,
		"message": "ok",
		"data":    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.AbortWithStatusJSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}

// FailErr writes err using the error taxonomy.
func FailErr(c *gin.Context, err error) {
	k := KindOf(err)
	if d, ok := RetryAfter(err); ok && k == KindRateLimited {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
	}
	Fail(c, HTTPStatus(k), codeFor(k), PublicMessage(err))
}

func codeFor(k Kind) int {
	switch k {
	case KindInvalidRequest:
		return CodeInvalidRequest
	case KindNotFound:
		return CodeNotFound
	case KindRateLimited:
		return CodeRateLimited
	case KindAuth:
		return CodeAuth
	case KindGenerationFailed:
		return CodeGeneration
	default:
		return CodeInternal
	}
}
