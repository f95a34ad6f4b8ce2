package webapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/quietlibrary/tracker/pkg/library"
)

const (
	principalContextKey = "auth_principal"
	requestIDHeader     = "X-Request-ID"
)

// requestIDMiddleware tags every request with an identifier, preserving a
// caller-supplied one so upstream proxies can correlate logs.
func requestIDMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		requestID := ctx.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx.Writer.Header().Set(requestIDHeader, requestID)
		ctx.Set("request_id", requestID)
		ctx.Next()
	}
}

func (handler *httpHandler) authMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authorization := ctx.GetHeader("Authorization")
		token, found := strings.CutPrefix(authorization, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing bearer token"))
			return
		}
		principal, err := handler.tokenManager.Verify(strings.TrimSpace(token))
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid token"))
			return
		}
		ctx.Set(principalContextKey, principal)
		ctx.Next()
	}
}

func (handler *httpHandler) requireAdministrator() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		principal, ok := getPrincipal(ctx)
		if !ok {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
			return
		}
		if !principal.Role.CanAdminister() {
			ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", "administrator access required"))
			return
		}
		ctx.Next()
	}
}

func getPrincipal(ctx *gin.Context) (library.Principal, bool) {
	value, ok := ctx.Get(principalContextKey)
	if !ok {
		return library.Principal{}, false
	}
	principal, ok := value.(library.Principal)
	return principal, ok
}
