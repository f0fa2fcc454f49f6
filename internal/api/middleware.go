package api

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		providedKey := c.GetHeader("X-API-KEY")
		if apiKey == "" || subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			log.Warn().Str("middleware", "APIKeyMiddleware").Str("path", c.FullPath()).Msg("Invalid or missing API key")
			abortWithError(c, &ApiError{Code: ErrCodeUnauthorized, Message: "Invalid or missing API key"})
			return
		}
		c.Next()
	}
}
