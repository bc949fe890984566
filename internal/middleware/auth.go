package middleware

import (
	"net/http"
	"strings"

	"aistudio2api-go/internal/apierr"
	"github.com/gin-gonic/gin"
)

// KeyAuth validates client API keys from any of the accepted sources:
// Authorization: Bearer, x-goog-api-key, x-api-key, and the ?key= query
// parameter. With no keys configured all requests pass.
func KeyAuth(allowedKeys []string) gin.HandlerFunc {
	keySet := make(map[string]bool)
	for _, k := range allowedKeys {
		if k != "" {
			keySet[k] = true
		}
	}

	return func(c *gin.Context) {
		if len(keySet) == 0 {
			c.Next()
			return
		}

		key := extractKey(c)
		if key == "" {
			respondUnauthorized(c, "API key not provided")
			return
		}
		if !keySet[key] {
			respondUnauthorized(c, "Invalid API key")
			return
		}

		c.Set("api_key", key)
		c.Next()
	}
}

func extractKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			return strings.TrimSpace(auth[7:])
		}
		return auth
	}
	if key := c.GetHeader("x-goog-api-key"); key != "" {
		return key
	}
	if key := c.GetHeader("x-api-key"); key != "" {
		return key
	}
	return c.Query("key")
}

func respondUnauthorized(c *gin.Context, message string) {
	apiErr := apierr.New(http.StatusUnauthorized, "invalid_api_key", "invalid_request_error", message)
	payload, err := apiErr.ToJSON(apierr.DetectFormat(c.Request.URL.Path))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{"message": message, "type": "invalid_request_error"},
		})
		return
	}
	c.Data(http.StatusUnauthorized, "application/json", payload)
	c.Abort()
}
