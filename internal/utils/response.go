// Package utils holds the JSON response envelopes shared by the handlers.
package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Success writes {"success": true, "data": ...} with status 200.
func Success(c *gin.Context, data gin.H) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// Error writes {"success": false, "error": msg}.
func Error(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{
		"success": false,
		"error":   msg,
	})
}

// Failure writes the bare {"error": msg} shape expected by webhook senders,
// adding "details" when non-empty.
func Failure(c *gin.Context, code int, msg, details string) {
	body := gin.H{"error": msg}
	if details != "" {
		body["details"] = details
	}
	c.AbortWithStatusJSON(code, body)
}
