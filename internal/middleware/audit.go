package middleware

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-attendance-api/pkg/middleware/requestid"
)

const auditContextKey = "auditContext"

type auditContext struct {
	RequestID string `json:"requestId,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// AuditContext captures request metadata that attendance ledger entries
// store in their context_info column.
func AuditContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := json.Marshal(auditContext{
			RequestID: requestid.Value(c),
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		})
		if err == nil {
			c.Set(auditContextKey, string(body))
		}
		c.Next()
	}
}

// AuditContextInfo returns the metadata captured by AuditContext, or "".
func AuditContextInfo(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(auditContextKey)
}
