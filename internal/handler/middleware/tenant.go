package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	HeaderTenantID   = "X-Tenant-ID"
	HeaderCustomerID = "X-Customer-ID"
	HeaderSessionID  = "X-Session-ID"

	contextTenantID = "tenant_id"
)

// RequireTenant pulls the tenant id off the request. Identity/session
// transport lives upstream; by the time a request reaches this service
// the gateway has put the resolved tenant in X-Tenant-ID.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(HeaderTenantID)
		if tenantID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": gin.H{"message": "Missing " + HeaderTenantID + " header"},
			})
			return
		}
		c.Set(contextTenantID, tenantID)
		c.Next()
	}
}

func GetTenantID(c *gin.Context) (string, bool) {
	tenantID, ok := c.Get(contextTenantID)
	if !ok {
		return "", false
	}
	id, ok := tenantID.(string)
	return id, ok && id != ""
}
