package handlers

import "github.com/gin-gonic/gin"

const currentUserKey = "credit_ledger.user_id"

// SetCurrentUser stores the authenticated wallet owner on the request.
func SetCurrentUser(c *gin.Context, userID uint64) {
	c.Set(currentUserKey, userID)
}

// currentUser returns the authenticated owner, or 0 for anonymous requests.
func currentUser(c *gin.Context) uint64 {
	userID, _ := c.Get(currentUserKey)
	id, _ := userID.(uint64)
	return id
}
