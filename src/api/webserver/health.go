package webserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health reports which credentials are configured.
type Health struct {
	Completion bool
	Search     bool
}

// GET /healthz
func (h Health) Get(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"completion": h.Completion,
		"search":     h.Search,
	})
}
