package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheck answers the liveness probe. It deliberately does not touch the
// directory lock or the Docker client: it only proves the process is
// scheduling requests.
func HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}
