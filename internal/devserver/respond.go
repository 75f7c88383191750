package devserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"spesync/internal/core"
)

// statusOverrides lets a route answer a kind with a non-default status,
// matching the service it stands in for.
type statusOverrides map[core.Kind]int

var (
	loginStatus  = statusOverrides{core.KindAuthentication: http.StatusBadRequest}
	deleteStatus = statusOverrides{core.KindAuthorization: http.StatusUnauthorized}
)

func respondMessage(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"message": message})
}

func respondError(c *gin.Context, err error, overrides statusOverrides) {
	kind := core.KindOf(err)
	status, ok := overrides[kind]
	if !ok {
		status = defaultStatus(kind)
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Server error"
	}
	respondMessage(c, status, message)
}

func defaultStatus(k core.Kind) int {
	switch k {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindAuthentication:
		return http.StatusUnauthorized
	case core.KindAuthorization:
		return http.StatusForbidden
	case core.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
