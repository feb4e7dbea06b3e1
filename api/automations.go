package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (a Api) GetAutomation(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		badRequest(c, "id is required. pass id in the route /:id")
		return
	}

	resp, err := a.relay.GetAutomation(c.Request.Context(), id)
	if err != nil {
		jsonError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// CancelAutomation retracts one pending automation job. Cancelling a job that
// already ran is answered with the job's terminal state rather than an error.
func (a Api) CancelAutomation(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		badRequest(c, "id is required. pass id in the route /:id")
		return
	}

	if err := a.relay.CancelAutomation(c.Request.Context(), id); err != nil {
		jsonError(c, err)
		return
	}

	resp, err := a.relay.GetAutomation(c.Request.Context(), id)
	if err != nil {
		jsonError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
