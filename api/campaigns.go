package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	model2 "github.com/relaysms/relay/api/model"
)

func (a Api) CreateCampaign(c *gin.Context) {
	var newCampaign model2.CreateCampaign
	if err := c.ShouldBindJSON(&newCampaign); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := newCampaign.ValidateCreateCampaign(); err != nil {
		badRequest(c, err.Error())
		return
	}

	resp, err := a.relay.CreateCampaign(c.Request.Context(), newCampaign.ToCampaign())
	if err != nil {
		jsonError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetCampaign(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		badRequest(c, "id is required. pass id in the route /:id")
		return
	}

	resp, err := a.relay.GetCampaign(c.Request.Context(), id)
	if err != nil {
		jsonError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetAllCampaigns(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		badRequest(c, "tenant_id query parameter is required")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	resp, err := a.relay.GetAllCampaigns(c.Request.Context(), tenantID, limit, offset)
	if err != nil {
		jsonError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// EnqueueCampaign starts (or replays) a campaign send. The Idempotency-Key
// header carries the caller's key; duplicate requests with the same key get
// the first request's recorded outcome.
func (a Api) EnqueueCampaign(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		badRequest(c, "id is required. pass id in the route /:id")
		return
	}

	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		badRequest(c, "tenant_id query parameter is required")
		return
	}

	idempotencyKey := c.GetHeader("Idempotency-Key")
	if idempotencyKey == "" {
		badRequest(c, "Idempotency-Key header is required")
		return
	}

	resp, err := a.relay.EnqueueCampaign(c.Request.Context(), tenantID, id, idempotencyKey)
	if err != nil {
		jsonError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) CancelCampaign(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		badRequest(c, "id is required. pass id in the route /:id")
		return
	}

	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		badRequest(c, "tenant_id query parameter is required")
		return
	}

	resp, err := a.relay.CancelCampaign(c.Request.Context(), tenantID, id)
	if err != nil {
		jsonError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetCampaignStatus returns the status and counters without the full
// campaign body, cheap enough to poll while a send drains.
func (a Api) GetCampaignStatus(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		badRequest(c, "id is required. pass id in the route /:id")
		return
	}

	campaign, err := a.relay.GetCampaign(c.Request.Context(), id)
	if err != nil {
		jsonError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"campaign_id":     campaign.CampaignID,
		"status":          campaign.Status,
		"recipient_count": campaign.RecipientCount,
		"accepted_count":  campaign.AcceptedCount,
		"failed_count":    campaign.FailedCount,
	})
}
