package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaysms/relay/model"
)

// ReceiveProviderWebhook ingests one provider event through the replay
// guard. The external event ID comes from the X-Event-ID header, which every
// supported provider sets on delivery and redelivery alike. A redelivery is
// answered with the recorded outcome and a 200 so the provider stops
// retrying.
func (a Api) ReceiveProviderWebhook(c *gin.Context) {
	provider, passed := c.Params.Get("provider")
	if !passed {
		badRequest(c, "provider is required. pass provider in the route /:provider")
		return
	}

	externalEventID := c.GetHeader("X-Event-ID")
	if externalEventID == "" {
		badRequest(c, "X-Event-ID header is required")
		return
	}

	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		badRequest(c, "tenant_id query parameter is required")
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "failed to read request body")
		return
	}

	event := &model.WebhookEvent{
		Provider:        provider,
		ExternalEventID: externalEventID,
		TenantID:        tenantID,
		EventType:       c.GetHeader("X-Event-Type"),
	}

	processed, replayed, err := a.relay.HandleProviderEvent(c.Request.Context(), event, payload)
	if err != nil {
		jsonError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"event": processed, "replayed": replayed})
}
