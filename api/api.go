package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaysms/relay"
	"github.com/relaysms/relay/api/middleware"
	"github.com/relaysms/relay/config"
	"github.com/relaysms/relay/internal/apierror"
)

type Api struct {
	relay  *relay.Relay
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/campaigns", a.CreateCampaign)
	router.GET("/campaigns/:id", a.GetCampaign)
	router.GET("/campaigns", a.GetAllCampaigns)
	router.POST("/campaigns/:id/enqueue", a.EnqueueCampaign)
	router.POST("/campaigns/:id/cancel", a.CancelCampaign)
	router.GET("/campaigns/:id/status", a.GetCampaignStatus)

	router.POST("/wallet/topup", a.TopUpWallet)
	router.GET("/wallet", a.GetWalletBalance)
	router.GET("/wallet/transactions", a.GetWalletTransactions)

	router.GET("/automations/:id", a.GetAutomation)
	router.DELETE("/automations/:id", a.CancelAutomation)

	router.POST("/webhooks/:provider", a.ReceiveProviderWebhook)
	return a.router
}

// jsonError writes the structured error body, keeping the machine-readable
// code separate from the human message.
func jsonError(c *gin.Context, err error) {
	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"code": apiErr.Code, "message": apiErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"code": apierror.ErrInternalServer, "message": err.Error()})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": apierror.ErrBadRequest, "message": message})
}

func NewAPI(r *relay.Relay) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	router := gin.Default()
	router.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		router.Use(middleware.SecretKeyAuthMiddleware())
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{relay: r, router: router}
}
