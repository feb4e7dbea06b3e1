package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	model2 "github.com/relaysms/relay/api/model"
)

func (a Api) TopUpWallet(c *gin.Context) {
	var topUp model2.TopUpWallet
	if err := c.ShouldBindJSON(&topUp); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := topUp.ValidateTopUpWallet(); err != nil {
		badRequest(c, err.Error())
		return
	}

	resp, err := a.relay.TopUpWallet(c.Request.Context(), topUp.TenantID, topUp.Amount, topUp.IdempotencyKey, topUp.Reason)
	if err != nil {
		jsonError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetWalletBalance(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		badRequest(c, "tenant_id query parameter is required")
		return
	}

	resp, err := a.relay.GetWalletBalance(c.Request.Context(), tenantID)
	if err != nil {
		jsonError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetWalletTransactions(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		badRequest(c, "tenant_id query parameter is required")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	resp, err := a.relay.GetWalletTransactions(c.Request.Context(), tenantID, limit, offset)
	if err != nil {
		jsonError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
