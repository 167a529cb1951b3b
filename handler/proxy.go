package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gv211432/QueryDB-Natural-Language/gateway"
)

// Forwarder is the outbound half of the proxy.
type Forwarder interface {
	Forward(ctx context.Context, query, dbURI string) gateway.Result
}

// ProxyHandler serves POST /send-message and its /api/chat alias.
type ProxyHandler struct {
	Gateway Forwarder
}

func (h *ProxyHandler) Handle(c *gin.Context) {
	var req gateway.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeResult(c, gateway.MissingInput())
		return
	}

	writeResult(c, h.Gateway.Forward(c.Request.Context(), req.Query, req.DBURI))
}

func writeResult(c *gin.Context, res gateway.Result) {
	if !res.OK() {
		c.JSON(res.Failure.Status, res.Failure)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", res.Body)
}
