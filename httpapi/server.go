// Package httpapi exposes the orchestrators to a display layer over HTTP:
// submit and cancel entry points, flow state for polling, quotes, and
// balances. Amounts cross this boundary as decimal strings and are
// converted at the edge; everything behind it works in base units.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	bridge "github.com/utopos/bridge"
)

// Server wires the orchestrators into gin handlers.
type Server struct {
	registry   *bridge.Registry
	migrations *bridge.MigrationOrchestrator
	purchases  *bridge.PurchaseOrchestrator
	log        *zap.Logger
}

// NewServer creates the HTTP display surface. A nil logger disables logging.
func NewServer(registry *bridge.Registry, migrations *bridge.MigrationOrchestrator, purchases *bridge.PurchaseOrchestrator, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		registry:   registry,
		migrations: migrations,
		purchases:  purchases,
		log:        log,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	{
		api.POST("/migrations", s.submitMigration)
		api.GET("/migrations/:account/:source", s.migrationStatus)
		api.POST("/migrations/:account/:source/cancel", s.cancelMigration)

		api.POST("/purchases", s.submitPurchase)
		api.GET("/purchases/:account/:payment", s.purchaseStatus)
		api.POST("/purchases/:account/:payment/cancel", s.cancelPurchase)

		api.GET("/quote", s.quote)
		api.GET("/balances/:account", s.balance)
	}
	return router
}

type migrationRequest struct {
	Account string `json:"account" binding:"required"`
	Source  string `json:"source" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

type purchaseRequest struct {
	Account string `json:"account" binding:"required"`
	Payment string `json:"payment" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

func (s *Server) submitMigration(c *gin.Context) {
	var req migrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, ok := parseAccount(c, req.Account)
	if !ok {
		return
	}
	source, err := bridge.ParseSourceVersion(req.Source)
	if err != nil {
		writeFlowError(c, err)
		return
	}
	token, err := s.registry.Resolve(source.TokenRole())
	if err != nil {
		writeFlowError(c, err)
		return
	}
	amount, err := bridge.ToBaseUnits(req.Amount, token.Decimals)
	if err != nil {
		writeFlowError(c, err)
		return
	}

	if s.migrations.Active(account, source) {
		writeFlowError(c, bridge.NewFlowError(bridge.ErrCodeBusy, "a migration for this account and version is already in flight", nil))
		return
	}

	intent := bridge.NewMigrationIntent(account, source, amount)
	go func() {
		// The flow outlives the HTTP request; its outcome is published in
		// the snapshot the display layer polls.
		if _, err := s.migrations.SubmitMigration(context.Background(), intent); err != nil {
			s.log.Warn("migration ended with error",
				zap.String("intent", intent.ID.String()),
				zap.Error(err),
			)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"intentId": intent.ID.String(),
		"status":   "/api/migrations/" + account.Hex() + "/" + source.String(),
	})
}

func (s *Server) migrationStatus(c *gin.Context) {
	account, ok := parseAccount(c, c.Param("account"))
	if !ok {
		return
	}
	source, err := bridge.ParseSourceVersion(c.Param("source"))
	if err != nil {
		writeFlowError(c, err)
		return
	}

	if snapshot, found := s.migrations.Snapshot(account, source); found {
		c.JSON(http.StatusOK, snapshot)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "no migration flow for this account and version"})
}

func (s *Server) cancelMigration(c *gin.Context) {
	account, ok := parseAccount(c, c.Param("account"))
	if !ok {
		return
	}
	source, err := bridge.ParseSourceVersion(c.Param("source"))
	if err != nil {
		writeFlowError(c, err)
		return
	}

	if s.migrations.Cancel(account, source) {
		c.JSON(http.StatusOK, gin.H{"cancelled": true})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "no migration flow in flight"})
}

func (s *Server) submitPurchase(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, ok := parseAccount(c, req.Account)
	if !ok {
		return
	}
	payment, err := bridge.ParsePaymentKind(req.Payment)
	if err != nil {
		writeFlowError(c, err)
		return
	}
	token, err := s.registry.Resolve(payment.TokenRole())
	if err != nil {
		writeFlowError(c, err)
		return
	}
	amount, err := bridge.ToBaseUnits(req.Amount, token.Decimals)
	if err != nil {
		writeFlowError(c, err)
		return
	}

	if s.purchases.Active(account, payment) {
		writeFlowError(c, bridge.NewFlowError(bridge.ErrCodeBusy, "a purchase for this account and payment token is already in flight", nil))
		return
	}

	intent := bridge.NewPurchaseIntent(account, payment, amount)
	go func() {
		if _, err := s.purchases.SubmitPurchase(context.Background(), intent); err != nil {
			s.log.Warn("purchase ended with error",
				zap.String("intent", intent.ID.String()),
				zap.Error(err),
			)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"intentId": intent.ID.String(),
		"status":   "/api/purchases/" + account.Hex() + "/" + payment.String(),
	})
}

func (s *Server) purchaseStatus(c *gin.Context) {
	account, ok := parseAccount(c, c.Param("account"))
	if !ok {
		return
	}
	payment, err := bridge.ParsePaymentKind(c.Param("payment"))
	if err != nil {
		writeFlowError(c, err)
		return
	}

	if snapshot, found := s.purchases.Snapshot(account, payment); found {
		c.JSON(http.StatusOK, snapshot)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "no purchase flow for this account and payment token"})
}

func (s *Server) cancelPurchase(c *gin.Context) {
	account, ok := parseAccount(c, c.Param("account"))
	if !ok {
		return
	}
	payment, err := bridge.ParsePaymentKind(c.Param("payment"))
	if err != nil {
		writeFlowError(c, err)
		return
	}

	if s.purchases.Cancel(account, payment) {
		c.JSON(http.StatusOK, gin.H{"cancelled": true})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "no purchase flow in flight"})
}

// quote answers GET /api/quote?payment=usdt&amount=1.5 with the advisory
// output amount, both in base units and as a decimal string.
func (s *Server) quote(c *gin.Context) {
	payment, err := bridge.ParsePaymentKind(c.Query("payment"))
	if err != nil {
		writeFlowError(c, err)
		return
	}
	token, err := s.registry.Resolve(payment.TokenRole())
	if err != nil {
		writeFlowError(c, err)
		return
	}
	amount, err := bridge.ToBaseUnits(c.Query("amount"), token.Decimals)
	if err != nil {
		writeFlowError(c, err)
		return
	}

	quote, err := s.purchases.Quote(c.Request.Context(), payment, amount)
	if err != nil {
		writeFlowError(c, err)
		return
	}

	target, err := s.registry.MigrationTarget()
	if err != nil {
		writeFlowError(c, err)
		return
	}
	display, err := bridge.FromBaseUnits(quote.Output, target.Decimals)
	if err != nil {
		writeFlowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payment":   payment.String(),
		"amountIn":  quote.AmountIn.String(),
		"output":    quote.Output.String(),
		"display":   display,
		"stale":     !quote.Latest,
		"advisory":  true,
		"requestId": quote.RequestID,
	})
}

// balance answers GET /api/balances/:account?role=legacy-v1 with the
// account's balance of the given registry token, rendered so the display
// layer's Max affordance round-trips exactly.
func (s *Server) balance(c *gin.Context) {
	account, ok := parseAccount(c, c.Param("account"))
	if !ok {
		return
	}
	token, err := s.registry.Resolve(bridge.Role(c.Query("role")))
	if err != nil {
		writeFlowError(c, err)
		return
	}

	balance, err := s.migrations.Balances().BalanceOf(c.Request.Context(), token, account)
	if err != nil {
		writeFlowError(c, err)
		return
	}
	display, err := bridge.FromBaseUnits(balance, token.Decimals)
	if err != nil {
		writeFlowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":  token.Symbol,
		"balance": balance.String(),
		"display": display,
	})
}

func parseAccount(c *gin.Context, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account address"})
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// writeFlowError maps the error taxonomy onto HTTP statuses.
func writeFlowError(c *gin.Context, err error) {
	var fe *bridge.FlowError
	if !errors.As(err, &fe) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusBadGateway
	switch fe.Code {
	case bridge.ErrCodeInvalidAmount, bridge.ErrCodeUnknownToken:
		status = http.StatusBadRequest
	case bridge.ErrCodeBusy:
		status = http.StatusConflict
	case bridge.ErrCodeNetworkMismatch, bridge.ErrCodeInsufficientBalance:
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"error": fe.Message, "code": fe.Code, "details": fe.Details})
}
