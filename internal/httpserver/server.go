package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/scryptex-labs/texledger/pkg/ledger"
	"go.uber.org/zap"
)

// Run boots the HTTP API using the supplied configuration and service.
func Run(ctx context.Context, cfg Config, logger *zap.Logger, service *ledger.Service, gate *ledger.CostGate) error {
	handler := &httpHandler{
		logger:  logger,
		service: service,
		gate:    gate,
		cfg:     cfg,
	}
	router := setupRouter(cfg, handler)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("texledger api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	registerValidations()
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metricsMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metricsHandler())

	api := router.Group("/api")
	api.Use(sessionMiddleware(cfg))

	api.POST("/account/bootstrap", handler.handleBootstrap)
	api.GET("/credits/balance", handler.handleBalance)
	api.POST("/credits/purchase", handler.handlePurchase)
	api.POST("/credits/use", handler.handleUse)
	api.GET("/credits/history", handler.handleHistory)
	api.POST("/analyses/charge", handler.handleAnalysisCharge)
	api.POST("/referral/generate", handler.handleReferralGenerate)
	api.POST("/referral/apply", handler.handleReferralApply)
	api.GET("/referral/info", handler.handleReferralInfo)

	return router
}

type httpHandler struct {
	logger  *zap.Logger
	service *ledger.Service
	gate    *ledger.CostGate
	cfg     Config
}

func (handler *httpHandler) handleBootstrap(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	account, err := handler.service.CreateAccount(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id": account.UserID,
		"balance": account.Balance,
	})
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	summary, err := handler.service.Balance(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"balance":            summary.Balance,
		"lifetime_purchased": summary.LifetimePurchased,
		"lifetime_used":      summary.LifetimeUsed,
	})
}

func (handler *httpHandler) handlePurchase(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	var request purchaseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", err.Error()))
		return
	}
	amount, err := ledger.NewCreditAmount(request.Amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.Purchase(requestCtx, userID, amount, request.PaymentMethod, request.PaymentID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, applyResponse(result))
}

func (handler *httpHandler) handleUse(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	var request useRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", err.Error()))
		return
	}
	amount, err := ledger.NewCreditAmount(request.Amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	purpose, err := ledger.ParseTransactionPurpose(request.Purpose)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	metadata, err := ledger.NewMetadataJSON(string(request.Metadata))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.Use(requestCtx, userID, amount, purpose, ledger.TransactionDetails{
		ProjectID:   request.ProjectID,
		ProjectName: request.ProjectName,
		Notes:       request.Notes,
		Metadata:    metadata,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, applyResponse(result))
}

func (handler *httpHandler) handleHistory(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	limit := intQuery(ctx, "limit", ledger.DefaultHistoryLimit)
	offset := intQuery(ctx, "offset", 0)
	filter, err := ledger.ParseHistoryFilter(ctx.DefaultQuery("type", "all"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	page, err := handler.service.History(requestCtx, userID, filter, limit, offset)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	transactions := make([]transactionPayload, 0, len(page.Transactions))
	for _, transaction := range page.Transactions {
		transactions = append(transactions, transactionToPayload(transaction))
	}
	ctx.JSON(http.StatusOK, gin.H{
		"transactions": transactions,
		"pagination": gin.H{
			"total":    page.Pagination.Total,
			"limit":    page.Pagination.Limit,
			"offset":   page.Pagination.Offset,
			"has_more": page.Pagination.HasMore,
		},
	})
}

func (handler *httpHandler) handleAnalysisCharge(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	var request analysisChargeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", err.Error()))
		return
	}
	analysisType, err := ledger.ParseAnalysisType(request.AnalysisType)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.gate.Charge(requestCtx, userID, analysisType, request.ProjectID, request.ProjectName)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, applyResponse(result))
}

func (handler *httpHandler) handleReferralGenerate(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	code, err := handler.service.GenerateReferralCode(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"code": code.String()})
}

func (handler *httpHandler) handleReferralApply(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	var request referralApplyRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", err.Error()))
		return
	}
	code, err := ledger.NewReferralCode(request.Code)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.RedeemReferralCode(requestCtx, userID, code)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"bonus_awarded":  result.RedeemerBonus,
		"referrer_bonus": result.ReferrerBonus,
	})
}

func (handler *httpHandler) handleReferralInfo(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	info, err := handler.service.ReferralInfo(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	referred := make([]gin.H, 0, len(info.ReferredUsers))
	for _, user := range info.ReferredUsers {
		referred = append(referred, gin.H{
			"user_id":       user.UserID,
			"bonus":         user.Bonus,
			"redeemed_unix": user.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{
		"referral_code":   info.ReferralCode,
		"referral_count":  info.ReferralCount,
		"referral_points": info.ReferralPoints,
		"referred_users":  referred,
	})
}

func (handler *httpHandler) sessionUser(ctx *gin.Context) (ledger.UserID, bool) {
	raw := sessionUserID(ctx)
	userID, err := ledger.NewUserID(raw)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return ledger.UserID{}, false
	}
	return userID, true
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	var insufficient ledger.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		ctx.JSON(http.StatusPaymentRequired, gin.H{
			"error": gin.H{
				"code":      "insufficient_credits",
				"message":   insufficient.Error(),
				"required":  insufficient.Required,
				"available": insufficient.Available,
			},
		})
		return
	}
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		handler.logger.Error("ledger request failed", zap.Error(err))
	}
	ctx.JSON(status, errorResponse(code, userFacingMessage(err, code)))
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound, "account_not_found"
	case errors.Is(err, ledger.ErrUnknownAnalysisType):
		return http.StatusBadRequest, "unknown_analysis_type"
	case errors.Is(err, ledger.ErrSelfReferralNotAllowed):
		return http.StatusConflict, "self_referral_not_allowed"
	case errors.Is(err, ledger.ErrReferralAlreadyUsed):
		return http.StatusConflict, "referral_already_used"
	case errors.Is(err, ledger.ErrDuplicatePayment):
		return http.StatusConflict, "duplicate_payment"
	case errors.Is(err, ledger.ErrInvalidReferralCode):
		return http.StatusBadRequest, "invalid_referral_code"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ledger.ErrInvalidPurpose),
		errors.Is(err, ledger.ErrInvalidTransactionKind),
		errors.Is(err, ledger.ErrInvalidHistoryFilter),
		errors.Is(err, ledger.ErrInvalidMetadataJSON),
		errors.Is(err, ledger.ErrMissingProjectID),
		errors.Is(err, ledger.ErrInvalidUserID):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, ledger.ErrStorageFailure):
		return http.StatusBadGateway, "storage_failure"
	}
	return http.StatusInternalServerError, "internal_error"
}

func userFacingMessage(err error, code string) string {
	if code == "storage_failure" || code == "internal_error" {
		return "ledger unavailable"
	}
	return err.Error()
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func intQuery(ctx *gin.Context, name string, fallback int) int {
	raw := ctx.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func applyResponse(result ledger.ApplyResult) gin.H {
	return gin.H{
		"new_balance": result.NewBalance,
		"transaction": transactionToPayload(result.Transaction),
	}
}

type transactionPayload struct {
	TransactionID  string          `json:"transaction_id"`
	Kind           string          `json:"kind"`
	Amount         int64           `json:"amount"`
	Purpose        string          `json:"purpose"`
	ProjectID      string          `json:"project_id,omitempty"`
	ProjectName    string          `json:"project_name,omitempty"`
	PaymentMethod  string          `json:"payment_method,omitempty"`
	PaymentID      string          `json:"payment_id,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}

func transactionToPayload(transaction ledger.Transaction) transactionPayload {
	return transactionPayload{
		TransactionID:  transaction.TransactionID,
		Kind:           transaction.Kind.String(),
		Amount:         transaction.Amount.Int64(),
		Purpose:        transaction.Purpose.String(),
		ProjectID:      transaction.ProjectID,
		ProjectName:    transaction.ProjectName,
		PaymentMethod:  transaction.PaymentMethod,
		PaymentID:      transaction.PaymentID,
		Notes:          transaction.Notes,
		Metadata:       json.RawMessage(transaction.MetadataJSON),
		CreatedUnixUTC: transaction.CreatedUnixUTC,
	}
}

type purchaseRequest struct {
	Amount        int64  `json:"amount" binding:"required,gt=0"`
	PaymentMethod string `json:"payment_method" binding:"required"`
	PaymentID     string `json:"payment_id"`
}

type useRequest struct {
	Amount      int64           `json:"amount" binding:"required,gt=0"`
	Purpose     string          `json:"purpose" binding:"required,txpurpose"`
	ProjectID   string          `json:"project_id"`
	ProjectName string          `json:"project_name"`
	Notes       string          `json:"notes"`
	Metadata    json.RawMessage `json:"metadata"`
}

type analysisChargeRequest struct {
	AnalysisType string `json:"analysis_type" binding:"required,analysistype"`
	ProjectID    string `json:"project_id" binding:"required"`
	ProjectName  string `json:"project_name"`
}

type referralApplyRequest struct {
	Code string `json:"code" binding:"required,referralcode"`
}
