package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/f-sync/followback/internal/identity"
	"github.com/f-sync/followback/internal/ratelimit"
	"github.com/f-sync/followback/internal/report"
	"github.com/f-sync/followback/internal/session"
	"github.com/f-sync/followback/internal/workflow"
)

const (
	reportRoutePath            = "/"
	staticRoutePath            = "/static"
	healthRoutePath            = "/healthz"
	accountsRoutePath          = "/api/accounts"
	transitionRoutePath        = "/api/accounts/:username/transition"
	pinRoutePath               = "/api/accounts/:username/pin"
	visitRoutePath             = "/api/accounts/:username/visit"
	verifyRoutePath            = "/api/accounts/:username/verify"
	rateRoutePath              = "/api/rate"
	rateStreamRoutePath        = "/api/rate/stream"
	modeRoutePath              = "/api/mode"
	resetRoutePath             = "/api/reset"
	diagnosticsRoutePath       = "/api/diagnostics"
	reloadRoutePath            = "/api/reload"
	reloadTaskRoutePath        = "/api/reload/:task"
	usernameParameter          = "username"
	taskParameter              = "task"
	categoryQueryParameter     = "category"
	searchQueryParameter       = "q"
	sortQueryParameter         = "sort"
	htmlContentType            = "text/html; charset=utf-8"
	healthStatusKey            = "status"
	healthStatusOK             = "ok"
	errorResponseKey           = "error"
	errorMessageRenderFailure  = "report rendering failed"
	errorMessageInvalidPayload = "invalid request payload"
	errorMessageInternal       = "internal error"
	errorMessageReloadDisabled = "reload is not configured"
	errMessageMissingSession   = "router requires a session"
	logMessageRenderFailure    = "report render failure"
	logMessageRequestFailure   = "request failed"
	logFieldPath               = "path"
	ginModeRelease             = "release"
	defaultStatusInterval      = 5 * time.Second
)

// SessionService is the part of a session the HTTP API drives.
type SessionService interface {
	RequestTransition(ctx context.Context, username string, target workflow.Category, now time.Time) (session.TransitionResult, error)
	EvaluateRate(now time.Time) ratelimit.Status
	Verify(username string) identity.Verification
	Pin(ctx context.Context, username string) error
	Unpin(ctx context.Context, username string) error
	MarkVisited(ctx context.Context, username string) error
	SetMode(ctx context.Context, mode ratelimit.Mode) error
	Reset(ctx context.Context) error
	Accounts(filter session.Filter) ([]session.Account, error)
	Counts() workflow.Counts
	Limits() ratelimit.Limits
	Diagnostics() session.DiagnosticsReport
}

// ReloadFunc refreshes the session from its export sources.
type ReloadFunc func(ctx context.Context) error

// RouterConfig configures the HTTP routing for the workflow API.
type RouterConfig struct {
	Session        SessionService
	Reload         ReloadFunc
	Logger         *zap.Logger
	Now            func() time.Time
	StatusInterval time.Duration
}

var errMissingSession = errors.New(errMessageMissingSession)

// NewRouter constructs a Gin engine serving the report, the JSON API and the rate stream.
func NewRouter(configuration RouterConfig) (*gin.Engine, error) {
	if configuration.Session == nil {
		return nil, errMissingSession
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := configuration.Now
	if now == nil {
		now = time.Now
	}
	statusInterval := configuration.StatusInterval
	if statusInterval <= 0 {
		statusInterval = defaultStatusInterval
	}
	staticAssets, err := report.StaticAssets()
	if err != nil {
		return nil, err
	}

	gin.SetMode(ginModeRelease)
	engine := gin.New()
	engine.Use(gin.Recovery())

	handler := workflowHandler{
		session:        configuration.Session,
		reload:         configuration.Reload,
		reloads:        newReloadTracker(),
		logger:         logger,
		now:            now,
		statusInterval: statusInterval,
	}

	engine.GET(reportRoutePath, handler.serveReport)
	engine.StaticFS(staticRoutePath, http.FS(staticAssets))
	engine.GET(healthRoutePath, handler.healthStatus)

	engine.GET(accountsRoutePath, handler.listAccounts)
	engine.POST(transitionRoutePath, handler.requestTransition)
	engine.POST(pinRoutePath, handler.pinAccount)
	engine.DELETE(pinRoutePath, handler.unpinAccount)
	engine.POST(visitRoutePath, handler.markVisited)
	engine.GET(verifyRoutePath, handler.verifyAccount)

	engine.GET(rateRoutePath, handler.rateStatus)
	engine.GET(rateStreamRoutePath, handler.streamRateStatus)
	engine.PUT(modeRoutePath, handler.setMode)
	engine.POST(resetRoutePath, handler.resetState)
	engine.GET(diagnosticsRoutePath, handler.diagnostics)
	engine.POST(reloadRoutePath, handler.startReload)
	engine.GET(reloadTaskRoutePath, handler.reloadTaskStatus)

	return engine, nil
}

type workflowHandler struct {
	session        SessionService
	reload         ReloadFunc
	reloads        *reloadTracker
	logger         *zap.Logger
	now            func() time.Time
	statusInterval time.Duration
}

type transitionRequest struct {
	Category string `json:"category" binding:"required"`
}

type modeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

type accountsResponse struct {
	Accounts []session.Account `json:"accounts"`
	Counts   workflow.Counts   `json:"counts"`
}

type modeResponse struct {
	Mode ratelimit.Mode   `json:"mode"`
	Rate ratelimit.Status `json:"rate"`
}

func (handler workflowHandler) serveReport(ginContext *gin.Context) {
	pageData, err := report.CollectPageData(handler.session, handler.now())
	if err != nil {
		handler.logger.Error(logMessageRenderFailure, zap.Error(err))
		ginContext.String(http.StatusInternalServerError, errorMessageRenderFailure)
		return
	}
	pageHTML, err := report.RenderPage(pageData)
	if err != nil {
		handler.logger.Error(logMessageRenderFailure, zap.Error(err))
		ginContext.String(http.StatusInternalServerError, errorMessageRenderFailure)
		return
	}
	ginContext.Data(http.StatusOK, htmlContentType, []byte(pageHTML))
}

func (handler workflowHandler) healthStatus(ginContext *gin.Context) {
	ginContext.JSON(http.StatusOK, map[string]string{healthStatusKey: healthStatusOK})
}

func (handler workflowHandler) listAccounts(ginContext *gin.Context) {
	accounts, err := handler.session.Accounts(session.Filter{
		Category: ginContext.Query(categoryQueryParameter),
		Query:    ginContext.Query(searchQueryParameter),
		Sort:     session.SortOrder(ginContext.Query(sortQueryParameter)),
	})
	if err != nil {
		handler.respondError(ginContext, err)
		return
	}
	ginContext.JSON(http.StatusOK, accountsResponse{Accounts: accounts, Counts: handler.session.Counts()})
}

func (handler workflowHandler) requestTransition(ginContext *gin.Context) {
	var request transitionRequest
	if err := ginContext.ShouldBindJSON(&request); err != nil {
		ginContext.JSON(http.StatusBadRequest, gin.H{errorResponseKey: errorMessageInvalidPayload})
		return
	}
	result, err := handler.session.RequestTransition(ginContext.Request.Context(), ginContext.Param(usernameParameter), workflow.Category(strings.TrimSpace(request.Category)), handler.now())
	if err != nil {
		handler.respondError(ginContext, err)
		return
	}
	if result.Blocked {
		ginContext.JSON(http.StatusTooManyRequests, result)
		return
	}
	ginContext.JSON(http.StatusOK, result)
}

func (handler workflowHandler) pinAccount(ginContext *gin.Context) {
	handler.respondAfter(ginContext, handler.session.Pin(ginContext.Request.Context(), ginContext.Param(usernameParameter)))
}

func (handler workflowHandler) unpinAccount(ginContext *gin.Context) {
	handler.respondAfter(ginContext, handler.session.Unpin(ginContext.Request.Context(), ginContext.Param(usernameParameter)))
}

func (handler workflowHandler) markVisited(ginContext *gin.Context) {
	handler.respondAfter(ginContext, handler.session.MarkVisited(ginContext.Request.Context(), ginContext.Param(usernameParameter)))
}

func (handler workflowHandler) verifyAccount(ginContext *gin.Context) {
	ginContext.JSON(http.StatusOK, handler.session.Verify(ginContext.Param(usernameParameter)))
}

func (handler workflowHandler) rateStatus(ginContext *gin.Context) {
	ginContext.JSON(http.StatusOK, handler.session.EvaluateRate(handler.now()))
}

func (handler workflowHandler) setMode(ginContext *gin.Context) {
	var request modeRequest
	if err := ginContext.ShouldBindJSON(&request); err != nil {
		ginContext.JSON(http.StatusBadRequest, gin.H{errorResponseKey: errorMessageInvalidPayload})
		return
	}
	if err := handler.session.SetMode(ginContext.Request.Context(), ratelimit.Mode(request.Mode)); err != nil {
		handler.respondError(ginContext, err)
		return
	}
	status := handler.session.EvaluateRate(handler.now())
	ginContext.JSON(http.StatusOK, modeResponse{Mode: status.Mode, Rate: status})
}

func (handler workflowHandler) resetState(ginContext *gin.Context) {
	handler.respondAfter(ginContext, handler.session.Reset(ginContext.Request.Context()))
}

func (handler workflowHandler) diagnostics(ginContext *gin.Context) {
	ginContext.JSON(http.StatusOK, handler.session.Diagnostics())
}

// respondAfter answers a mutation with the current counts, or maps its error.
func (handler workflowHandler) respondAfter(ginContext *gin.Context, err error) {
	if err != nil {
		handler.respondError(ginContext, err)
		return
	}
	ginContext.JSON(http.StatusOK, handler.session.Counts())
}

func (handler workflowHandler) respondError(ginContext *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrUnknownAccount):
		ginContext.JSON(http.StatusNotFound, gin.H{errorResponseKey: err.Error()})
	case errors.Is(err, workflow.ErrNotPending):
		ginContext.JSON(http.StatusConflict, gin.H{errorResponseKey: err.Error()})
	case errors.Is(err, workflow.ErrUnknownCategory),
		errors.Is(err, ratelimit.ErrUnknownMode),
		errors.Is(err, session.ErrUnknownFilter),
		errors.Is(err, session.ErrUnknownSort):
		ginContext.JSON(http.StatusBadRequest, gin.H{errorResponseKey: err.Error()})
	default:
		handler.logger.Error(logMessageRequestFailure, zap.String(logFieldPath, ginContext.FullPath()), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, gin.H{errorResponseKey: errorMessageInternal})
	}
}
