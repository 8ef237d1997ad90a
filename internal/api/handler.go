// Package api exposes the engines over HTTP: the operator surface for
// baselines, scoring, patterns, discovery, investigations, the feedback loop
// and ring detection, plus health and readiness probes.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/liamashdown/insiderlens/internal/baseline"
	"github.com/liamashdown/insiderlens/internal/feedback"
	"github.com/liamashdown/insiderlens/internal/investigation"
	"github.com/liamashdown/insiderlens/internal/metrics"
	"github.com/liamashdown/insiderlens/internal/patterns"
	"github.com/liamashdown/insiderlens/internal/rings"
	"github.com/liamashdown/insiderlens/internal/scoring"
	"github.com/liamashdown/insiderlens/internal/storage"
	"github.com/liamashdown/insiderlens/internal/wallets"
	"github.com/sirupsen/logrus"
)

// Store is the read side the handlers use directly
type Store interface {
	Ping(ctx context.Context) error
	ListBaselines(ctx context.Context) ([]storage.PatternBaseline, error)
	GetTradeScore(ctx context.Context, tradeID int64) (*storage.TradeScore, error)
	ListConfirmedInsiders(ctx context.Context, trainedOnly bool) ([]storage.ConfirmedInsider, error)
}

// Services are the engines behind the routes
type Services struct {
	Baselines     *baseline.Engine
	Scoring       *scoring.Engine
	Patterns      *patterns.Engine
	Investigation *investigation.Service
	Feedback      *feedback.Loop
	Rings         *rings.Detector
	Wallets       *wallets.Recomputer
}

// Handler serves the API routes
type Handler struct {
	svc   Services
	store Store
	log   *logrus.Logger
}

// NewHandler creates the route handler
func NewHandler(svc Services, store Store, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, store: store, log: log}
}

// RegisterRoutes mounts every route on e
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.health)
	e.GET("/ready", h.ready)

	g := e.Group("/api/v1")

	g.GET("/baselines", h.listBaselines)
	g.POST("/baselines/calculate", h.calculateBaselines)
	g.POST("/baselines/update", h.updateBaselines)
	g.POST("/baselines/insider", h.calculateInsiderBaselines)

	g.GET("/trades/:id/score", h.getTradeScore)
	g.POST("/trades/:id/score", h.scoreTrade)
	g.POST("/scores/score-all", h.scoreAll)
	g.POST("/scores/rescore-all", h.rescoreAll)

	g.GET("/patterns", h.listPatterns)
	g.GET("/patterns/:name", h.getPattern)
	g.POST("/patterns", h.savePattern)
	g.POST("/patterns/validate", h.validatePatterns)

	g.POST("/discovery/run", h.runDiscovery)
	g.GET("/discovery/batches/:id", h.getBatch)

	g.GET("/candidates", h.listCandidates)
	g.GET("/candidates/:id", h.getCandidate)
	g.POST("/candidates/:id/start", h.startInvestigation)
	g.POST("/candidates/:id/resolve", h.resolveCandidate)
	g.POST("/candidates/:id/dismiss", h.dismissCandidate)
	g.POST("/candidates/:id/evidence", h.addEvidence)
	g.POST("/candidates/:id/notes", h.addNote)

	g.GET("/insiders", h.listInsiders)
	g.POST("/insiders", h.recordInsider)

	g.GET("/feedback/snapshot", h.feedbackSnapshot)
	g.POST("/feedback/run", h.runFeedback)

	g.GET("/wallets/:address/connections", h.walletConnections)
	g.POST("/wallets/connections", h.batchConnections)
	g.GET("/wallets/:address/related", h.relatedWallets)
	g.POST("/wallets/recompute", h.recomputeWallets)
}

func (h *Handler) health(c echo.Context) error {
	metrics.RecordHealthCheck(true)
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		metrics.RecordHealthCheck(false)
		h.log.WithError(err).Warn("Readiness check failed")
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	metrics.RecordHealthCheck(true)
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

type idRequest struct {
	ID int64 `param:"id" json:"-" validate:"required,gt=0"`
}

// pathID parses the :id path parameter
func pathID(c echo.Context) (int64, []ValidationError) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, []ValidationError{{
			Code:    "ERR_PARAM",
			Field:   "id",
			Message: "id must be a positive integer",
		}}
	}
	return id, nil
}

// bindInput binds a body the service validates itself
func bindInput(c echo.Context, v interface{}) []ValidationError {
	if err := c.Bind(v); err != nil {
		return validationErrors(err)
	}
	return nil
}

// Baselines

type categoriesRequest struct {
	Categories []string `json:"categories" validate:"omitempty,dive,required,max=64"`
	ForceFull  bool     `json:"force_full"`
}

func (h *Handler) listBaselines(c echo.Context) error {
	rows, err := h.store.ListBaselines(c.Request().Context())
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return ListResponse(c, rows, len(rows))
}

func (h *Handler) calculateBaselines(c echo.Context) error {
	var req categoriesRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}
	res, err := h.svc.Baselines.CalculateBaselines(c.Request().Context(), req.Categories)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, res)
}

func (h *Handler) updateBaselines(c echo.Context) error {
	var req categoriesRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}
	res, err := h.svc.Baselines.UpdateBaselinesIncremental(c.Request().Context(), req.Categories, req.ForceFull)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, res)
}

func (h *Handler) calculateInsiderBaselines(c echo.Context) error {
	res, err := h.svc.Baselines.CalculateInsiderBaselines(c.Request().Context())
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, res)
}

// Scoring

func (h *Handler) getTradeScore(c echo.Context) error {
	var req idRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}
	score, err := h.store.GetTradeScore(c.Request().Context(), req.ID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	if score == nil {
		return DataResponse(c, http.StatusNotFound, "trade has not been scored")
	}
	return SuccessResponse(c, score)
}

func (h *Handler) scoreTrade(c echo.Context) error {
	var req idRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}
	score, err := h.svc.Scoring.ScoreTradeByID(c.Request().Context(), req.ID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, score)
}

type batchScoreRequest struct {
	BatchSize int   `json:"batch_size" validate:"gte=0,lte=10000"`
	Limit     int64 `json:"limit" validate:"gte=0"`
}

func (r batchScoreRequest) options() scoring.Options {
	return scoring.Options{BatchSize: r.BatchSize, Limit: r.Limit}
}

func (h *Handler) scoreAll(c echo.Context) error {
	var req batchScoreRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}
	res, err := h.svc.Scoring.ScoreAllTrades(c.Request().Context(), req.options())
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, res)
}

func (h *Handler) rescoreAll(c echo.Context) error {
	var req batchScoreRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}
	res, err := h.svc.Scoring.RescoreAllTrades(c.Request().Context(), req.options())
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, res)
}

// Patterns

func (h *Handler) listPatterns(c echo.Context) error {
	rows, err := h.svc.Patterns.ListPatterns(c.Request().Context())
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return ListResponse(c, rows, len(rows))
}

func (h *Handler) getPattern(c echo.Context) error {
	p, err := h.svc.Patterns.GetPattern(c.Request().Context(), c.Param("name"))
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, p)
}

func (h *Handler) savePattern(c echo.Context) error {
	var def patterns.Definition
	if errs := bindInput(c, &def); errs != nil {
		return BadRequestResponse(c, errs)
	}
	p, err := h.svc.Patterns.SavePattern(c.Request().Context(), def)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return CreatedResponse(c, p)
}

func (h *Handler) validatePatterns(c echo.Context) error {
	res, err := h.svc.Patterns.ValidatePatterns(c.Request().Context())
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, res)
}

// Discovery and investigations

func (h *Handler) runDiscovery(c echo.Context) error {
	var opts investigation.DiscoveryOptions
	if errs := bindInput(c, &opts); errs != nil {
		return BadRequestResponse(c, errs)
	}
	res, err := h.svc.Investigation.Discover(c.Request().Context(), opts)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return CreatedResponse(c, res)
}

func (h *Handler) getBatch(c echo.Context) error {
	b, err := h.svc.Investigation.GetBatch(c.Request().Context(), c.Param("id"))
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, b)
}

type listCandidatesRequest struct {
	Status   string `query:"status" validate:"omitempty,oneof=undiscovered investigating resolved dismissed"`
	Priority string `query:"priority" validate:"omitempty,oneof=critical high medium low"`
	BatchID  string `query:"batch_id" validate:"omitempty,max=64"`
	Wallet   string `query:"wallet" validate:"omitempty,max=128"`
	Limit    int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
	Offset   int    `query:"offset" validate:"gte=0"`
}

func (h *Handler) listCandidates(c echo.Context) error {
	var req listCandidatesRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}
	rows, err := h.svc.Investigation.ListCandidates(c.Request().Context(), storage.CandidateFilter{
		Status:   req.Status,
		Priority: req.Priority,
		BatchID:  req.BatchID,
		Wallet:   req.Wallet,
		Limit:    req.Limit,
		Offset:   req.Offset,
	})
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return ListResponse(c, rows, len(rows))
}

func (h *Handler) getCandidate(c echo.Context) error {
	var req idRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}
	cand, err := h.svc.Investigation.GetCandidate(c.Request().Context(), req.ID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, cand)
}

type startRequest struct {
	ID           int64  `param:"id" json:"-" validate:"required,gt=0"`
	Investigator string `json:"investigator" validate:"required,max=128"`
}

func (h *Handler) startInvestigation(c echo.Context) error {
	var req startRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}
	cand, err := h.svc.Investigation.StartInvestigation(c.Request().Context(), req.ID, req.Investigator)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, cand)
}

func (h *Handler) resolveCandidate(c echo.Context) error {
	id, errs := pathID(c)
	if errs != nil {
		return BadRequestResponse(c, errs)
	}
	var input investigation.ResolveInput
	if errs := bindInput(c, &input); errs != nil {
		return BadRequestResponse(c, errs)
	}
	res, err := h.svc.Investigation.ResolveCandidate(c.Request().Context(), id, input)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, res)
}

type dismissRequest struct {
	ID     int64  `param:"id" json:"-" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"required,max=1000"`
}

func (h *Handler) dismissCandidate(c echo.Context) error {
	var req dismissRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}
	cand, err := h.svc.Investigation.DismissCandidate(c.Request().Context(), req.ID, req.Reason)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, cand)
}

func (h *Handler) addEvidence(c echo.Context) error {
	id, errs := pathID(c)
	if errs != nil {
		return BadRequestResponse(c, errs)
	}
	var input investigation.EvidenceInput
	if errs := bindInput(c, &input); errs != nil {
		return BadRequestResponse(c, errs)
	}
	ev, err := h.svc.Investigation.AddEvidence(c.Request().Context(), id, input)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return CreatedResponse(c, ev)
}

type noteRequest struct {
	ID     int64  `param:"id" json:"-" validate:"required,gt=0"`
	Author string `json:"author" validate:"max=128"`
	Note   string `json:"note" validate:"required"`
}

func (h *Handler) addNote(c echo.Context) error {
	var req noteRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}
	cand, err := h.svc.Investigation.AddInvestigationNote(c.Request().Context(), req.ID, req.Author, req.Note)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, cand)
}

type listInsidersRequest struct {
	TrainedOnly bool `query:"trained_only"`
}

func (h *Handler) listInsiders(c echo.Context) error {
	var req listInsidersRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}
	rows, err := h.store.ListConfirmedInsiders(c.Request().Context(), req.TrainedOnly)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return ListResponse(c, rows, len(rows))
}

func (h *Handler) recordInsider(c echo.Context) error {
	var input investigation.InsiderInput
	if errs := bindInput(c, &input); errs != nil {
		return BadRequestResponse(c, errs)
	}
	insider, err := h.svc.Investigation.RecordConfirmedInsider(c.Request().Context(), input)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return CreatedResponse(c, insider)
}

// Feedback

func (h *Handler) feedbackSnapshot(c echo.Context) error {
	snap, err := h.svc.Feedback.Snapshot(c.Request().Context())
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, snap)
}

func (h *Handler) runFeedback(c echo.Context) error {
	var opts feedback.Options
	if errs := bindInput(c, &opts); errs != nil {
		return BadRequestResponse(c, errs)
	}
	res, err := h.svc.Feedback.RunFeedbackLoop(c.Request().Context(), opts)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, res)
}

// Wallets and rings

func (h *Handler) walletConnections(c echo.Context) error {
	conn, err := h.svc.Rings.ConnectionInfo(c.Request().Context(), c.Param("address"))
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, conn)
}

type batchConnectionsRequest struct {
	Wallets []string `json:"wallets" validate:"required,min=1,max=500,dive,required,max=128"`
}

func (h *Handler) batchConnections(c echo.Context) error {
	var req batchConnectionsRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}
	res, err := h.svc.Rings.BatchConnectionInfo(c.Request().Context(), req.Wallets)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, res)
}

func (h *Handler) relatedWallets(c echo.Context) error {
	rows, err := h.svc.Rings.RelatedWallets(c.Request().Context(), c.Param("address"))
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return ListResponse(c, rows, len(rows))
}

func (h *Handler) recomputeWallets(c echo.Context) error {
	res, err := h.svc.Wallets.Recompute(c.Request().Context())
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, res)
}
