package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jwtly10/metalsbot/internal/backtest"
	"github.com/jwtly10/metalsbot/internal/bot"
	"github.com/jwtly10/metalsbot/internal/journal"
	"github.com/jwtly10/metalsbot/internal/types"
	"github.com/labstack/echo/v4"
)

// Engine is the live loop as seen by the API.
type Engine interface {
	Signals() []types.Signal
	States() []types.SymbolState
	Account() bot.AccountView
	Macro() types.MacroCheck
	Status() bot.Status
	Pause()
	Resume()
}

type AnnotationReader interface {
	Get(id string) (string, bool)
}

type Backtester interface {
	Backtest(ctx context.Context, symbol string, initialBalance, vix float64) (*backtest.Results, error)
}

// Deps are what the handlers read from. Only Engine is required.
type Deps struct {
	Engine      Engine
	Journal     journal.Sink
	Annotations AnnotationReader
	Backtester  Backtester
	Hub         *Hub
}

type Handler struct {
	deps Deps
	now  func() time.Time
}

func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps, now: time.Now}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/health", h.health)
	g.GET("/signals", h.signals)
	g.GET("/states", h.states)
	g.GET("/account", h.account)
	g.GET("/macro", h.macro)
	g.GET("/engine", h.engine)
	g.POST("/engine/pause", h.pause)
	g.POST("/engine/resume", h.resume)
	g.GET("/journal", h.listJournal)
	g.DELETE("/journal", h.clearJournal)
	g.GET("/journal/export", h.exportJournal)
	g.GET("/annotations/:id", h.annotation)
	g.POST("/backtest", h.backtest)

	if h.deps.Hub != nil {
		e.GET("/ws", h.deps.Hub.ServeWS)
	}
}

type healthResponse struct {
	Status    string    `json:"status"`
	Connected bool      `json:"connected"`
	Paused    bool      `json:"paused"`
	Time      time.Time `json:"time"`
}

func (h *Handler) health(c echo.Context) error {
	st := h.deps.Engine.Status()
	return successResponse(c, healthResponse{
		Status:    "ok",
		Connected: st.Connected,
		Paused:    st.Paused,
		Time:      h.now().UTC(),
	})
}

func (h *Handler) signals(c echo.Context) error {
	return successResponse(c, h.deps.Engine.Signals())
}

func (h *Handler) states(c echo.Context) error {
	return successResponse(c, h.deps.Engine.States())
}

func (h *Handler) account(c echo.Context) error {
	return successResponse(c, h.deps.Engine.Account())
}

func (h *Handler) macro(c echo.Context) error {
	return successResponse(c, h.deps.Engine.Macro())
}

func (h *Handler) engine(c echo.Context) error {
	return successResponse(c, h.deps.Engine.Status())
}

func (h *Handler) pause(c echo.Context) error {
	h.deps.Engine.Pause()
	return successResponse(c, h.deps.Engine.Status())
}

func (h *Handler) resume(c echo.Context) error {
	h.deps.Engine.Resume()
	return successResponse(c, h.deps.Engine.Status())
}

func (h *Handler) listJournal(c echo.Context) error {
	if h.deps.Journal == nil {
		return successResponse(c, []types.JournalTrade{})
	}
	trades, err := h.deps.Journal.List(c.Request().Context())
	if err != nil {
		slog.Error("Failed to list journal", "error", err)
		return internalErrorResponse(c)
	}
	return successResponse(c, trades)
}

func (h *Handler) clearJournal(c echo.Context) error {
	if h.deps.Journal == nil {
		return c.NoContent(http.StatusNoContent)
	}
	if err := h.deps.Journal.Clear(c.Request().Context()); err != nil {
		slog.Error("Failed to clear journal", "error", err)
		return internalErrorResponse(c)
	}
	slog.Info("Journal cleared")
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) exportJournal(c echo.Context) error {
	if h.deps.Journal == nil {
		return notFoundResponse(c, "journal is not configured")
	}
	data, err := h.deps.Journal.Export(c.Request().Context())
	if err != nil {
		slog.Error("Failed to export journal", "error", err)
		return internalErrorResponse(c)
	}

	filename := "metalsbot-journal-" + h.now().UTC().Format("20060102") + ".json"
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
}

type annotationResponse struct {
	SignalID string `json:"signalId"`
	Text     string `json:"text"`
}

func (h *Handler) annotation(c echo.Context) error {
	id := c.Param("id")
	if h.deps.Annotations == nil {
		return notFoundResponse(c, "no commentary for signal")
	}
	text, ok := h.deps.Annotations.Get(id)
	if !ok {
		return notFoundResponse(c, "no commentary for signal")
	}
	return successResponse(c, annotationResponse{SignalID: id, Text: text})
}

type BacktestRequest struct {
	Symbol         string  `json:"symbol" validate:"required,uppercase,max=10"`
	InitialBalance float64 `json:"initialBalance" default:"10000" validate:"gt=0"`
	Vix            float64 `json:"vix" default:"18" validate:"gt=0,lte=100"`
}

func (h *Handler) backtest(c echo.Context) error {
	if h.deps.Backtester == nil {
		return dataResponse(c, http.StatusServiceUnavailable, "backtesting is not configured")
	}

	var req BacktestRequest
	if errs := readAndValidateRequest(c, &req); errs != nil {
		return badRequestResponse(c, errs)
	}

	results, err := h.deps.Backtester.Backtest(c.Request().Context(), req.Symbol, req.InitialBalance, req.Vix)
	if err != nil {
		if errors.Is(err, backtest.ErrInsufficientHistory) {
			return dataResponse(c, http.StatusUnprocessableEntity, err.Error())
		}
		slog.Error("Backtest failed", "symbol", req.Symbol, "error", err)
		return internalErrorResponse(c)
	}
	return successResponse(c, results.Report())
}
