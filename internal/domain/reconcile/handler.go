package reconcile

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	cg "github.com/enikshay/casetools/internal/domain/casegraph"
	"github.com/enikshay/casetools/internal/platform/auth"
	"github.com/enikshay/casetools/internal/platform/db"
)

// Handler exposes reconciliation runs over HTTP.
type Handler struct {
	runner    *Runner
	batchSize int
}

func NewHandler(runner *Runner, batchSize int) *Handler {
	return &Handler{runner: runner, batchSize: batchSize}
}

// RegisterRoutes registers POST /reconcile/:policy.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reconcile", auth.RequireRole(auth.RoleAdmin, auth.RoleDataManager))
	g.GET("", h.ListCommands)
	g.POST("/:policy", h.Run)
}

type runRequest struct {
	PersonIDs []string `json:"person_ids"`
}

func (h *Handler) ListCommands(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{"commands": Commands()})
}

// Run executes one command. It is a dry run unless commit=true.
func (h *Handler) Run(c echo.Context) error {
	var req runRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	commit := false
	if raw := c.QueryParam("commit"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid commit flag")
		}
		commit = v
	}

	result, err := h.runner.Run(c.Request().Context(), c.Param("policy"), Options{
		Domain:    db.DomainFromContext(c.Request().Context()),
		PersonIDs: req.PersonIDs,
		Commit:    commit,
		SourceTag: "api:" + auth.UserIDFromContext(c.Request().Context()),
		BatchSize: h.batchSize,
	})
	if errors.Is(err, ErrUnknownCommand) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(cg.StatusCode(err), err.Error())
	}
	return c.JSON(http.StatusOK, result)
}
