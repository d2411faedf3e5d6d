package hierarchy

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	cg "github.com/enikshay/casetools/internal/domain/casegraph"
	"github.com/enikshay/casetools/internal/platform/auth"
	"github.com/enikshay/casetools/internal/platform/db"
	"github.com/enikshay/casetools/pkg/pagination"
)

type Handler struct {
	cases cg.Accessor
}

func NewHandler(cases cg.Accessor) *Handler {
	return &Handler{cases: cases}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleViewer, auth.RoleDataManager))
	read.GET("/persons/:id/episode", h.GetOpenEpisode)
	read.GET("/persons/:id/adherence", h.ListAdherence)
	read.GET("/cases/:id/person", h.GetPerson)
}

func (h *Handler) resolver(c echo.Context) *Resolver {
	return NewResolver(h.cases, db.DomainFromContext(c.Request().Context()))
}

func httpError(err error) error {
	return echo.NewHTTPError(cg.StatusCode(err), err.Error())
}

func (h *Handler) GetOpenEpisode(c echo.Context) error {
	episode, err := h.resolver(c).OpenEpisodeFromPerson(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, episode)
}

func (h *Handler) GetPerson(c echo.Context) error {
	person, err := h.resolver(c).PersonCase(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, person)
}

// ListAdherence returns the person's in-window adherence cases sorted by date.
// start and end accept the same formats as adherence_date.
func (h *Handler) ListAdherence(c echo.Context) error {
	start, err := queryTime(c, "start")
	if err != nil {
		return err
	}
	end, err := queryTime(c, "end")
	if err != nil {
		return err
	}
	if end.Before(start) {
		return echo.NewHTTPError(http.StatusBadRequest, "end must not be before start")
	}

	cases, err := h.resolver(c).AdherenceBetweenDates(c.Request().Context(), c.Param("id"), start, end)
	if err != nil {
		return httpError(err)
	}
	SortByAdherenceDate(cases)

	pg := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(cases, pg), len(cases), pg))
}

func queryTime(c echo.Context, name string) (time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, name+" is required")
	}
	t, err := cg.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+": "+err.Error())
	}
	return t, nil
}
