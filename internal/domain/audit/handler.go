package audit

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinaudit/clinaudit/internal/domain/records"
	"github.com/clinaudit/clinaudit/internal/platform/auth"
	"github.com/clinaudit/clinaudit/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	group := api.Group("", auth.RequireRole("admin", "auditor"))
	group.POST("/audit/runs", h.TriggerRun)
	group.GET("/audit/runs", h.ListRuns)
	group.GET("/audit/runs/latest", h.GetLatestRun)
	group.GET("/divergences", h.ListDivergences)
	group.GET("/divergences/:id", h.GetDivergence)
	group.PATCH("/divergences/:id/status", h.UpdateDivergenceStatus)
}

type runRequest struct {
	PeriodStart *string `json:"period_start"`
	PeriodEnd   *string `json:"period_end"`
}

func parseDay(s string) (*time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (h *Handler) TriggerRun(c echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var period records.Period
	if req.PeriodStart != nil && *req.PeriodStart != "" {
		start, err := parseDay(*req.PeriodStart)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid period_start")
		}
		period.Start = start
	}
	if req.PeriodEnd != nil && *req.PeriodEnd != "" {
		end, err := parseDay(*req.PeriodEnd)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid period_end")
		}
		period.End = end
	}

	run, err := h.svc.RunAudit(c.Request().Context(), period)
	if err != nil {
		switch {
		case errors.Is(err, ErrRunInProgress):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, ErrDataSourceUnavailable):
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, run)
}

func (h *Handler) GetLatestRun(c echo.Context) error {
	run, err := h.svc.LatestRun(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no audit run recorded")
	}
	return c.JSON(http.StatusOK, run)
}

func (h *Handler) ListRuns(c echo.Context) error {
	startParam := c.QueryParam("period_start")
	endParam := c.QueryParam("period_end")
	if startParam == "" || endParam == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "period_start and period_end are required")
	}
	start, err := parseDay(startParam)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid period_start")
	}
	end, err := parseDay(endParam)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid period_end")
	}
	runs, err := h.svc.RunsByPeriod(c.Request().Context(), *start, end.Add(24*time.Hour-time.Nanosecond))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, runs)
}

func (h *Handler) ListDivergences(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filters{
		Status:      Status(c.QueryParam("status")),
		Kind:        Kind(c.QueryParam("kind")),
		Priority:    Priority(c.QueryParam("priority")),
		PatientName: c.QueryParam("patient_name"),
		OrderBy:     c.QueryParam("order_by"),
		OrderDesc:   c.QueryParam("order") == "desc",
	}
	if v := c.QueryParam("from"); v != "" {
		from, err := parseDay(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from date")
		}
		f.From = from
	}
	if v := c.QueryParam("to"); v != "" {
		to, err := parseDay(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid to date")
		}
		f.To = to
	}

	items, total, err := h.svc.ListDivergences(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetDivergence(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.GetDivergence(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "divergence not found")
	}
	return c.JSON(http.StatusOK, d)
}

type statusRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) UpdateDivergenceStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Status == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "status is required")
	}

	userID := auth.UserIDFromContext(c.Request().Context())
	d, err := h.svc.UpdateDivergenceStatus(c.Request().Context(), id, req.Status, userID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "divergence not found")
		case errors.Is(err, ErrInvalidTransition):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}
