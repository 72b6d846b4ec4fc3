package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/berfenger/shadeauto2mqtt/internal/core/domain"
	"github.com/berfenger/shadeauto2mqtt/internal/core/store"
	"github.com/berfenger/shadeauto2mqtt/pkg/shadeauto"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/shades", s.ListShadesHandler)
	e.POST("/shades/:uid/command", s.ShadeCommandHandler)
	e.POST("/hubs", s.AddHubHandler)
	e.DELETE("/hubs/:host", s.RemoveHubHandler)

	return e
}

type shadeView struct {
	Hub            string  `json:"hub"`
	UID            string  `json:"uid"`
	Name           string  `json:"name"`
	Position       *int    `json:"position,omitempty"`
	BatteryPercent *int    `json:"battery_percent,omitempty"`
	BatteryLow     *bool   `json:"battery_low,omitempty"`
	Reachable      bool    `json:"reachable"`
	UpdatedAt      *string `json:"updated_at,omitempty"`
}

type shadeCommandBody struct {
	Command  string `json:"command"`
	Position *int   `json:"position"`
}

type addHubBody struct {
	Host string `json:"host"`
	Port uint   `json:"port"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) ListShadesHandler(c echo.Context) error {
	states := s.store.Snapshot()
	views := make([]shadeView, 0, len(states))
	for _, st := range states {
		views = append(views, shadeStateToView(st))
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) ShadeCommandHandler(c echo.Context) error {
	uid := c.Param("uid")

	var body shadeCommandBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	cmd, err := bodyToCommand(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	res, err := s.rootContext.RequestFuture(s.masterActor, domain.IssueShadeCommandRequest{
		UID:     uid,
		Command: cmd,
	}, 15*time.Second).Result()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	}
	response, ok := res.(domain.IssueShadeCommandResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "unexpected response"})
	}
	if response.HasResponseError() {
		respErr := response.GetResponseError()
		status := http.StatusBadGateway
		switch {
		case errors.Is(respErr, shadeauto.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(respErr, shadeauto.ErrRejected):
			status = http.StatusBadRequest
		}
		return c.JSON(status, errorResponse{Error: respErr.Error()})
	}
	return c.JSON(http.StatusAccepted, response)
}

func (s *Server) AddHubHandler(c echo.Context) error {
	var body addHubBody
	if err := c.Bind(&body); err != nil || body.Host == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.AddHubRequest{
		Host: body.Host,
		Port: body.Port,
	}, 15*time.Second).Result()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	}
	response, ok := res.(domain.AddHubResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "unexpected response"})
	}
	if response.HasResponseError() {
		return c.JSON(http.StatusBadGateway, errorResponse{Error: response.GetResponseError().Error()})
	}
	return c.JSON(http.StatusCreated, response)
}

func (s *Server) RemoveHubHandler(c echo.Context) error {
	host := c.Param("host")
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.RemoveHubRequest{
		Host: host,
	}, 10*time.Second).Result()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	}
	response, ok := res.(domain.RemoveHubResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "unexpected response"})
	}
	if !response.Found {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "hub not found"})
	}
	return c.JSON(http.StatusOK, response)
}

func bodyToCommand(body shadeCommandBody) (domain.ShadeCommand, error) {
	switch body.Command {
	case "open":
		return domain.OpenShadeCommand{}, nil
	case "close":
		return domain.CloseShadeCommand{}, nil
	case "set_position":
		if body.Position == nil {
			return nil, errors.New("set_position requires a position")
		}
		return domain.SetShadePositionCommand{Position: *body.Position}, nil
	default:
		return nil, errors.New("unknown command")
	}
}

func shadeStateToView(st store.ShadeState) shadeView {
	view := shadeView{
		Hub:       st.Hub,
		UID:       st.UID,
		Name:      st.Name,
		Reachable: st.Reachable,
	}
	if st.PositionKnown {
		pos := st.Position
		view.Position = &pos
	}
	if st.Battery.Known {
		percent := st.Battery.Percent
		low := st.Battery.Low
		view.BatteryPercent = &percent
		view.BatteryLow = &low
	}
	if !st.UpdatedAt.IsZero() {
		ts := st.UpdatedAt.Format(time.RFC3339)
		view.UpdatedAt = &ts
	}
	return view
}
