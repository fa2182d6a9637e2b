package main

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/presbrey/ircconn/irc"
)

var (
	requestDuration = promauto.With(irc.Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ircconnd",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "code"},
	)

	requestsTotal = promauto.With(irc.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ircconnd",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by status code",
		},
		[]string{"method", "code"},
	)
)

// requestValidator validates request bodies and reports fields by their JSON name.
type requestValidator struct {
	validator *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{validator: v}
}

func (rv *requestValidator) Validate(i interface{}) error {
	if err := rv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// metrics records request latency and status codes.
func metrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		status := c.Response().Status
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
		}
		code := strconv.Itoa(status)
		method := c.Request().Method
		requestDuration.WithLabelValues(method, code).Observe(time.Since(start).Seconds())
		requestsTotal.WithLabelValues(method, code).Inc()
		return err
	}
}

type statusResponse struct {
	ID        string            `json:"id,omitempty"`
	Status    string            `json:"status"`
	Nick      string            `json:"nick,omitempty"`
	Hostmask  string            `json:"hostmask,omitempty"`
	Server    *irc.ServerInfo   `json:"server,omitempty"`
	Network   string            `json:"network,omitempty"`
	Channels  []string          `json:"channels,omitempty"`
	Away      bool              `json:"away"`
	Watching  []string          `json:"watching,omitempty"`
	Supported map[string]string `json:"isupport,omitempty"`
}

type messageRequest struct {
	Target string `json:"target" validate:"required"`
	Text   string `json:"text" validate:"required"`
	Action bool   `json:"action"`
	Notice bool   `json:"notice"`
}

type joinRequest struct {
	Name string `json:"name" validate:"required"`
	Key  string `json:"key"`
}

type awayRequest struct {
	Message string `json:"message"`
}

type watchRequest struct {
	Nick string `json:"nick" validate:"required"`
}

func (d *daemon) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()
	e.Use(metrics)

	e.GET("/status", d.getStatus)
	e.GET("/channels", d.listChannels)
	e.POST("/channels", d.joinChannel)
	e.DELETE("/channels/:name", d.partChannel)
	e.GET("/messages", d.getMessages)
	e.POST("/messages", d.postMessage)
	e.PUT("/away", d.setAway)
	e.GET("/watch", d.getWatch)
	e.POST("/watch", d.addWatch)
	e.DELETE("/watch/:nick", d.removeWatch)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(irc.Registry, promhttp.HandlerOpts{})))
	return e
}

func bindValid(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return err
	}
	return c.Validate(req)
}

// ircError maps a client error to an HTTP error.
func ircError(err error) error {
	switch {
	case errors.Is(err, irc.ErrInvalidTarget), errors.Is(err, irc.ErrEmptyMessage),
		errors.Is(err, irc.ErrInvalidChannel), errors.Is(err, irc.ErrInvalidNick):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, irc.ErrChannelLimit):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, irc.ErrNotJoined):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, irc.ErrListFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, irc.ErrNotConnected), errors.Is(err, irc.ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return err
}

func (d *daemon) getStatus(c echo.Context) error {
	conn := d.connection()
	if conn == nil {
		return c.JSON(http.StatusOK, statusResponse{Status: irc.Disconnected.String()})
	}

	resp := statusResponse{ID: conn.ID(), Status: conn.Status().String()}
	if state := conn.State(); state != nil && conn.IsConnected() {
		server := state.Server()
		resp.Server = &server
		resp.Nick = state.Nickname()
		resp.Hostmask = conn.Identity().Hostmask()
		resp.Channels = conn.Channels().Channels()
		resp.Away = conn.Presence().IsAway()
		if f := state.Features(); f != nil {
			resp.Network = f.Network()
			resp.Supported = f.Snapshot()
		}
	}
	if nicks, err := d.watch.Nicks(); err == nil {
		resp.Watching = nicks
	}
	return c.JSON(http.StatusOK, resp)
}

func (d *daemon) listChannels(c echo.Context) error {
	conn, err := d.connected()
	if err != nil {
		return err
	}
	list, err := conn.ChannelLister().List(c.Request().Context())
	if err != nil {
		return ircError(err)
	}
	return c.JSON(http.StatusOK, list)
}

func (d *daemon) joinChannel(c echo.Context) error {
	var req joinRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	conn, err := d.connected()
	if err != nil {
		return err
	}
	if err := conn.Channels().Join(req.Name, req.Key); err != nil {
		return ircError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (d *daemon) partChannel(c echo.Context) error {
	conn, err := d.connected()
	if err != nil {
		return err
	}
	if err := conn.Channels().Part(c.Param("name"), c.QueryParam("reason")); err != nil {
		return ircError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (d *daemon) getMessages(c echo.Context) error {
	return c.JSON(http.StatusOK, d.messages())
}

func (d *daemon) postMessage(c echo.Context) error {
	var req messageRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	conn, err := d.connected()
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	messages := conn.Messages()
	switch {
	case req.Action:
		err = messages.Action(ctx, req.Target, req.Text)
	case req.Notice:
		err = messages.Notice(ctx, req.Target, req.Text)
	default:
		err = messages.Message(ctx, req.Target, req.Text)
	}
	if err != nil {
		return ircError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (d *daemon) setAway(c echo.Context) error {
	var req awayRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	conn, err := d.connected()
	if err != nil {
		return err
	}
	if req.Message == "" {
		err = conn.Presence().Back()
	} else {
		err = conn.Presence().Away(req.Message)
	}
	if err != nil {
		return ircError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (d *daemon) getWatch(c echo.Context) error {
	nicks, err := d.watch.Nicks()
	if err != nil {
		return err
	}
	type entry struct {
		Nick   string `json:"nick"`
		Online bool   `json:"online"`
	}
	var presence *irc.PresenceManager
	if conn := d.connection(); conn != nil && conn.IsConnected() {
		presence = conn.Presence()
	}
	out := make([]entry, 0, len(nicks))
	for _, n := range nicks {
		out = append(out, entry{Nick: n, Online: presence != nil && presence.IsOnline(n)})
	}
	return c.JSON(http.StatusOK, out)
}

func (d *daemon) addWatch(c echo.Context) error {
	var req watchRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	if err := d.watch.Add(req.Nick); err != nil {
		return ircError(err)
	}
	return c.NoContent(http.StatusCreated)
}

func (d *daemon) removeWatch(c echo.Context) error {
	nick := c.Param("nick")
	var err error
	if conn := d.connection(); conn != nil && conn.IsConnected() {
		err = conn.Presence().Unwatch(nick)
	} else {
		err = d.watch.Remove(nick)
	}
	if err != nil {
		return ircError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
