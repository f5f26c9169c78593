package echoapi

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/calsync/core"
	"github.com/trezcool/calsync/core/calendar"
	metricsvc "github.com/trezcool/calsync/services/metrics"
)

const webhookBodyLimit = "1M"

type calendarApi struct {
	receiver      *calendar.Receiver
	syncer        *calendar.Syncer
	subscriptions *calendar.Subscriptions
	metrics       *metricsvc.Metrics
	validate      *validator.Validate
	logger        core.Logger
}

func registerCalendarAPI(root *echo.Echo, g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := calendarApi{
		receiver:      deps.Receiver,
		syncer:        deps.Syncer,
		subscriptions: deps.Subscriptions,
		metrics:       deps.Metrics,
		validate:      deps.Validate,
		logger:        deps.Logger,
	}

	// provider callbacks, authenticated by signature
	root.POST("/calendar/webhook/:provider", api.webhook, middleware.BodyLimit(webhookBodyLimit))

	// operator endpoints
	cg := g.Group("/calendar", jwt, adminMiddleware())
	cg.POST("/sync", api.sync)
	cg.POST("/webhook-subscriptions", api.subscribe)
	cg.GET("/webhook-subscriptions", api.listSubscriptions)
}

// Handlers

func (api *calendarApi) webhook(ctx echo.Context) error {
	provider := ctx.Param("provider")
	dec, ok := api.receiver.Decoder(provider)
	if !ok {
		if api.metrics != nil {
			api.metrics.ObserveWebhook(provider, calendar.Delivery{}, calendar.ErrUnknownProvider)
		}
		return calendar.ErrUnknownProvider
	}

	req := ctx.Request()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return errors.Wrap(err, "reading webhook body")
	}

	d, err := api.receiver.Receive(req.Context(), provider, req.Header.Get(dec.SignatureHeader()), body)
	if api.metrics != nil {
		api.metrics.ObserveWebhook(provider, d, err)
	}
	if err != nil {
		return shutdownOnClosedDB(err)
	}
	return ctx.JSON(http.StatusOK, d)
}

func (api *calendarApi) sync(ctx echo.Context) error {
	var data SyncRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SyncRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	from, to := api.syncer.DefaultWindow()
	if data.From != nil && data.To != nil {
		from, to = *data.From, *data.To
	}

	reqCtx := ctx.Request().Context()
	res, err := api.syncer.SyncWindow(reqCtx, from, to)
	if err != nil {
		if errors.Is(err, calendar.ErrSyncInProgress) {
			return err
		}
		if _, ok := errors.Cause(err).(*core.ValidationError); ok {
			return err
		}
		api.logger.Error("calendar: manual sync failed", errors.Wrap(err, "manual sync"), contextPerson(ctx))
		return ctx.JSON(http.StatusBadGateway, SyncResponse{
			From:    res.From,
			To:      res.To,
			Errors:  []string{},
			Message: "sync failed: calendar provider unavailable",
		})
	}

	return ctx.JSON(http.StatusOK, SyncResponse{
		Success:        true,
		From:           res.From,
		To:             res.To,
		SyncedCount:    res.SyncedCount,
		CancelledCount: res.CancelledCount,
		ErrorCount:     res.ErrorCount,
		Errors:         res.Errors,
		Message: fmt.Sprintf("synced %d consultation(s), cancelled %d, %d error(s)",
			res.SyncedCount, res.CancelledCount, res.ErrorCount),
	})
}

func (api *calendarApi) subscribe(ctx echo.Context) error {
	var data SubscribeRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubscribeRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sub, err := api.subscriptions.Subscribe(ctx.Request().Context(), data.CallbackURL)
	if err != nil {
		return errors.Wrap(err, "subscribing to webhooks")
	}
	return ctx.JSON(http.StatusCreated, sub)
}

func (api *calendarApi) listSubscriptions(ctx echo.Context) error {
	subs, err := api.subscriptions.List(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing webhook subscriptions")
	}
	return ctx.JSON(http.StatusOK, subs)
}
