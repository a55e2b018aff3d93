package api

import (
	"context"
	"sync"

	"github.com/calders/mediascope/internal/api/artifacts"
	"github.com/calders/mediascope/internal/api/batches"
	"github.com/calders/mediascope/internal/artifact"
	"github.com/calders/mediascope/internal/event"
	"github.com/calders/mediascope/internal/http/websocket"
	"github.com/calders/mediascope/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr string `yaml:"host_addr" env:"MEDIASCOPE_API_HOST_ADDR" env-default:"0.0.0.0:8090"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// RestGateway is a thin wrapper around the echo router: it creates
	// the routes the service exposes and manages the activity socket and
	// its event subscriptions.
	RestGateway struct {
		*broadcaster
		config             *RestConfig
		ec                 *echo.Echo
		socket             *websocket.SocketHub
		batchController    controller
		artifactController controller
	}
)

// NewRestGateway constructs the echo router and populates it with the
// routes defined by the controllers.
func NewRestGateway(
	config *RestConfig,
	batchService batches.BatchService,
	registry *artifact.Registry,
	downloader *artifact.Downloader,
	eventBus event.EventCoordinator,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	validate := validator.New()
	socket := websocket.NewHub()

	gateway := &RestGateway{
		broadcaster:        newBroadcaster(socket, batchService),
		config:             config,
		ec:                 ec,
		socket:             socket,
		batchController:    batches.New(validate, batchService, registry),
		artifactController: artifacts.New(registry, downloader),
	}
	gateway.broadcaster.registerWith(eventBus)

	wsGateway := NewWsGateway(batchService)
	socket.BindCommand("BATCH_INDEX", wsGateway.WsBatchIndex)
	socket.BindCommand("BATCH_DETAILS", wsGateway.WsBatchDetails)
	socket.WithConnectionCallback(func() map[string]interface{} {
		items := batchService.GetAllItems()
		dtos := make([]*batches.ItemDto, len(items))
		for k, v := range items {
			dtos[k] = batches.NewDto(v)
		}
		return map[string]interface{}{"items": dtos, "progress": batchService.Progress()}
	})

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/api/mediascope/v0/activity/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	batchGroup := ec.Group("/api/mediascope/v0/batch")
	gateway.batchController.SetRoutes(batchGroup)

	artifactGroup := ec.Group("/api/mediascope/v0/artifacts")
	gateway.artifactController.SetRoutes(artifactGroup)

	return gateway
}

// Run starts the HTTP router and the socket hub, blocking until the
// context is cancelled or the router fails.
func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil {
			ctxCancel(err)
		}
	}()

	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Wait()

	// Parent context cancellation is an orderly shutdown, not an error.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}
	return nil
}
