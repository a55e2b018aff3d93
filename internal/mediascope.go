package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/calders/mediascope/internal/api"
	"github.com/calders/mediascope/internal/api/batches"
	"github.com/calders/mediascope/internal/artifact"
	"github.com/calders/mediascope/internal/batch"
	"github.com/calders/mediascope/internal/event"
	"github.com/calders/mediascope/internal/extraction"
	"github.com/calders/mediascope/internal/rangesel"
	"github.com/calders/mediascope/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	BatchService interface {
		RunnableService
		batches.BatchService
	}
)

// Mediascope represents the top-level object for the server, and is
// responsible for initialising the extraction engine, batch coordinator,
// artifact delivery, event handling, et cetera...
type mediascopeImpl struct {
	eventBus event.EventCoordinator
	config   MediascopeConfig

	selector   *rangesel.Selector
	engine     *extraction.Engine
	registry   *artifact.Registry
	downloader *artifact.Downloader

	batchService BatchService
	restGateway  RunnableService
}

func New(config MediascopeConfig) *mediascopeImpl {
	log.Emit(logger.DEBUG, "Bootstrapping Mediascope services using config: %#v\n", config)
	scope := &mediascopeImpl{
		eventBus: event.New(),
		config:   config,
	}

	scope.selector = rangesel.New(config.Selection)
	if engine, err := extraction.New(config.Extraction, scope.selector, scope.eventBus); err == nil {
		scope.engine = engine
	} else {
		panic(fmt.Sprintf("failed to construct extraction engine due to error: %s", err.Error()))
	}

	scope.registry = artifact.NewRegistry()
	scope.downloader = artifact.New(config.Delivery, scope.eventBus)
	scope.batchService = batch.New(config.Batch, scope.engine, scope.eventBus)
	scope.restGateway = api.NewRestGateway(&config.RestConfig, scope.batchService, scope.registry, scope.downloader, scope.eventBus)

	return scope
}

// Run brings up the backend probe, the batch coordinator and the REST
// gateway. This function will not return until Mediascope is stopped.
// To stop Mediascope, the provided context must be cancelled. Errors
// from which a service cannot recover will also cause a stop.
func (scope *mediascopeImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	log.Emit(logger.NEW, "Probing extraction backends...\n")
	if err := scope.engine.Load(ctx); err != nil {
		return err
	}

	wg := &sync.WaitGroup{}
	scope.spawnAsyncService(ctx, wg, scope.batchService, "batch-coordinator", crashHandler)
	scope.spawnAsyncService(ctx, wg, scope.restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Mediascope services spawned!\n")

	wg.Wait()
	return nil
}

// spawnAsyncService will run the provided function/service as its own
// go-routine, ensuring that the service waitgroup is updated correctly
func (scope *mediascopeImpl) spawnAsyncService(context context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(context); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
