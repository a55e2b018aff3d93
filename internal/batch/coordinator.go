package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/calders/mediascope/internal/diagnostic"
	"github.com/calders/mediascope/internal/event"
	"github.com/calders/mediascope/internal/extraction"
	"github.com/calders/mediascope/internal/media"
	"github.com/calders/mediascope/internal/metadata"
	"github.com/calders/mediascope/pkg/logger"
	"github.com/calders/mediascope/pkg/worker"
	"github.com/google/uuid"
)

var log = logger.Get("BatchServ")

var (
	ErrItemNotFound    = errors.New("no batch item could be found")
	ErrItemNotSettled  = errors.New("batch item has not completed probing")
	ErrItemProcessing  = errors.New("batch item is currently being processed")
	ErrStreamNotFound  = errors.New("no stream with the requested index was enumerated")
	ErrStreamMismatch  = errors.New("stream at the requested index is not of the expected type")
	ErrEngineNotLoaded = errors.New("extraction engine is not loaded")
)

type (
	Config struct {
		// ProcessingTimeout is the deadline past which an item still
		// Processing without a settled outcome is forced to TIMED_OUT and the
		// session permit reclaimed.
		ProcessingTimeout time.Duration `yaml:"processing_timeout" env:"MEDIASCOPE_PROCESSING_TIMEOUT" env-default:"5m"`

		// SettleCooldown is waited between an item settling and the session
		// permit being released, giving the backend time to finish any
		// asynchronous teardown before the next file's write begins.
		SettleCooldown time.Duration `yaml:"settle_cooldown" env:"MEDIASCOPE_SETTLE_COOLDOWN" env-default:"500ms"`
	}

	// Extractor is the engine operation contract the coordinator drives;
	// the coordinator never touches the backend directly.
	Extractor interface {
		Ready() bool
		Probe(ctx context.Context, file *media.File) (*metadata.VideoMetadata, error)
		ExportSubtitle(ctx context.Context, file *media.File, streamIndex int, hints extraction.SubtitleHints) (*media.Artifact, error)
		ExportStream(ctx context.Context, file *media.File, streamIndex int, streamType metadata.CodecType, hints extraction.StreamHints) (*media.Artifact, error)
	}

	// batchService runs the single-flight pipeline: files are admitted in
	// FIFO order and probed one at a time against the shared backend, with
	// exclusivity enforced by the session guard rather than by trusting
	// callers to behave.
	batchService struct {
		*sync.Mutex

		config   Config
		engine   Extractor
		eventBus event.EventCoordinator
		guard    *SessionGuard

		items         []*Item
		timeoutTimers map[uuid.UUID]*time.Timer
		workerPool    *worker.WorkerPool

		ctx context.Context
	}

	taskFunc func(worker.Worker) (bool, error)
)

func (fn taskFunc) Execute(w worker.Worker) (bool, error) { return fn(w) }

func New(config Config, engine Extractor, eventBus event.EventCoordinator) *batchService {
	service := &batchService{
		Mutex:         &sync.Mutex{},
		config:        config,
		engine:        engine,
		eventBus:      eventBus,
		guard:         NewSessionGuard(),
		items:         make([]*Item, 0),
		timeoutTimers: make(map[uuid.UUID]*time.Timer),
		workerPool:    worker.NewWorkerPool(),
		ctx:           context.Background(),
	}

	// One worker only. The pipeline is deliberately sequential; admission
	// is additionally guarded by the session permit, so even a
	// misconfigured pool could not overlap two extractions.
	service.workerPool.PushWorker(worker.NewWorker("batch-worker", taskFunc(service.ProcessNextItem)))

	return service
}

// Run starts the worker pool and blocks until the provided context is
// cancelled.
func (service *batchService) Run(ctx context.Context) error {
	service.Lock()
	service.ctx = ctx
	service.Unlock()

	if err := service.workerPool.Start(); err != nil {
		return fmt.Errorf("failed to start batch worker pool: %w", err)
	}

	<-ctx.Done()

	service.clearAllTimeoutTimers()
	service.workerPool.Close()

	service.Lock()
	defer service.Unlock()
	for _, item := range service.items {
		item.File.Close()
	}
	return nil
}

// AddFiles queues the given files for probing and returns the IDs of the
// created items in the same order. Files failing admission validation are
// recorded as FAILED immediately; they still count towards aggregate
// progress, and never abort the rest of the batch.
func (service *batchService) AddFiles(files ...*media.File) []uuid.UUID {
	service.Lock()

	ids := make([]uuid.UUID, 0, len(files))
	for _, file := range files {
		item := &Item{ID: uuid.New(), File: file, State: WAITING}

		if err := media.Validate(file); err != nil {
			item.State = FAILED
			item.Message = err.Error()
			log.Emit(logger.WARNING, "Rejected file %s at admission: %v\n", file.Name(), err)
		}

		service.items = append(service.items, item)
		ids = append(ids, item.ID)
	}
	service.Unlock()

	service.eventBus.Dispatch(event.BATCH_UPDATE, nil)
	service.workerPool.WakeupWorkers()
	return ids
}

// ProcessNextItem is the worker function for the batch service. It claims
// the head WAITING item if the engine is ready and no session is active,
// probes it, and settles the outcome. All per-file errors are absorbed
// here; the batch always advances.
//
// The probe itself runs in a goroutine so a wedged backend cannot pin the
// worker past the item's timeout: when the timeout fires the worker
// abandons the probe and moves on. The abandoned probe's eventual outcome
// is still routed through settle, whose state check discards it and turns
// the stale permit release into a no-op.
func (service *batchService) ProcessNextItem(_ worker.Worker) (bool, error) {
	item, session, timedOut := service.claimNextItem()
	if item == nil {
		return false, nil
	}

	log.Emit(logger.NEW, "Beginning probe of %s\n", item)
	service.eventBus.Dispatch(event.BATCH_ITEM_UPDATE, item.ID)

	type probeOutcome struct {
		result *metadata.VideoMetadata
		err    error
	}
	outcomeChan := make(chan probeOutcome, 1)
	go func() {
		result, err := service.engine.Probe(service.runContext(), item.File)
		outcomeChan <- probeOutcome{result, err}
	}()

	settleOutcome := func(outcome probeOutcome) {
		if outcome.err != nil {
			log.Emit(logger.ERROR, "Probe of %s failed: %v\n", item, outcome.err)
			service.settle(session, item.ID, func(item *Item) {
				item.State = FAILED
				item.Message = failureMessage(outcome.err)
			})
		} else {
			service.settle(session, item.ID, func(item *Item) {
				item.State = COMPLETED
				item.Result = outcome.result
			})
		}
	}

	select {
	case outcome := <-outcomeChan:
		settleOutcome(outcome)
	case <-timedOut:
		// forceTimeout already recorded the outcome and reclaimed the
		// permit; free this worker now, and let the abandoned probe's
		// eventual outcome drain into settle's discard path.
		go func() { settleOutcome(<-outcomeChan) }()
	}

	return true, nil
}

// SubtitleOverrides are optional caller-supplied replacements for the
// naming hints otherwise derived from the item's probe result. Zero
// fields keep the derived value.
type SubtitleOverrides struct {
	Language string
	Codec    string
	Forced   *bool
}

// StreamOverrides carry the optional codec override for raw stream
// exports.
type StreamOverrides struct {
	Codec string
}

// ExportSubtitle extracts the subtitle stream at the given index of a
// completed item, acquiring the session permit for the duration. Hints
// for artifact naming come from the item's own probe result unless the
// caller overrides them.
func (service *batchService) ExportSubtitle(ctx context.Context, itemID uuid.UUID, streamIndex int, overrides SubtitleOverrides) (*media.Artifact, error) {
	item, stream, err := service.exportableStream(itemID, streamIndex)
	if err != nil {
		return nil, err
	}
	subtitle, ok := stream.(metadata.SubtitleStream)
	if !ok {
		return nil, ErrStreamMismatch
	}

	hints := extraction.SubtitleHints{
		Language: subtitle.Language,
		Forced:   subtitle.Forced,
		Codec:    subtitle.CodecName,
	}
	if overrides.Language != "" {
		hints.Language = overrides.Language
	}
	if overrides.Codec != "" {
		hints.Codec = overrides.Codec
	}
	if overrides.Forced != nil {
		hints.Forced = *overrides.Forced
	}

	session, err := service.guard.Acquire(itemID)
	if err != nil {
		return nil, err
	}
	defer service.releaseAfterCooldown(session)

	return service.engine.ExportSubtitle(ctx, item.File, streamIndex, hints)
}

// ExportStream extracts the raw video or audio stream at the given index
// of a completed item under the session permit.
func (service *batchService) ExportStream(ctx context.Context, itemID uuid.UUID, streamIndex int, overrides StreamOverrides) (*media.Artifact, error) {
	item, stream, err := service.exportableStream(itemID, streamIndex)
	if err != nil {
		return nil, err
	}
	if stream.Type() == metadata.CodecTypeSubtitle {
		return nil, ErrStreamMismatch
	}

	hints := extraction.StreamHints{Codec: stream.Codec()}
	if overrides.Codec != "" {
		hints.Codec = overrides.Codec
	}

	session, err := service.guard.Acquire(itemID)
	if err != nil {
		return nil, err
	}
	defer service.releaseAfterCooldown(session)

	return service.engine.ExportStream(ctx, item.File, streamIndex, stream.Type(), hints)
}

// GetItem returns the item with the given ID, or nil.
func (service *batchService) GetItem(itemID uuid.UUID) *Item {
	service.Lock()
	defer service.Unlock()
	return service.itemLocked(itemID)
}

func (service *batchService) GetAllItems() []*Item {
	service.Lock()
	defer service.Unlock()

	items := make([]*Item, len(service.items))
	copy(items, service.items)
	return items
}

// Progress reports aggregate batch progress as a percentage of settled
// items. The in-flight item contributes nothing until it settles.
func (service *batchService) Progress() float64 {
	service.Lock()
	defer service.Unlock()

	if len(service.items) == 0 {
		return 0
	}

	settled := 0
	for _, item := range service.items {
		if item.Settled() {
			settled++
		}
	}
	return float64(settled) / float64(len(service.items)) * 100
}

// RemoveItem removes the item with the given ID. Items currently being
// processed cannot be removed since the extraction cannot be interrupted.
func (service *batchService) RemoveItem(itemID uuid.UUID) error {
	service.Lock()

	for i, item := range service.items {
		if item.ID != itemID {
			continue
		}
		if item.State == PROCESSING {
			service.Unlock()
			return ErrItemProcessing
		}

		service.clearTimeoutTimerLocked(itemID)
		service.items = append(service.items[:i], service.items[i+1:]...)
		service.Unlock()

		item.File.Close()
		service.eventBus.Dispatch(event.BATCH_UPDATE, nil)
		return nil
	}

	service.Unlock()
	return nil
}

// Clear removes every item from the batch except the one currently being
// processed, whose extraction cannot be interrupted. Waiting items are
// dropped before they are ever probed. Returns how many were removed.
func (service *batchService) Clear() int {
	service.Lock()

	kept := make([]*Item, 0, len(service.items))
	dropped := make([]*Item, 0, len(service.items))
	for _, item := range service.items {
		if item.State == PROCESSING {
			kept = append(kept, item)
			continue
		}
		service.clearTimeoutTimerLocked(item.ID)
		dropped = append(dropped, item)
	}
	service.items = kept
	service.Unlock()

	for _, item := range dropped {
		item.File.Close()
	}
	if len(dropped) > 0 {
		service.eventBus.Dispatch(event.BATCH_UPDATE, nil)
	}
	return len(dropped)
}

// claimNextItem admits the head WAITING item: acquires the session
// permit, marks the item PROCESSING and schedules its timeout timer.
// Returns nils when there is nothing to admit or the backend is busy. The
// returned channel is closed if the item's timeout fires first.
func (service *batchService) claimNextItem() (*Item, *Session, chan struct{}) {
	service.Lock()
	defer service.Unlock()

	if !service.engine.Ready() {
		return nil, nil, nil
	}

	for _, item := range service.items {
		if item.State != WAITING {
			continue
		}

		session, err := service.guard.Acquire(item.ID)
		if err != nil {
			return nil, nil, nil
		}

		item.State = PROCESSING
		timedOut := make(chan struct{})
		service.timeoutTimers[item.ID] = time.AfterFunc(service.config.ProcessingTimeout, func() {
			service.forceTimeout(item.ID, session, timedOut)
		})
		return item, session, timedOut
	}

	return nil, nil, nil
}

// settle records a terminal outcome for the item, waits the settle
// cooldown and then releases the session permit. If the item was already
// forced to TIMED_OUT the outcome is discarded and the (stale) permit
// release is a no-op.
func (service *batchService) settle(session *Session, itemID uuid.UUID, apply func(*Item)) {
	service.Lock()
	item := service.itemLocked(itemID)
	if item == nil || item.State != PROCESSING {
		service.Unlock()
		service.guard.Release(session)
		return
	}

	apply(item)
	service.clearTimeoutTimerLocked(itemID)
	service.Unlock()

	log.Emit(logger.INFO, "Settled %s\n", item)
	service.eventBus.Dispatch(event.BATCH_ITEM_UPDATE, itemID)
	service.eventBus.Dispatch(event.BATCH_UPDATE, nil)

	service.releaseAfterCooldown(session)
}

// forceTimeout is the timeout timer callback: an item still PROCESSING
// past the deadline is recorded as TIMED_OUT and the permit reclaimed so
// the next item can be admitted. The backend is assumed poisoned for this
// item but reusable for the next; the engine resets its scratch space
// before every operation.
func (service *batchService) forceTimeout(itemID uuid.UUID, session *Session, timedOut chan struct{}) {
	service.Lock()
	item := service.itemLocked(itemID)
	if item == nil || item.State != PROCESSING {
		service.Unlock()
		return
	}

	item.State = TIMED_OUT
	item.Message = fmt.Sprintf("no outcome within %s; extraction presumed wedged", service.config.ProcessingTimeout)
	service.clearTimeoutTimerLocked(itemID)
	service.Unlock()

	close(timedOut)

	log.Emit(logger.WARNING, "Forced timeout of %s\n", item)
	service.eventBus.Dispatch(event.BATCH_ITEM_UPDATE, itemID)
	service.eventBus.Dispatch(event.BATCH_UPDATE, nil)

	service.guard.Release(session)
	service.workerPool.WakeupWorkers()
}

func (service *batchService) releaseAfterCooldown(session *Session) {
	time.Sleep(service.config.SettleCooldown)
	service.guard.Release(session)
	service.workerPool.WakeupWorkers()
}

func (service *batchService) exportableStream(itemID uuid.UUID, streamIndex int) (*Item, metadata.StreamDescriptor, error) {
	if !service.engine.Ready() {
		return nil, nil, ErrEngineNotLoaded
	}

	service.Lock()
	item := service.itemLocked(itemID)
	service.Unlock()

	if item == nil {
		return nil, nil, ErrItemNotFound
	}
	if item.State != COMPLETED || item.Result == nil {
		return nil, nil, ErrItemNotSettled
	}

	stream := item.Result.Stream(streamIndex)
	if stream == nil {
		return nil, nil, ErrStreamNotFound
	}
	return item, stream, nil
}

func (service *batchService) itemLocked(itemID uuid.UUID) *Item {
	for _, item := range service.items {
		if item.ID == itemID {
			return item
		}
	}
	return nil
}

func (service *batchService) clearTimeoutTimerLocked(itemID uuid.UUID) {
	if timer, ok := service.timeoutTimers[itemID]; ok {
		timer.Stop()
		delete(service.timeoutTimers, itemID)
	}
}

func (service *batchService) clearAllTimeoutTimers() {
	service.Lock()
	defer service.Unlock()

	for id, timer := range service.timeoutTimers {
		timer.Stop()
		delete(service.timeoutTimers, id)
	}
}

func (service *batchService) runContext() context.Context {
	service.Lock()
	defer service.Unlock()
	return service.ctx
}

// failureMessage maps an extraction error to the user-facing message
// recorded on the item.
func failureMessage(err error) string {
	var parseErr *diagnostic.ParseError
	if errors.As(err, &parseErr) {
		return parseErr.UserFacingMessage()
	}

	var timeoutErr *extraction.TimeoutError
	if errors.As(err, &timeoutErr) {
		return fmt.Sprintf("the %s did not finish within %s", timeoutErr.Operation, timeoutErr.Limit)
	}

	var loadErr *extraction.BackendLoadError
	if errors.As(err, &loadErr) {
		return loadErr.Hint
	}

	return err.Error()
}
