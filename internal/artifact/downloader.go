package artifact

import (
	"context"
	"fmt"
	"io"

	"github.com/calders/mediascope/internal/event"
	"github.com/calders/mediascope/internal/media"
	"github.com/calders/mediascope/pkg/logger"
)

var log = logger.Get("Downloader")

type Config struct {
	// DirectDeliveryLimitBytes is the size at or above which delivery
	// switches from a single blob to a pull-based chunked stream. The
	// default is the practical single-blob limit in browser-class
	// consumers.
	DirectDeliveryLimitBytes int64 `yaml:"direct_delivery_limit_bytes" env:"MEDIASCOPE_DIRECT_DELIVERY_LIMIT_BYTES" env-default:"2147483648"`

	ChunkSizeBytes int64 `yaml:"chunk_size_bytes" env:"MEDIASCOPE_CHUNK_SIZE_BYTES" env-default:"104857600"`
}

// Sink receives a delivery. Direct deliveries arrive as one reader;
// chunked deliveries arrive as a sequence of bounded readers followed by
// a completion call, and the sink assembles the final deliverable.
type Sink interface {
	DeliverDirect(name string, size int64, content io.Reader) error
	DeliverChunk(name string, chunk io.Reader, length int64) error
	CompleteChunked(name string) error
}

// DeliveryProgress is the payload dispatched on DELIVER_PROGRESS events
// as chunks are emitted.
type DeliveryProgress struct {
	Name     string
	Fraction float64
}

// Downloader delivers produced artifacts to a sink, choosing between
// direct and chunked delivery based on artifact size.
type Downloader struct {
	config   Config
	eventBus event.EventDispatcher
}

func New(config Config, eventBus event.EventDispatcher) *Downloader {
	return &Downloader{config: config, eventBus: eventBus}
}

// Deliver sends the artifact to the sink and consumes it; artifacts are
// delivered once, never retained.
func (downloader *Downloader) Deliver(ctx context.Context, artifact *media.Artifact, sink Sink) error {
	return downloader.DeliverContent(ctx, artifact.SuggestedFilename, artifact.Size(), artifact.Open(), sink)
}

// DeliverContent is the reader-based delivery path; Deliver wraps it, and
// callers holding oversized content that never materialises in memory can
// use it directly.
func (downloader *Downloader) DeliverContent(ctx context.Context, name string, size int64, content io.Reader, sink Sink) error {
	if size < downloader.config.DirectDeliveryLimitBytes {
		log.Emit(logger.DEBUG, "Delivering %s (%d bytes) directly\n", name, size)
		if err := sink.DeliverDirect(name, size, content); err != nil {
			return fmt.Errorf("direct delivery of %s failed: %w", name, err)
		}

		downloader.dispatch(event.DELIVER_COMPLETE, name)
		return nil
	}

	log.Emit(logger.INFO, "Artifact %s (%d bytes) exceeds the direct delivery limit; streaming in %d byte chunks\n", name, size, downloader.config.ChunkSizeBytes)

	delivered := int64(0)
	for delivered < size {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("chunked delivery of %s abandoned: %w", name, err)
		}

		length := downloader.config.ChunkSizeBytes
		if remaining := size - delivered; remaining < length {
			length = remaining
		}

		if err := sink.DeliverChunk(name, io.LimitReader(content, length), length); err != nil {
			return fmt.Errorf("chunk delivery of %s at offset %d failed: %w", name, delivered, err)
		}

		delivered += length
		downloader.dispatch(event.DELIVER_PROGRESS, DeliveryProgress{
			Name:     name,
			Fraction: float64(delivered) / float64(size),
		})
	}

	if err := sink.CompleteChunked(name); err != nil {
		return fmt.Errorf("chunked delivery of %s could not be completed: %w", name, err)
	}

	downloader.dispatch(event.DELIVER_COMPLETE, name)
	return nil
}

func (downloader *Downloader) dispatch(e event.Event, payload event.Payload) {
	if downloader.eventBus != nil {
		downloader.eventBus.Dispatch(e, payload)
	}
}
