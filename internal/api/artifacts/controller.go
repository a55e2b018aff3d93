package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/calders/mediascope/internal/artifact"
	"github.com/calders/mediascope/internal/media"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type (
	// Registry is the store artifacts are claimed from; a claim consumes
	// the artifact.
	Registry interface {
		Claim(uuid.UUID) (*media.Artifact, error)
		Pending() int
	}

	// Deliverer pushes an artifact into a sink, choosing direct or
	// chunked delivery.
	Deliverer interface {
		Deliver(ctx context.Context, artifact *media.Artifact, sink artifact.Sink) error
	}

	Controller struct {
		registry   Registry
		downloader Deliverer
	}
)

func New(registry Registry, downloader Deliverer) *Controller {
	return &Controller{registry: registry, downloader: downloader}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.pending)
	eg.GET("/:id/", controller.download)
}

func (controller *Controller) pending(ec echo.Context) error {
	return ec.JSON(http.StatusOK, map[string]int{"pending": controller.registry.Pending()})
}

// download claims the artifact and streams it to the requester. The
// claim consumes the artifact; requesting the same ID twice yields 404.
func (controller *Controller) download(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Artifact ID is not a valid UUID")
	}

	claimed, err := controller.registry.Claim(id)
	if err != nil {
		if errors.Is(err, artifact.ErrArtifactNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	response := ec.Response()
	response.Header().Set(echo.HeaderContentType, "application/octet-stream")
	response.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", claimed.SuggestedFilename))
	response.Header().Set(echo.HeaderContentLength, fmt.Sprintf("%d", claimed.Size()))
	response.WriteHeader(http.StatusOK)

	sink := &responseSink{response: response}
	if err := controller.downloader.Deliver(ec.Request().Context(), claimed, sink); err != nil {
		// Headers are already on the wire; all that's left is to drop the
		// connection by propagating the error.
		return err
	}
	return nil
}

// responseSink adapts an HTTP response into a delivery sink. Chunks are
// flushed as they arrive so oversized artifacts stream to the requester
// instead of buffering server-side.
type responseSink struct {
	response *echo.Response
}

func (sink *responseSink) DeliverDirect(_ string, _ int64, content io.Reader) error {
	_, err := io.Copy(sink.response, content)
	return err
}

func (sink *responseSink) DeliverChunk(_ string, chunk io.Reader, _ int64) error {
	if _, err := io.Copy(sink.response, chunk); err != nil {
		return err
	}
	sink.response.Flush()
	return nil
}

func (sink *responseSink) CompleteChunked(_ string) error {
	return nil
}
