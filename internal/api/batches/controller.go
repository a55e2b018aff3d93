package batches

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/calders/mediascope/internal/batch"
	"github.com/calders/mediascope/internal/media"
	"github.com/calders/mediascope/internal/metadata"
	"github.com/calders/mediascope/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var controllerLogger = logger.Get("BatchesController")

type (
	// BatchService is the slice of the batch coordinator this controller
	// drives.
	BatchService interface {
		GetAllItems() []*batch.Item
		GetItem(uuid.UUID) *batch.Item
		RemoveItem(uuid.UUID) error
		Clear() int
		Progress() float64
		AddFiles(...*media.File) []uuid.UUID
		ExportSubtitle(ctx context.Context, itemID uuid.UUID, streamIndex int, overrides batch.SubtitleOverrides) (*media.Artifact, error)
		ExportStream(ctx context.Context, itemID uuid.UUID, streamIndex int, overrides batch.StreamOverrides) (*media.Artifact, error)
	}

	// ArtifactStore receives produced artifacts so they can be claimed by
	// a subsequent download request.
	ArtifactStore interface {
		Put(*media.Artifact) uuid.UUID
	}

	AddFilesRequest struct {
		Paths []string `json:"paths" validate:"required,min=1,dive,required"`
	}

	// ExportRequest addresses the stream to export. The optional fields
	// override the naming hints otherwise derived from the probe result;
	// Codec only applies to subtitle artifact naming for subtitle exports
	// and container choice for stream exports.
	ExportRequest struct {
		StreamIndex *int   `json:"stream_index" validate:"required,min=0"`
		Language    string `json:"language,omitempty"`
		Codec       string `json:"codec,omitempty"`
		Forced      *bool  `json:"forced,omitempty"`
	}

	ItemStateDto string

	ItemDto struct {
		ID       uuid.UUID    `json:"id"`
		Filename string       `json:"filename"`
		State    ItemStateDto `json:"state"`
		Message  string       `json:"message,omitempty"`
		Metadata *MetadataDto `json:"metadata"`
	}

	MetadataDto struct {
		Format  metadata.FormatInfo         `json:"format"`
		Streams []metadata.StreamDescriptor `json:"streams"`
	}

	ArtifactDto struct {
		ID        uuid.UUID `json:"id"`
		Filename  string    `json:"filename"`
		Size      int64     `json:"size"`
		Truncated bool      `json:"truncated"`
	}

	ProgressDto struct {
		Progress float64 `json:"progress"`
	}

	Controller struct {
		validate  *validator.Validate
		service   BatchService
		artifacts ArtifactStore
	}
)

const (
	WAITING    ItemStateDto = "WAITING"
	PROCESSING ItemStateDto = "PROCESSING"
	COMPLETED  ItemStateDto = "COMPLETED"
	FAILED     ItemStateDto = "FAILED"
	TIMED_OUT  ItemStateDto = "TIMED_OUT"
)

func New(validate *validator.Validate, service BatchService, artifacts ArtifactStore) *Controller {
	return &Controller{validate: validate, service: service, artifacts: artifacts}
}

// SetRoutes accepts the echo group for the batch endpoints and sets the
// routes on it.
func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	eg.POST("/", controller.add)
	eg.GET("/progress/", controller.progress)
	eg.POST("/clear/", controller.clear)
	eg.GET("/:id/", controller.get)
	eg.DELETE("/:id/", controller.remove)
	eg.POST("/:id/export-subtitle/", controller.exportSubtitle)
	eg.POST("/:id/export-stream/", controller.exportStream)
}

func (controller *Controller) list(ec echo.Context) error {
	items := controller.service.GetAllItems()
	dtos := make([]*ItemDto, len(items))
	for k, v := range items {
		dtos[k] = NewDto(v)
	}

	return ec.JSON(http.StatusOK, dtos)
}

// add queues the given file paths for probing. Paths which cannot be
// opened fail the whole request before anything is queued; admission
// validation of the opened files (extension, emptiness) is the
// coordinator's responsibility and is reported per-item.
func (controller *Controller) add(ec echo.Context) error {
	var request AddFilesRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	files := make([]*media.File, 0, len(request.Paths))
	for _, path := range request.Paths {
		// The handles outlive this request; the coordinator owns them
		// from admission onwards and closes them when their item is
		// retired.
		file, err := media.OpenFile(path)
		if err != nil {
			for _, opened := range files {
				opened.Close()
			}
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("cannot open '%s': %v", path, err))
		}
		files = append(files, file)
	}

	ids := controller.service.AddFiles(files...)
	controllerLogger.Emit(logger.INFO, "Queued %d new files for probing\n", len(ids))

	dtos := make([]*ItemDto, len(ids))
	for k, id := range ids {
		dtos[k] = NewDto(controller.service.GetItem(id))
	}
	return ec.JSON(http.StatusCreated, dtos)
}

func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Batch item ID is not a valid UUID")
	}

	item := controller.service.GetItem(id)
	if item == nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	return ec.JSON(http.StatusOK, NewDto(item))
}

func (controller *Controller) remove(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Batch item ID is not a valid UUID")
	}

	if err := controller.service.RemoveItem(id); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	return ec.NoContent(http.StatusOK)
}

func (controller *Controller) progress(ec echo.Context) error {
	return ec.JSON(http.StatusOK, ProgressDto{Progress: controller.service.Progress()})
}

func (controller *Controller) clear(ec echo.Context) error {
	removed := controller.service.Clear()
	return ec.JSON(http.StatusOK, map[string]int{"removed": removed})
}

func (controller *Controller) exportSubtitle(ec echo.Context) error {
	return controller.export(ec, func(ctx context.Context, id uuid.UUID, request ExportRequest) (*media.Artifact, error) {
		return controller.service.ExportSubtitle(ctx, id, *request.StreamIndex, batch.SubtitleOverrides{
			Language: request.Language,
			Codec:    request.Codec,
			Forced:   request.Forced,
		})
	})
}

func (controller *Controller) exportStream(ec echo.Context) error {
	return controller.export(ec, func(ctx context.Context, id uuid.UUID, request ExportRequest) (*media.Artifact, error) {
		return controller.service.ExportStream(ctx, id, *request.StreamIndex, batch.StreamOverrides{Codec: request.Codec})
	})
}

func (controller *Controller) export(ec echo.Context, run func(context.Context, uuid.UUID, ExportRequest) (*media.Artifact, error)) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Batch item ID is not a valid UUID")
	}

	var request ExportRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	artifact, err := run(ec.Request().Context(), id, request)
	if err != nil {
		return exportError(err)
	}

	artifactID := controller.artifacts.Put(artifact)
	return ec.JSON(http.StatusOK, ArtifactDto{
		ID:        artifactID,
		Filename:  artifact.SuggestedFilename,
		Size:      artifact.Size(),
		Truncated: artifact.Truncated,
	})
}

func exportError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, batch.ErrItemNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, batch.ErrSessionActive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, batch.ErrItemNotSettled),
		errors.Is(err, batch.ErrStreamNotFound),
		errors.Is(err, batch.ErrStreamMismatch):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// NewDto maps a batch item to its API representation.
func NewDto(item *batch.Item) *ItemDto {
	if item == nil {
		return nil
	}

	dto := &ItemDto{
		ID:       item.ID,
		Filename: item.File.Name(),
		State:    stateToDto(item.State),
		Message:  item.Message,
	}
	if item.Result != nil {
		dto.Metadata = &MetadataDto{Format: item.Result.Format, Streams: item.Result.Streams}
	}
	return dto
}

func stateToDto(state batch.ItemState) ItemStateDto {
	switch state {
	case batch.WAITING:
		return WAITING
	case batch.PROCESSING:
		return PROCESSING
	case batch.COMPLETED:
		return COMPLETED
	case batch.FAILED:
		return FAILED
	case batch.TIMED_OUT:
		return TIMED_OUT
	default:
		return ItemStateDto(fmt.Sprintf("UNKNOWN[%d]", state))
	}
}
