package batch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/calders/mediascope/internal/diagnostic"
	"github.com/calders/mediascope/internal/event"
	"github.com/calders/mediascope/internal/extraction"
	"github.com/calders/mediascope/internal/media"
	"github.com/calders/mediascope/internal/metadata"
	"github.com/google/uuid"
	"github.com/hbomb79/go-chanassert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu sync.Mutex

	ready      bool
	active     int32
	maxActive  int32
	probeDelay time.Duration
	probeOrder []string
	probeFn    func(file *media.File) (*metadata.VideoMetadata, error)

	exportedSubtitles []extraction.SubtitleHints
	exportedStreams   []extraction.StreamHints
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{ready: true}
}

func (engine *fakeEngine) Ready() bool { return engine.ready }

func (engine *fakeEngine) Probe(_ context.Context, file *media.File) (*metadata.VideoMetadata, error) {
	current := atomic.AddInt32(&engine.active, 1)
	defer atomic.AddInt32(&engine.active, -1)
	for {
		max := atomic.LoadInt32(&engine.maxActive)
		if current <= max || atomic.CompareAndSwapInt32(&engine.maxActive, max, current) {
			break
		}
	}

	engine.mu.Lock()
	engine.probeOrder = append(engine.probeOrder, file.Name())
	probeFn := engine.probeFn
	engine.mu.Unlock()

	if engine.probeDelay > 0 {
		time.Sleep(engine.probeDelay)
	}

	if probeFn != nil {
		return probeFn(file)
	}

	result := &metadata.VideoMetadata{Format: metadata.NewFormatInfo(file.Name())}
	result.Streams = append(result.Streams, metadata.NewVideoStream(0))
	return result, nil
}

func (engine *fakeEngine) ExportSubtitle(_ context.Context, _ *media.File, _ int, hints extraction.SubtitleHints) (*media.Artifact, error) {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	engine.exportedSubtitles = append(engine.exportedSubtitles, hints)
	return media.NewArtifact("out.srt", []byte("subtitle")), nil
}

func (engine *fakeEngine) ExportStream(_ context.Context, _ *media.File, _ int, _ metadata.CodecType, hints extraction.StreamHints) (*media.Artifact, error) {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	engine.exportedStreams = append(engine.exportedStreams, hints)
	return media.NewArtifact("out.mkv", []byte("stream")), nil
}

func testConfig() Config {
	return Config{
		ProcessingTimeout: time.Second * 5,
		SettleCooldown:    time.Millisecond,
	}
}

func testMediaFile(name string) *media.File {
	return media.NewFile(name, 1024, bytes.NewReader(make([]byte, 1024)))
}

// drain calls the worker function until it reports no work remaining.
func drain(t *testing.T, service *batchService) {
	t.Helper()
	for {
		didWork, err := service.ProcessNextItem(nil)
		require.NoError(t, err)
		if !didWork {
			return
		}
	}
}

// drainAsync is the goroutine-safe variant; worker errors cannot be
// asserted from a non-test goroutine so they are ignored.
func drainAsync(service *batchService) {
	go func() {
		for {
			if didWork, _ := service.ProcessNextItem(nil); !didWork {
				return
			}
		}
	}()
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(time.Millisecond * 5)
	}
	t.Fatalf("condition not met within %s: %s", timeout, message)
}

func TestBatch_ProcessesItemsInAdmissionOrder(t *testing.T) {
	engine := newFakeEngine()
	service := New(testConfig(), engine, event.New())

	ids := service.AddFiles(testMediaFile("a.mkv"), testMediaFile("b.mkv"), testMediaFile("c.mkv"))
	require.Len(t, ids, 3)

	drain(t, service)

	assert.Equal(t, []string{"a.mkv", "b.mkv", "c.mkv"}, engine.probeOrder)
	for _, id := range ids {
		item := service.GetItem(id)
		require.NotNil(t, item)
		assert.Equal(t, COMPLETED, item.State)
		require.NotNil(t, item.Result)
	}
	assert.Equal(t, float64(100), service.Progress())
}

func TestBatch_NeverOverlapsSessions(t *testing.T) {
	engine := newFakeEngine()
	engine.probeDelay = time.Millisecond * 10
	service := New(testConfig(), engine, event.New())

	files := make([]*media.File, 0, 6)
	for _, name := range []string{"a.mkv", "b.mkv", "c.mkv", "d.mkv", "e.mkv", "f.mkv"} {
		files = append(files, testMediaFile(name))
	}
	service.AddFiles(files...)

	// Many goroutines hammering the worker function must still be
	// serialised by the session permit.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				didWork, err := service.ProcessNextItem(nil)
				assert.NoError(t, err)
				if !didWork && service.Progress() == 100 {
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, engine.maxActive, "no two extraction sessions may ever overlap")
	assert.Equal(t, float64(100), service.Progress())
}

func TestBatch_TimeoutAdmitsNextItem(t *testing.T) {
	release := make(chan struct{})
	engine := newFakeEngine()
	engine.probeFn = func(file *media.File) (*metadata.VideoMetadata, error) {
		if file.Name() == "stuck.mkv" {
			<-release
			return nil, errors.New("late failure")
		}
		return &metadata.VideoMetadata{Format: metadata.NewFormatInfo(file.Name())}, nil
	}
	defer close(release)

	config := testConfig()
	config.ProcessingTimeout = time.Millisecond * 50
	service := New(config, engine, event.New())

	ids := service.AddFiles(testMediaFile("stuck.mkv"), testMediaFile("fine.mkv"))

	drainAsync(service)

	waitFor(t, time.Second*2, func() bool {
		return service.GetItem(ids[0]).State == TIMED_OUT
	}, "first item should be forced to TIMED_OUT")
	waitFor(t, time.Second*2, func() bool {
		return service.GetItem(ids[1]).State == COMPLETED
	}, "second item should be admitted after the forced timeout")

	stuck := service.GetItem(ids[0])
	assert.Contains(t, stuck.Message, "no outcome within")
	assert.Equal(t, float64(100), service.Progress())
}

func TestBatch_LateSettlementAfterTimeoutIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	engine := newFakeEngine()
	engine.probeFn = func(file *media.File) (*metadata.VideoMetadata, error) {
		<-release
		return &metadata.VideoMetadata{Format: metadata.NewFormatInfo(file.Name())}, nil
	}

	config := testConfig()
	config.ProcessingTimeout = time.Millisecond * 20
	service := New(config, engine, event.New())

	ids := service.AddFiles(testMediaFile("slow.mkv"))
	drainAsync(service)

	waitFor(t, time.Second, func() bool {
		return service.GetItem(ids[0]).State == TIMED_OUT
	}, "item should time out")

	// The probe finally comes back; its outcome must be discarded and the
	// guard left free for the next acquisition.
	close(release)
	time.Sleep(time.Millisecond * 50)

	item := service.GetItem(ids[0])
	assert.Equal(t, TIMED_OUT, item.State)
	assert.Nil(t, item.Result)
	assert.False(t, service.guard.Busy())
}

func TestBatch_AdmissionValidationDoesNotAbortBatch(t *testing.T) {
	engine := newFakeEngine()
	bus := event.New()

	updates := make(event.HandlerChannel, 32)
	bus.RegisterHandlerChannel(updates, event.BATCH_ITEM_UPDATE)

	service := New(testConfig(), engine, bus)
	ids := service.AddFiles(
		testMediaFile("first.mkv"),
		testMediaFile("malware.xyz"),
		testMediaFile("third.mp4"),
	)

	expecter := chanassert.NewChannelExpecter(updates).Expect(
		chanassert.ExactlyNOf(2, chanassert.MatchPredicate(func(message event.HandlerEvent) bool {
			return message.Payload == ids[0]
		})),
		chanassert.ExactlyNOf(2, chanassert.MatchPredicate(func(message event.HandlerEvent) bool {
			return message.Payload == ids[2]
		})),
	)
	expecter.Listen()

	drain(t, service)

	assert.Equal(t, COMPLETED, service.GetItem(ids[0]).State)
	assert.Equal(t, COMPLETED, service.GetItem(ids[2]).State)

	rejected := service.GetItem(ids[1])
	assert.Equal(t, FAILED, rejected.State)
	assert.Contains(t, rejected.Message, "xyz")

	assert.Equal(t, float64(100), service.Progress(), "a rejected item still counts towards aggregate progress")
	assert.Equal(t, []string{"first.mkv", "third.mp4"}, engine.probeOrder, "rejected files must never reach the backend")

	expecter.AssertSatisfied(t, time.Second)
}

func TestBatch_FailureMessagesAreUserFacing(t *testing.T) {
	engine := newFakeEngine()
	engine.probeFn = func(file *media.File) (*metadata.VideoMetadata, error) {
		return nil, &diagnostic.ParseError{Kind: diagnostic.KindCorruptedInput, Message: "moov atom not found"}
	}

	service := New(testConfig(), engine, event.New())
	ids := service.AddFiles(testMediaFile("broken.mp4"))
	drain(t, service)

	item := service.GetItem(ids[0])
	assert.Equal(t, FAILED, item.State)
	assert.Equal(t, "The file appears to be corrupted or is not a valid media file.", item.Message)
}

func TestBatch_ExportSubtitlePassesHintsFromProbeResult(t *testing.T) {
	engine := newFakeEngine()
	engine.probeFn = func(file *media.File) (*metadata.VideoMetadata, error) {
		sub := metadata.NewSubtitleStream(2)
		sub.CodecName = "subrip"
		sub.Language = "eng"
		sub.Forced = true
		return &metadata.VideoMetadata{
			Format:  metadata.NewFormatInfo(file.Name()),
			Streams: []metadata.StreamDescriptor{metadata.NewVideoStream(0), sub},
		}, nil
	}

	service := New(testConfig(), engine, event.New())
	ids := service.AddFiles(testMediaFile("movie.mkv"))
	drain(t, service)

	artifact, err := service.ExportSubtitle(context.Background(), ids[0], 2, SubtitleOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "out.srt", artifact.SuggestedFilename)

	require.Len(t, engine.exportedSubtitles, 1)
	assert.Equal(t, extraction.SubtitleHints{Language: "eng", Forced: true, Codec: "subrip"}, engine.exportedSubtitles[0])

	assert.False(t, service.guard.Busy(), "export must return the session permit")
}

func TestBatch_ExportOverridesReplaceDerivedHints(t *testing.T) {
	engine := newFakeEngine()
	engine.probeFn = func(file *media.File) (*metadata.VideoMetadata, error) {
		sub := metadata.NewSubtitleStream(2)
		sub.CodecName = "subrip"
		sub.Language = "eng"
		sub.Forced = true
		audio := metadata.NewAudioStream(1)
		audio.CodecName = "aac"
		return &metadata.VideoMetadata{
			Format:  metadata.NewFormatInfo(file.Name()),
			Streams: []metadata.StreamDescriptor{metadata.NewVideoStream(0), audio, sub},
		}, nil
	}

	service := New(testConfig(), engine, event.New())
	ids := service.AddFiles(testMediaFile("movie.mkv"))
	drain(t, service)

	forced := false
	_, err := service.ExportSubtitle(context.Background(), ids[0], 2, SubtitleOverrides{
		Language: "ger",
		Codec:    "ass",
		Forced:   &forced,
	})
	require.NoError(t, err)
	require.Len(t, engine.exportedSubtitles, 1)
	assert.Equal(t, extraction.SubtitleHints{Language: "ger", Forced: false, Codec: "ass"}, engine.exportedSubtitles[0])

	_, err = service.ExportStream(context.Background(), ids[0], 1, StreamOverrides{Codec: "flac"})
	require.NoError(t, err)
	require.Len(t, engine.exportedStreams, 1)
	assert.Equal(t, extraction.StreamHints{Codec: "flac"}, engine.exportedStreams[0])
}

func TestBatch_ExportGuards(t *testing.T) {
	engine := newFakeEngine()
	service := New(testConfig(), engine, event.New())
	ids := service.AddFiles(testMediaFile("movie.mkv"))

	// Not yet probed.
	_, err := service.ExportStream(context.Background(), ids[0], 0, StreamOverrides{})
	assert.ErrorIs(t, err, ErrItemNotSettled)

	drain(t, service)

	_, err = service.ExportStream(context.Background(), ids[0], 99, StreamOverrides{})
	assert.ErrorIs(t, err, ErrStreamNotFound)

	_, err = service.ExportStream(context.Background(), uuid.New(), 0, StreamOverrides{})
	assert.ErrorIs(t, err, ErrItemNotFound)

	_, err = service.ExportSubtitle(context.Background(), ids[0], 0, SubtitleOverrides{})
	assert.ErrorIs(t, err, ErrStreamMismatch, "stream 0 is video, not a subtitle")

	artifact, err := service.ExportStream(context.Background(), ids[0], 0, StreamOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "out.mkv", artifact.SuggestedFilename)
}

func TestBatch_RemoveAndClear(t *testing.T) {
	engine := newFakeEngine()
	service := New(testConfig(), engine, event.New())
	ids := service.AddFiles(testMediaFile("a.mkv"), testMediaFile("b.mkv"))
	drain(t, service)

	require.NoError(t, service.RemoveItem(ids[0]))
	assert.Nil(t, service.GetItem(ids[0]))
	assert.NotNil(t, service.GetItem(ids[1]))

	assert.Equal(t, 1, service.Clear())
	assert.Empty(t, service.GetAllItems())
	assert.Equal(t, float64(0), service.Progress())
}

func TestBatch_ClearDropsWaitingItems(t *testing.T) {
	engine := newFakeEngine()
	engine.ready = false
	service := New(testConfig(), engine, event.New())

	// The engine is not ready, so both items stay WAITING after a drain
	// attempt.
	service.AddFiles(testMediaFile("a.mkv"), testMediaFile("b.mkv"))
	drain(t, service)

	assert.Equal(t, 2, service.Clear(), "waiting items must be dropped too, not just settled ones")
	assert.Empty(t, service.GetAllItems())
}

func TestBatch_RetiredItemsReleaseFileHandles(t *testing.T) {
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "a.mkv"), filepath.Join(dir, "b.mkv")}
	files := make([]*media.File, 0, len(paths))
	for _, path := range paths {
		require.NoError(t, os.WriteFile(path, make([]byte, 1024), 0o644))
		file, err := media.OpenFile(path)
		require.NoError(t, err)
		files = append(files, file)
	}

	engine := newFakeEngine()
	service := New(testConfig(), engine, event.New())
	ids := service.AddFiles(files...)
	drain(t, service)

	require.NoError(t, service.RemoveItem(ids[0]))
	assert.ErrorIs(t, files[0].Close(), os.ErrClosed, "removal must have closed the descriptor already")

	require.Equal(t, 1, service.Clear())
	assert.ErrorIs(t, files[1].Close(), os.ErrClosed, "clearing must have closed the descriptor already")
}
