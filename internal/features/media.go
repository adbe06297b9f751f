package features

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"shen/internal/domain"
)

// ErrNoChunk is returned by a TrackSource when nothing was recorded since
// the previous read.
var ErrNoChunk = errors.New("no chunk available")

// Device is the boundary to the candidate's camera and microphone. Open
// fails when the browser permission was denied.
type Device interface {
	Open(ctx context.Context) (TrackSource, error)
}

// TrackSource produces the recorded media slices and releases the
// underlying tracks on Close.
type TrackSource interface {
	ReadChunk(ctx context.Context) ([]byte, error)
	Close() error
}

// MediaHandles is the live capture handle shared between the preview and
// the recorder. Track toggles mute without stopping the stream; only
// Release stops the tracks, and it is safe to call more than once.
type MediaHandles struct {
	mu           sync.Mutex
	source       TrackSource
	videoEnabled bool
	audioEnabled bool
	released     bool
}

func (h *MediaHandles) SetVideoEnabled(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.videoEnabled = enabled
}

func (h *MediaHandles) SetAudioEnabled(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.audioEnabled = enabled
}

func (h *MediaHandles) VideoEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.videoEnabled
}

func (h *MediaHandles) AudioEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.audioEnabled
}

// Release stops all tracks. Idempotent: the first call closes the source,
// later calls are no-ops.
func (h *MediaHandles) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true
	return h.source.Close()
}

// Source exposes the underlying track source, shared between the preview
// and the recorder.
func (h *MediaHandles) Source() TrackSource {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.source
}

func (h *MediaHandles) isReleased() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// MediaAdapter acquires capture handles and runs recordings.
type MediaAdapter struct {
	logger *zap.Logger
}

func NewMediaAdapter(logger *zap.Logger) *MediaAdapter {
	return &MediaAdapter{logger: logger}
}

// Acquire requests camera and microphone access from the device. A denial
// is reported as MediaAccessError; the session cannot leave setup without
// both tracks.
func (a *MediaAdapter) Acquire(ctx context.Context, device Device) (*MediaHandles, error) {
	source, err := device.Open(ctx)
	if err != nil {
		a.logger.Error("Media device acquisition failed", zap.Error(err))
		return nil, &domain.MediaAccessError{Cause: err}
	}

	return &MediaHandles{
		source:       source,
		videoEnabled: true,
		audioEnabled: true,
	}, nil
}

// Recording is the lazy chunk stream produced while a session records.
type Recording struct {
	chunks   chan domain.MediaChunk
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// Chunks returns the stream of recorded chunks. The channel closes when
// the recording stops.
func (r *Recording) Chunks() <-chan domain.MediaChunk {
	return r.chunks
}

// Stop ends the recording. Safe to call more than once.
func (r *Recording) Stop() {
	r.stopOnce.Do(r.cancel)
	<-r.done
}

// StartRecording pulls a chunk from the handles at the fixed interval and
// emits it on the stream until Stop is called or the handles are released.
// Delivery of emitted chunks is the consumer's concern.
func (a *MediaAdapter) StartRecording(sessionID string, handles *MediaHandles, interval time.Duration) *Recording {
	ctx, cancel := context.WithCancel(context.Background())
	rec := &Recording{
		chunks: make(chan domain.MediaChunk, 16),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(rec.done)
		defer close(rec.chunks)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var index int32
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if handles.isReleased() {
					return
				}

				data, err := handles.source.ReadChunk(ctx)
				if err == ErrNoChunk {
					continue
				}
				if err != nil {
					// Capture errors do not halt the recording loop
					a.logger.Warn("Failed to read media chunk",
						zap.String("sessionID", sessionID), zap.Error(err))
					continue
				}

				chunk := domain.MediaChunk{
					SessionID:  sessionID,
					ChunkIndex: index,
					Data:       data,
					RecordedAt: time.Now(),
				}
				index++

				select {
				case rec.chunks <- chunk:
				default:
					// Best-effort telemetry: drop when the consumer lags
					a.logger.Warn("Dropping media chunk, stream is full",
						zap.String("sessionID", sessionID),
						zap.Int32("chunkIndex", chunk.ChunkIndex))
				}
			}
		}
	}()

	return rec
}

// StreamSource is a TrackSource fed over the HTTP boundary: the browser
// posts recorded slices and the recording loop drains them.
type StreamSource struct {
	mu      sync.Mutex
	pending [][]byte
	closed  bool
}

func NewStreamSource() *StreamSource {
	return &StreamSource{}
}

// Push enqueues a recorded slice. Pushes after Close are discarded.
func (s *StreamSource) Push(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = append(s.pending, data)
}

func (s *StreamSource) ReadChunk(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, ErrNoChunk
	}
	data := s.pending[0]
	s.pending = s.pending[1:]
	return data, nil
}

func (s *StreamSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pending = nil
	return nil
}

// streamDevice grants access based on what the candidate reported at
// setup time.
type streamDevice struct {
	videoGranted bool
	audioGranted bool
}

// NewStreamDevice models the browser permission grant. Open fails unless
// both camera and microphone were granted.
func NewStreamDevice(videoGranted, audioGranted bool) Device {
	return &streamDevice{videoGranted: videoGranted, audioGranted: audioGranted}
}

func (d *streamDevice) Open(ctx context.Context) (TrackSource, error) {
	if !d.videoGranted {
		return nil, errors.New("camera permission denied")
	}
	if !d.audioGranted {
		return nil, errors.New("microphone permission denied")
	}
	return NewStreamSource(), nil
}
