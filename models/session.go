package models

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session represents a streaming session with a remote renderer. It owns the
// render tick: frame handlers registered on the session are called once per
// frame from a single goroutine.
type Session struct {
	ID string

	// The server endpoint streaming to this session.
	Endpoint string

	startFrameOnce  sync.Once
	closeFrameChan  chan struct{}
	frameTicker     *time.Ticker
	frameHandlerIDs uint32
	frameHandlers   map[uint32]func()
	frameMutex      sync.RWMutex
	frameCount      atomic.Uint64

	closeOnce sync.Once
}

func NewSession(endpoint string, frameDuration time.Duration) *Session {
	instrumentIncreaseSessionGauge(endpoint)

	return &Session{
		ID:             uuid.New().String(),
		Endpoint:       endpoint,
		closeFrameChan: make(chan struct{}, 1),
		frameTicker:    time.NewTicker(frameDuration),
		frameHandlers:  make(map[uint32]func()),
	}
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.frameTicker.Stop()
		s.closeFrameChan <- struct{}{}
		instrumentDecreaseSessionGauge(s.Endpoint)
	})
}

// HandleFrame registers a function called on every frame. The returned
// function unregisters it.
func (s *Session) HandleFrame(h func()) (cancel func()) {
	s.frameMutex.Lock()
	defer s.frameMutex.Unlock()

	s.frameHandlerIDs++
	id := s.frameHandlerIDs
	s.frameHandlers[id] = h

	return func() {
		s.frameMutex.Lock()
		defer s.frameMutex.Unlock()

		delete(s.frameHandlers, id)
	}
}

// StartDispatchFrames calls the frame handlers on every tick until the session
// is closed. It blocks.
func (s *Session) StartDispatchFrames() {
	s.startFrameOnce.Do(func() {
		for {
			select {
			case <-s.closeFrameChan:
				return

			case <-s.frameTicker.C:
				start := time.Now()

				s.frameMutex.RLock()
				for _, h := range s.frameHandlers {
					h()
				}
				s.frameMutex.RUnlock()

				s.frameCount.Add(1)
				instrumentFrameDispatch(s.Endpoint, start)
			}
		}
	})
}

// FrameCount returns the number of dispatched frames.
func (s *Session) FrameCount() uint64 {
	return s.frameCount.Load()
}
