package models

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	session := NewSession("ws://localhost:4000", time.Second)
	defer session.Close()

	require.NotEmpty(t, session.ID)
	require.Equal(t, "ws://localhost:4000", session.Endpoint)
	require.Zero(t, session.FrameCount())
}

func TestSessionHandleFrame(t *testing.T) {
	session := NewSession("test", time.Millisecond*5)
	defer session.Close()

	cancel := session.HandleFrame(func() {})
	require.Len(t, session.frameHandlers, 1)
	defer cancel()

	cancel()
	require.Empty(t, session.frameHandlers)
}

func TestSessionStartDispatchFrame(t *testing.T) {
	session := NewSession("test", time.Millisecond*5)

	var wg sync.WaitGroup
	wg.Add(1)

	var once sync.Once
	session.HandleFrame(func() {
		once.Do(wg.Done)
	})

	done := make(chan struct{})
	go func() {
		session.StartDispatchFrames()
		close(done)
	}()

	wg.Wait()
	session.Close()
	<-done

	require.NotZero(t, session.FrameCount())
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	session := NewSession("test", time.Millisecond)
	session.Close()
	session.Close()
}
