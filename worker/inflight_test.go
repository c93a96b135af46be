package worker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInflightDrain(t *testing.T) {
	f := newInflight()
	require.True(t, f.acquire())
	require.True(t, f.acquire())

	idle := f.drain()
	assert.False(t, f.acquire())

	f.release()
	select {
	case <-idle:
		t.Fatal("idle with a request still running")
	default:
	}

	f.release()
	<-idle
	assert.Equal(t, idle, f.drain())
}

func TestInflightDrainWhenEmpty(t *testing.T) {
	f := newInflight()
	<-f.drain()
	assert.False(t, f.acquire())
}

func TestInflightConcurrentAcquireAndDrain(t *testing.T) {
	f := newInflight()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.acquire() {
				f.release()
			}
		}()
	}
	idle := f.drain()
	wg.Wait()
	<-idle
}
