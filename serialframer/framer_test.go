package serialframer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFramerCoalescesBurstIntoOneFrame(t *testing.T) {
	var mu sync.Mutex
	var frames [][]byte

	f := New(func(frame []byte) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, append([]byte(nil), frame...))
	}, WithFrameTimeout(10*time.Millisecond))
	defer f.Stop()

	for _, b := range []byte("hello") {
		f.PutByte(b)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []byte("hello"), frames[0])
}

func TestFramerSeparatesFramesBySilence(t *testing.T) {
	var mu sync.Mutex
	var frames [][]byte

	f := New(func(frame []byte) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, append([]byte(nil), frame...))
	}, WithFrameTimeout(10*time.Millisecond))
	defer f.Stop()

	f.PutByte('A')
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 1
	}, time.Second, time.Millisecond)

	f.PutByte('B')
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []byte("A"), frames[0])
	require.Equal(t, []byte("B"), frames[1])
}

func TestFramerOverflowDropsSilently(t *testing.T) {
	f := New(func([]byte) {}, WithFrameTimeout(time.Hour))
	defer f.Stop()

	for i := 0; i < Capacity+50; i++ {
		f.PutByte(byte(i))
	}

	require.Equal(t, 50, f.OverflowCount())
}
