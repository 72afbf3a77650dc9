package portpool_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talkbridge/mediabridge/internal/portpool"
)

func TestAcquireReleaseReacquire(t *testing.T) {
	pool, err := portpool.New("127.0.0.1", 30000, 30009) // 5 pairs
	require.NoError(t, err)

	sp, err := pool.Acquire()
	require.NoError(t, err)
	require.True(t, sp.RtpPort%2 == 0)
	require.Equal(t, sp.RtpPort+1, sp.RtcpPort)

	pool.Release(sp)

	sp2, err := pool.Acquire()
	require.NoError(t, err)
	require.NotNil(t, sp2)
	pool.Release(sp2)
}

func TestExhaustion(t *testing.T) {
	pool, err := portpool.New("127.0.0.1", 30100, 30103) // 2 pairs
	require.NoError(t, err)

	a, err := pool.Acquire()
	require.NoError(t, err)
	b, err := pool.Acquire()
	require.NoError(t, err)

	_, err = pool.Acquire()
	require.ErrorIs(t, err, portpool.ErrExhausted)

	pool.Release(a)
	pool.Release(b)
}

func TestConcurrentAcquireNoOverlap(t *testing.T) {
	pool, err := portpool.New("127.0.0.1", 30200, 30249) // 25 pairs
	require.NoError(t, err)

	var mu sync.Mutex
	seen := make(map[int]bool)
	var wg sync.WaitGroup
	pairs := make([]*portpool.SocketPair, 0, 25)

	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sp, err := pool.Acquire()
			require.NoError(t, err)
			mu.Lock()
			require.False(t, seen[sp.RtpPort], "overlapping port acquired")
			seen[sp.RtpPort] = true
			pairs = append(pairs, sp)
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, sp := range pairs {
		pool.Release(sp)
	}
}
