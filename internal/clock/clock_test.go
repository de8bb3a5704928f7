package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogical_Monotonic(t *testing.T) {
	c := NewLogical()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())
}

func TestLogical_ConcurrentUnique(t *testing.T) {
	c := NewLogical()
	const workers, per = 8, 500

	var mu sync.Mutex
	seen := make(map[int64]bool, workers*per)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				v := c.Next()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*per)
	assert.Equal(t, int64(workers*per), c.Current())
}

func TestReal_AfterFuncStop(t *testing.T) {
	var clk Clock = Real{}
	fired := make(chan struct{}, 1)

	tm := clk.AfterFunc(time.Hour, func() { fired <- struct{}{} })
	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())

	clk.AfterFunc(time.Millisecond, func() { fired <- struct{}{} })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}
