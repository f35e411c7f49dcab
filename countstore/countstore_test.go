package countstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemCountStoreBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()

	c, err := cs.GetCount(ctx, "post", "user1", WindowMinute)
	assert.NoError(err)
	assert.Equal(0, c)

	c, err = cs.Increment(ctx, "post", "user1", WindowMinute)
	assert.NoError(err)
	assert.Equal(1, c)
	c, err = cs.Increment(ctx, "post", "user1", WindowMinute)
	assert.NoError(err)
	assert.Equal(2, c)

	for _, w := range []Window{WindowHour, WindowDay} {
		c, err = cs.GetCount(ctx, "post", "user1", w)
		assert.NoError(err)
		assert.Equal(0, c, "windows are independent buckets")
	}

	c, err = cs.GetCountDistinct(ctx, "report", "subj1", WindowDay)
	assert.NoError(err)
	assert.Equal(0, c)
	assert.NoError(cs.IncrementDistinct(ctx, "report", "subj1", "alice", WindowDay))
	assert.NoError(cs.IncrementDistinct(ctx, "report", "subj1", "alice", WindowDay))
	assert.NoError(cs.IncrementDistinct(ctx, "report", "subj1", "bob", WindowDay))
	c, err = cs.GetCountDistinct(ctx, "report", "subj1", WindowDay)
	assert.NoError(err)
	assert.Equal(2, c)
}

func TestMemCountStoreConcurrent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()

	// N concurrent increments of the same bucket must yield exactly N; reads
	// are interleaved to shake out races (run with `-race`!). A short sleep
	// yields to the scheduler so ordering is decently random.
	var wg sync.WaitGroup
	fnInc := func(kind, subject string, times int) {
		defer wg.Done()
		for i := 0; i < times; i++ {
			_, err := cs.Increment(ctx, kind, subject, WindowDay)
			assert.NoError(err)
			time.Sleep(time.Nanosecond)
		}
	}
	fnRead := func(kind, subject string, times int) {
		for i := 0; i < times; i++ {
			_, err := cs.GetCount(ctx, kind, subject, WindowDay)
			assert.NoError(err)
			time.Sleep(time.Nanosecond)
		}
	}
	wg.Add(4)
	go fnInc("post", "user1", 10)
	go fnInc("post", "user1", 10)
	go fnRead("post", "user1", 10)
	go fnInc("comment", "user2", 6)
	go fnInc("comment", "user2", 6)
	go fnRead("comment", "user2", 6)
	wg.Wait()

	c, err := cs.GetCount(ctx, "post", "user1", WindowDay)
	assert.NoError(err)
	assert.Equal(20, c)
	c, err = cs.GetCount(ctx, "comment", "user2", WindowDay)
	assert.NoError(err)
	assert.Equal(12, c)
}

func TestMemCountStoreExpiry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()
	c, err := cs.Increment(ctx, "post", "user1", WindowSecond)
	assert.NoError(err)
	assert.Equal(1, c)

	// force the bucket past its TTL; read must see an empty window
	cs.lk.Lock()
	for _, v := range cs.counts {
		v.expiresAt = time.Now().Add(-time.Second)
	}
	cs.lk.Unlock()

	c, err = cs.GetCount(ctx, "post", "user1", WindowSecond)
	assert.NoError(err)
	assert.Equal(0, c)
}
