package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemLogAppendRead(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	log := NewMemLog()
	id1, err := log.Append(ctx, StreamIngress, map[string]string{"user_id": "u1"})
	assert.NoError(err)
	id2, err := log.Append(ctx, StreamIngress, map[string]string{"user_id": "u2"})
	assert.NoError(err)
	assert.NotEqual(id1, id2)

	entries, err := log.Read(ctx, StreamIngress, CursorStart, 10, 0)
	assert.NoError(err)
	assert.Len(entries, 2)
	assert.Equal("u1", entries[0].Fields["user_id"])

	// cursor advances past consumed entries
	entries, err = log.Read(ctx, StreamIngress, entries[0].ID, 10, 0)
	assert.NoError(err)
	assert.Len(entries, 1)
	assert.Equal("u2", entries[0].Fields["user_id"])

	// batch bound honored
	_, err = log.Append(ctx, StreamIngress, map[string]string{"user_id": "u3"})
	assert.NoError(err)
	entries, err = log.Read(ctx, StreamIngress, CursorStart, 2, 0)
	assert.NoError(err)
	assert.Len(entries, 2)
}

func TestMemLogBlockingRead(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	log := NewMemLog()
	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = log.Append(ctx, StreamReports, map[string]string{"report_id": "1"})
	}()

	entries, err := log.Read(ctx, StreamReports, CursorStart, 10, time.Second)
	assert.NoError(err)
	assert.Len(entries, 1)

	// empty stream + elapsed block timeout is a clean nil
	entries, err = log.Read(ctx, StreamDecisions, CursorStart, 10, 10*time.Millisecond)
	assert.NoError(err)
	assert.Empty(entries)
}

func TestMemCursorStore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCursorStore()
	c, err := cs.GetCursor(ctx, "ingress")
	assert.NoError(err)
	assert.Equal(CursorStart, c)

	assert.NoError(cs.SetCursor(ctx, "ingress", "42-0"))
	c, err = cs.GetCursor(ctx, "ingress")
	assert.NoError(err)
	assert.Equal("42-0", c)
}
