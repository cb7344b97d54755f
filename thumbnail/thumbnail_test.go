package thumbnail

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/recollect/backend"
)

type countingFetcher struct {
	calls atomic.Int32
	err   error
}

func (f *countingFetcher) FetchThumbnail(ctx context.Context, path string) (backend.Thumbnail, error) {
	f.calls.Add(1)
	if f.err != nil {
		return backend.Thumbnail{}, f.err
	}
	return backend.Thumbnail{Data: []byte(path), ContentType: "image/png"}, nil
}

func TestGetCachesHits(t *testing.T) {
	fetcher := &countingFetcher{}
	c := NewCache(fetcher, time.Minute, nil)

	for range 3 {
		thumb, err := c.Get(context.Background(), "shots/1.png")
		require.NoError(t, err)
		assert.Equal(t, []byte("shots/1.png"), thumb.Data)
	}
	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.Equal(t, 1, c.Len())

	c.Flush()
	_, err := c.Get(context.Background(), "shots/1.png")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestGetDoesNotCacheFailures(t *testing.T) {
	fetcher := &countingFetcher{err: errors.New("404")}
	c := NewCache(fetcher, time.Minute, nil)

	_, err := c.Get(context.Background(), "missing.png")
	require.Error(t, err)
	_, err = c.Get(context.Background(), "missing.png")
	require.Error(t, err)

	assert.Equal(t, int32(2), fetcher.calls.Load())
	assert.Zero(t, c.Len())
}
