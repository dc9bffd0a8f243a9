package clipboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconkit/beacon/internal/errs"
)

func TestTextRoundTrip(t *testing.T) {
	a := NewActor(&MemoryPort{})
	defer a.Close()

	ctx := context.Background()
	require.NoError(t, a.WriteText(ctx, "hello"))

	got, err := a.ReadText(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestContentTypes(t *testing.T) {
	a := NewActor(&MemoryPort{})
	defer a.Close()

	ctx := context.Background()
	require.NoError(t, a.Write(ctx, Content{Type: ContentFiles, Files: []string{"/tmp/a", "/tmp/b"}}))

	c, err := a.Read(ctx, ContentFiles)
	require.NoError(t, err)
	assert.Equal(t, ContentFiles, c.Type)
	assert.Len(t, c.Files, 2)
}

type blockingPort struct{}

func (blockingPort) Read(ctx context.Context, _ ContentType) (Content, error) {
	<-ctx.Done()
	return Content{}, ctx.Err()
}

func (blockingPort) Write(ctx context.Context, _ Content) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestTimeout(t *testing.T) {
	a := NewActor(blockingPort{})
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := a.ReadText(ctx)
	assert.True(t, errs.IsKind(err, errs.KindTimeout))
}
