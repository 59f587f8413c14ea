package async

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolExecute(t *testing.T) {
	pool := NewPool(3)
	tasks := []Task{
		{Name: "a", Execute: func() (any, error) { return 1, nil }},
		{Name: "b", Execute: func() (any, error) { return nil, errors.New("boom") }},
		{Name: "c", Execute: func() (any, error) { panic("kaboom") }},
		{Name: "d", Execute: func() (any, error) { return "x", nil }},
	}

	results := pool.Execute(context.Background(), tasks)
	require.Len(t, results, 4)
	assert.Equal(t, 1, results["a"].Data)
	assert.EqualError(t, results["b"].Err, "boom")
	assert.ErrorContains(t, results["c"].Err, "kaboom")
	assert.Equal(t, "x", results["d"].Data)

	// reusable
	again := pool.Execute(context.Background(), tasks[:1])
	assert.Equal(t, 1, again["a"].Data)
}

func TestPoolExecuteContextCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	results := NewPool(1).Execute(ctx, []Task{
		{Name: "slow", Execute: func() (any, error) {
			time.Sleep(200 * time.Millisecond)
			return nil, nil
		}},
	})
	assert.ErrorIs(t, results["slow"].Err, context.DeadlineExceeded)
}
