package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"shopify-analytics-agent/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func turn(q string) domain.ConversationTurn {
	return domain.ConversationTurn{Question: q, Intent: domain.IntentSales, Answer: "a:" + q}
}

func TestMemory_MissingIsFresh(t *testing.T) {
	m := NewMemory(3, time.Minute)
	defer m.Close()

	c, err := m.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.Equal(t, "nope", c.ConversationID)
	require.Empty(t, c.Turns)
	require.Nil(t, c.Last())
}

func TestMemory_AppendKeepsOrderAndBound(t *testing.T) {
	m := NewMemory(3, time.Minute)
	defer m.Close()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, m.Append(ctx, "c1", turn(fmt.Sprintf("q%d", i))))
	}
	c, err := m.Get(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, c.Turns, 3)
	require.Equal(t, "q3", c.Turns[0].Question)
	require.Equal(t, "q5", c.Last().Question)
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	m := NewMemory(3, time.Minute)
	defer m.Close()
	ctx := context.Background()
	require.NoError(t, m.Append(ctx, "c1", turn("q1")))

	c, err := m.Get(ctx, "c1")
	require.NoError(t, err)
	c.Turns[0].Question = "mutated"

	again, err := m.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "q1", again.Turns[0].Question)
}

func TestMemory_ExpiresAfterLastWrite(t *testing.T) {
	m := NewMemory(3, 30*time.Millisecond)
	defer m.Close()
	ctx := context.Background()
	require.NoError(t, m.Append(ctx, "c1", turn("q1")))

	require.Eventually(t, func() bool {
		c, err := m.Get(ctx, "c1")
		return err == nil && len(c.Turns) == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Append(ctx, "c1", turn("q2")))
	c, err := m.Get(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, c.Turns, 1)
	require.Equal(t, "q2", c.Turns[0].Question)
}

func TestMemory_IndependentKeysConcurrently(t *testing.T) {
	m := NewMemory(50, time.Minute)
	defer m.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for c := 0; c < 8; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_ = m.Append(ctx, fmt.Sprintf("conv-%d", c), turn(fmt.Sprintf("q%d", i)))
			}
		}(c)
	}
	wg.Wait()

	for c := 0; c < 8; c++ {
		got, err := m.Get(ctx, fmt.Sprintf("conv-%d", c))
		require.NoError(t, err)
		require.Len(t, got.Turns, 20)
	}
}

func TestMemory_CanceledContext(t *testing.T) {
	m := NewMemory(3, time.Minute)
	defer m.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, m.Append(ctx, "c1", turn("q")), context.Canceled)
	_, err := m.Get(ctx, "c1")
	require.ErrorIs(t, err, context.Canceled)
}
