package ramblk

import (
	"github.com/stretchr/testify/require"
	"testing"
)

func TestPageArena(t *testing.T) {
	t.Run("ZeroFilled", func(t *testing.T) {
		a := newPageArena(4, newPageBudget(0))
		for i := 0; i < 10; i++ {
			buf, err := a.allocPage()
			require.NoError(t, err)
			require.Len(t, buf, PageSize)
			require.Equal(t, PageSize, cap(buf))
			require.True(t, bytesIsZero(buf))
			buf[0] = 0xff
		}
		require.Equal(t, uint64(10), a.charged)
		require.GreaterOrEqual(t, a.mappedBytes(), uint64(10*PageSize))
		require.NoError(t, a.release())
		require.Zero(t, a.mappedBytes())
	})
	t.Run("Budget", func(t *testing.T) {
		budget := newPageBudget(3)
		a := newPageArena(2, budget)
		var bufs [][]byte
		for i := 0; i < 3; i++ {
			buf, err := a.allocPage()
			require.NoError(t, err)
			bufs = append(bufs, buf)
		}
		_, err := a.allocPage()
		require.ErrorIs(t, err, ErrNoSpace)
		require.Equal(t, uint64(3), budget.used.Load())

		bufs[1][10] = 7
		a.freePage(bufs[1])
		require.Equal(t, uint64(2), budget.used.Load())
		buf, err := a.allocPage()
		require.NoError(t, err)
		require.True(t, bytesIsZero(buf))
		require.Same(t, &bufs[1][0], &buf[0])

		require.NoError(t, a.release())
		require.Zero(t, budget.used.Load())
	})
	t.Run("SharedBudget", func(t *testing.T) {
		budget := newPageBudget(2)
		a1 := newPageArena(1, budget)
		a2 := newPageArena(1, budget)
		_, err := a1.allocPage()
		require.NoError(t, err)
		_, err = a2.allocPage()
		require.NoError(t, err)
		_, err = a1.allocPage()
		require.ErrorIs(t, err, ErrNoSpace)
		require.NoError(t, a2.release())
		_, err = a1.allocPage()
		require.NoError(t, err)
		require.NoError(t, a1.release())
		require.Zero(t, budget.used.Load())
	})
}
