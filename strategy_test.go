package job_runner

import (
	"testing"
	"time"

	"github.com/TimeWtr/job_runner/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedScheduleStrategy(t *testing.T) {
	s := NewFixedScheduleStrategy(time.Second, 2)
	for i := 0; i < 2; i++ {
		d, err := s.Next()
		require.NoError(t, err)
		assert.Equal(t, time.Second, d)
	}
	_, err := s.Next()
	assert.ErrorIs(t, err, ErrOverMaxCount)
}

func TestIterationLimit(t *testing.T) {
	l := newIterationLimit(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Next())
	}
	assert.ErrorIs(t, l.Next(), ErrOverMaxCount)
}

func TestSelectors(t *testing.T) {
	workers := []domain.Worker{{ID: 1}, {ID: 2}, {ID: 3}}

	assert.Equal(t, int64(1), FirstSelector{}.Pick(workers).ID)

	seen := map[int64]bool{}
	for i := 0; i < 200; i++ {
		w := RandomSelector{}.Pick(workers)
		assert.Contains(t, []int64{1, 2, 3}, w.ID)
		seen[w.ID] = true
	}
	assert.Len(t, seen, 3)
}
