package pipeline

import (
	"sync"
	"testing"

	"github.com/RubachokBoss/qcm-grader/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.RunState
		want     bool
	}{
		{models.StateIdle, models.StateLayoutReady, true},
		{models.StateIdle, models.StateAnalyzed, false},
		{models.StateLayoutReady, models.StateScansNormalized, true},
		{models.StateScored, models.StateVerified, true},
		{models.StateVerified, models.StateDone, true},
		{models.StateVerified, models.StateExported, true},
		{models.StateExported, models.StateDone, true},
		{models.StateAnalyzed, models.StateFailed, true},
		{models.StateDone, models.StateFailed, false},
		{models.StateFailed, models.StateFailed, false},
		{models.StateDone, models.StateIdle, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestProjectLocks(t *testing.T) {
	locks := NewProjectLocks()

	release, err := locks.TryLock("/data/projects/a")
	require.NoError(t, err)

	_, err = locks.TryLock("/data/projects/a/")
	assert.ErrorIs(t, err, ErrRunInProgress)

	other, err := locks.TryLock("/data/projects/b")
	require.NoError(t, err)
	other()

	release()
	release()
	again, err := locks.TryLock("/data/projects/a")
	require.NoError(t, err)
	again()
}

func TestProjectLocks_OneWinner(t *testing.T) {
	locks := NewProjectLocks()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := locks.TryLock("/p"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
