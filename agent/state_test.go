package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to NodeState
		want     bool
	}{
		{StateCreated, StateRunning, true},
		{StateCreated, StateCancelled, true},
		{StateCreated, StateCompleted, false},
		{StateRunning, StateRunning, true},
		{StateRunning, StateCompleted, true},
		{StateRunning, StateFailed, true},
		{StateRunning, StateBudgetPaused, true},
		{StateBudgetPaused, StateRunning, true},
		{StateBudgetPaused, StateCompleted, false},
		{StateCompleted, StateRunning, false},
		{StateFailed, StateRunning, false},
		{StateCancelled, StateRunning, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStateMachine_Lifecycle(t *testing.T) {
	m := NewStateMachine()
	assert.Equal(t, StateCreated, m.State())

	require.NoError(t, m.Transition(StateRunning))
	require.NoError(t, m.Transition(StateRunning))
	require.NoError(t, m.Transition(StateBudgetPaused))
	require.NoError(t, m.Transition(StateRunning))
	require.NoError(t, m.Transition(StateCompleted))
	assert.Equal(t, 3, m.Steps())
	assert.True(t, m.State().Terminal())

	err := m.Transition(StateRunning)
	var invalid ErrInvalidTransition
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, StateCompleted, invalid.From)
	assert.Equal(t, StateRunning, invalid.To)
	assert.Equal(t, StateCompleted, m.State())
}
