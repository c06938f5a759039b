package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    LifecycleState
		to      LifecycleState
		wantErr bool
	}{
		{name: "delete active", from: StateActive, to: StateDeleted},
		{name: "restore deleted", from: StateDeleted, to: StateActive},
		{name: "re-delete", from: StateDeleted, to: StateDeleted, wantErr: true},
		{name: "restore active", from: StateActive, to: StateActive, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.from.Transition(tt.to)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrConflict)
				assert.Equal(t, tt.from, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, got)
		})
	}
}

func TestDonationStateFromModel(t *testing.T) {
	m := donationModel{ID: uuid.New()}
	d := m.toDomain()
	assert.Nil(t, d.Deletion)
	assert.Equal(t, StateActive, d.State())

	at := time.Now().UTC()
	by := uuid.New()
	reason := DefaultDeletionReason
	m.IsDeleted = true
	m.DeletedAt = &at
	m.DeletedBy = &by
	m.DeletionReason = &reason

	d = m.toDomain()
	require.NotNil(t, d.Deletion)
	assert.Equal(t, StateDeleted, d.State())
	assert.Equal(t, Deletion{At: at, By: by, Reason: reason}, *d.Deletion)
}
