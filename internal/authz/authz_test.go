package authz

import (
	"testing"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminClaim(t *testing.T) {
	var zero AdminClaim
	require.ErrorIs(t, zero.Require(), domain.ErrUnauthorized)
	assert.Nil(t, zero.Actor())

	require.ErrorIs(t, GrantAdmin(uuid.Nil).Require(), domain.ErrUnauthorized)

	id := uuid.New()
	claim := GrantAdmin(id)
	require.NoError(t, claim.Require())
	assert.Equal(t, id, claim.ActorID())
	require.NotNil(t, claim.Actor())
	assert.Equal(t, id, *claim.Actor())
}
