package slot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reg := NewRegistry("acme", "production", 4000, now)

	assert.Equal(t, None, reg.ActiveSlot)
	assert.Equal(t, 4000, reg.Blue.Port)
	assert.Equal(t, 4001, reg.Green.Port)
	assert.Equal(t, StateEmpty, reg.Blue.State)
	assert.Equal(t, StateEmpty, reg.Green.State)
	assert.NoError(t, reg.Validate())
}

func TestDeployTarget_FirstDeployIsBlue(t *testing.T) {
	reg := NewRegistry("acme", "production", 4000, time.Now())
	assert.Equal(t, Blue, reg.DeployTarget())
}

func TestDeployTarget_AlternatesFromActive(t *testing.T) {
	reg := NewRegistry("acme", "production", 4000, time.Now())
	reg.ActiveSlot = Blue
	assert.Equal(t, Green, reg.DeployTarget())

	reg.ActiveSlot = Green
	assert.Equal(t, Blue, reg.DeployTarget())
}

func TestDeployedCandidate_PicksNonActiveDeployed(t *testing.T) {
	reg := NewRegistry("acme", "production", 4000, time.Now())
	reg.ActiveSlot = Blue
	reg.Blue.State = StateActive
	reg.Green.State = StateDeployed

	name, ok := reg.DeployedCandidate()
	require.True(t, ok)
	assert.Equal(t, Green, name)
}

func TestDeployedCandidate_NoneWhenNothingDeployed(t *testing.T) {
	reg := NewRegistry("acme", "production", 4000, time.Now())
	_, ok := reg.DeployedCandidate()
	assert.False(t, ok)
}

func TestDeployedCandidate_TransientBothDeployed_PicksNewest(t *testing.T) {
	reg := NewRegistry("acme", "production", 4000, time.Now())
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	reg.Blue.State = StateDeployed
	reg.Blue.DeployedAt = &older
	reg.Green.State = StateDeployed
	reg.Green.DeployedAt = &newer

	name, ok := reg.DeployedCandidate()
	require.True(t, ok)
	assert.Equal(t, Green, name)
}

func TestGraceSlot(t *testing.T) {
	reg := NewRegistry("acme", "production", 4000, time.Now())
	_, ok := reg.GraceSlot()
	assert.False(t, ok)

	reg.Blue.State = StateGrace
	name, ok := reg.GraceSlot()
	require.True(t, ok)
	assert.Equal(t, Blue, name)
}

func TestValidate_AtMostOneActive(t *testing.T) {
	reg := NewRegistry("acme", "production", 4000, time.Now())
	reg.Blue.State = StateActive
	reg.Green.State = StateActive
	assert.Error(t, reg.Validate())
}

func TestValidate_ActiveSlotMustNameActiveState(t *testing.T) {
	reg := NewRegistry("acme", "production", 4000, time.Now())
	reg.ActiveSlot = Blue
	reg.Blue.State = StateDeployed
	assert.Error(t, reg.Validate())
}

func TestValidate_GraceExpiresAtIffGrace(t *testing.T) {
	reg := NewRegistry("acme", "production", 4000, time.Now())
	expires := time.Now().Add(48 * time.Hour)
	reg.Blue.GraceExpiresAt = &expires
	reg.Blue.State = StateDeployed
	assert.Error(t, reg.Validate())

	reg.Blue.State = StateGrace
	assert.NoError(t, reg.Validate())
}

func TestValidate_PortsMustDifferByOne(t *testing.T) {
	reg := NewRegistry("acme", "production", 4000, time.Now())
	reg.Green.Port = 4010
	assert.Error(t, reg.Validate())
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "acme-production-blue", ContainerName("acme", "production", Blue))
}

func TestSlotNameOther(t *testing.T) {
	assert.Equal(t, Green, Blue.Other())
	assert.Equal(t, Blue, Green.Other())
}

func TestGetSet(t *testing.T) {
	reg := NewRegistry("acme", "production", 4000, time.Now())
	s := reg.Get(Blue)
	s.Version = "v1"
	reg.Set(Blue, s)

	assert.Equal(t, "v1", reg.Get(Blue).Version)
	assert.Equal(t, Blue, reg.Get(Blue).Name)
}
