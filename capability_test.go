package lnunify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionGate(t *testing.T) {
	version := "v0.12.1-beta"
	info := func(context.Context) (string, error) { return version, nil }

	caps := CapabilitySet{
		CapCoinControl: VersionGate(info, "v0.12.0"),
		CapAMP:         VersionGate(info, "v0.13.0"),
		CapRouting:     VersionGate(info, "v0.10.0", "v0.12.1"),
	}

	ok, err := caps.Supports(context.Background(), CapCoinControl)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = caps.Supports(context.Background(), CapAMP)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = caps.Supports(context.Background(), CapRouting)
	require.NoError(t, err)
	assert.False(t, ok)

	// Re-evaluated on every call.
	version = "v0.13.0-beta"
	ok, err = caps.Supports(context.Background(), CapAMP)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVersionGateError(t *testing.T) {
	boom := errors.New("unreachable")
	gate := VersionGate(func(context.Context) (string, error) { return "", boom }, "v0.1.0")
	ok, err := gate(context.Background())
	require.ErrorIs(t, err, boom)
	assert.False(t, ok)
}

func TestCapabilitySetWithAndAll(t *testing.T) {
	base := CapabilitySet{CapKeysend: Static(true), CapMPP: Static(true)}
	over := base.With(CapabilitySet{CapMPP: Static(false), CapOffers: All(Static(true), Static(true))})

	assert.Equal(t, []Capability{CapKeysend, CapMPP, CapOffers}, over.Names())

	ok, _ := over.Supports(context.Background(), CapMPP)
	assert.False(t, ok)
	ok, _ = base.Supports(context.Background(), CapMPP)
	assert.True(t, ok)
	ok, _ = over.Supports(context.Background(), CapOffers)
	assert.True(t, ok)

	ok, _ = All(Static(true), Static(false))(context.Background())
	assert.False(t, ok)
}
