package lndcore

import (
	"context"
	"fmt"

	"github.com/feelancer21/lnunify"
)

// Minimum lnd versions of the gated features.
const (
	MinVersionMPP           = "v0.10.0"
	MinVersionHopPicking    = "v0.11.0"
	MinVersionCoinControl   = "v0.12.0"
	MinVersionAMP           = "v0.13.0"
	MinVersionAccounts      = "v0.13.0"
	MinVersionTaproot       = "v0.15.0"
	MinVersionSimpleTaproot = "v0.16.99"
	MinVersionInboundFees   = "v0.18.0"
)

// Version reads the version of the connected node. Every evaluation asks
// the node again, the request cache coalesces concurrent asks.
func (n *Node) Version(ctx context.Context) (string, error) {
	if err := n.lc.Ready(); err != nil {
		return "", err
	}
	info, err := n.rpc.GetInfo(ctx)
	if err != nil {
		return "", fmt.Errorf("lnd getting info: %w", err)
	}
	return info.GetVersion(), nil
}

// Capabilities is the capability set of an lnd node reached over its own
// API. Adapters with a narrower surface override entries with With.
func (n *Node) Capabilities() lnunify.CapabilitySet {
	return DefaultCapabilities(n.Version)
}

// DefaultCapabilities builds the lnd capability set on top of version.
func DefaultCapabilities(version lnunify.InfoFunc) lnunify.CapabilitySet {
	gate := func(min string) lnunify.Check {
		return lnunify.VersionGate(version, min)
	}
	return lnunify.CapabilitySet{
		lnunify.CapOnchainSends:          lnunify.Static(true),
		lnunify.CapOnchainReceiving:      lnunify.Static(true),
		lnunify.CapLightningSends:        lnunify.Static(true),
		lnunify.CapKeysend:               lnunify.Static(true),
		lnunify.CapChannelManagement:     lnunify.Static(true),
		lnunify.CapPendingChannels:       lnunify.Static(true),
		lnunify.CapClosedChannels:        lnunify.Static(true),
		lnunify.CapMPP:                   gate(MinVersionMPP),
		lnunify.CapAMP:                   gate(MinVersionAMP),
		lnunify.CapCoinControl:           gate(MinVersionCoinControl),
		lnunify.CapHopPicking:            gate(MinVersionHopPicking),
		lnunify.CapMessageSigning:        lnunify.Static(true),
		lnunify.CapRouting:               lnunify.Static(true),
		lnunify.CapNodeInfo:              lnunify.Static(true),
		lnunify.CapAddressTypeSelection:  lnunify.Static(true),
		lnunify.CapTaproot:               gate(MinVersionTaproot),
		lnunify.CapSimpleTaprootChannels: gate(MinVersionSimpleTaproot),
		lnunify.CapBumpFee:               lnunify.Static(true),
		lnunify.CapForwardingHistory:     lnunify.Static(true),
		lnunify.CapInboundFees:           gate(MinVersionInboundFees),
		lnunify.CapAccounts:              gate(MinVersionAccounts),
		lnunify.CapCustomPreimages:       lnunify.Static(true),
		lnunify.CapSubscriptions:         lnunify.Static(true),
		lnunify.CapLnurlAuth:             lnunify.Static(true),
		lnunify.CapOffers:                lnunify.Static(false),
		lnunify.CapWithdrawalRequests:    lnunify.Static(true),
	}
}
