package lnunify

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Capability names a feature an adapter may or may not support.
type Capability string

const (
	CapOnchainSends          Capability = "onchainSends"
	CapOnchainReceiving      Capability = "onchainReceiving"
	CapLightningSends        Capability = "lightningSends"
	CapKeysend               Capability = "keysend"
	CapChannelManagement     Capability = "channelManagement"
	CapPendingChannels       Capability = "pendingChannels"
	CapClosedChannels        Capability = "closedChannels"
	CapMPP                   Capability = "mpp"
	CapAMP                   Capability = "amp"
	CapCoinControl           Capability = "coinControl"
	CapHopPicking            Capability = "hopPicking"
	CapMessageSigning        Capability = "messageSigning"
	CapRouting               Capability = "routing"
	CapNodeInfo              Capability = "nodeInfo"
	CapAddressTypeSelection  Capability = "addressTypeSelection"
	CapTaproot               Capability = "taproot"
	CapSimpleTaprootChannels Capability = "simpleTaprootChannels"
	CapBumpFee               Capability = "bumpFee"
	CapOffers                Capability = "offers"
	CapWithdrawalRequests    Capability = "withdrawalRequests"
	CapForwardingHistory     Capability = "forwardingHistory"
	CapInboundFees           Capability = "inboundFees"
	CapAccounts              Capability = "accounts"
	CapCustomPreimages       Capability = "customPreimages"
	CapSubscriptions         Capability = "subscriptions"
	CapLnurlAuth             Capability = "lnurlAuth"
)

// Check answers whether a capability is available. Checks that need a
// network round trip say so in the adapter that defines them.
type Check func(ctx context.Context) (bool, error)

// Static wraps an already known answer.
func Static(v bool) Check {
	return func(context.Context) (bool, error) { return v, nil }
}

// InfoFunc returns the version string reported by the connected node.
type InfoFunc func(ctx context.Context) (string, error)

// VersionGate is supported when the node version is at least min and, when
// eos is set, still before eos.
func VersionGate(version InfoFunc, min string, eos ...string) Check {
	return func(ctx context.Context) (bool, error) {
		v, err := version(ctx)
		if err != nil {
			return false, fmt.Errorf("getting node version: %w", err)
		}
		return IsSupportedVersion(v, min, eos...), nil
	}
}

// All is supported only when every check is.
func All(checks ...Check) Check {
	return func(ctx context.Context) (bool, error) {
		for _, c := range checks {
			ok, err := c(ctx)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// CapabilitySet maps capability names to their checks. Missing entries are
// unsupported.
type CapabilitySet map[Capability]Check

// Supports evaluates a single capability.
func (s CapabilitySet) Supports(ctx context.Context, c Capability) (bool, error) {
	check, ok := s[c]
	if !ok || check == nil {
		return false, nil
	}
	return check(ctx)
}

// With returns a copy of s with the given entries replaced or added.
func (s CapabilitySet) With(overrides CapabilitySet) CapabilitySet {
	out := make(CapabilitySet, len(s)+len(overrides))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Names returns the declared capability names in sorted order.
func (s CapabilitySet) Names() []Capability {
	names := make([]Capability, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// CapabilityResult is one evaluated capability.
type CapabilityResult struct {
	Supported bool   `json:"supported"`
	Error     string `json:"error,omitempty"`
}

// Evaluate runs every check concurrently and returns a snapshot.
func (s CapabilitySet) Evaluate(ctx context.Context) map[Capability]CapabilityResult {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[Capability]CapabilityResult, len(s))
	)
	for name, check := range s {
		wg.Add(1)
		go func(name Capability, check Check) {
			defer wg.Done()
			ok, err := check(ctx)
			res := CapabilityResult{Supported: ok && err == nil}
			if err != nil {
				res.Error = err.Error()
			}
			mu.Lock()
			out[name] = res
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()
	return out
}
