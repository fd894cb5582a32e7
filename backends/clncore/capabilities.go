package clncore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/feelancer21/lnunify"
)

// MinVersionOffers is the first release with offers enabled by default.
// Older nodes need the experimental-offers option.
const MinVersionOffers = "v24.11"

const offersConfig = "experimental-offers"

// Version reads the version of the connected node.
func (n *Node) Version(ctx context.Context) (string, error) {
	if err := n.lc.Ready(); err != nil {
		return "", err
	}
	info, err := n.getinfo(ctx)
	if err != nil {
		return "", err
	}
	return info.Version, nil
}

// Capabilities is the set of a node driven through the common commands
// only.
func (n *Node) Capabilities() lnunify.CapabilitySet {
	return lnunify.CapabilitySet{
		lnunify.CapOnchainSends:          lnunify.Static(true),
		lnunify.CapOnchainReceiving:      lnunify.Static(true),
		lnunify.CapLightningSends:        lnunify.Static(true),
		lnunify.CapKeysend:               lnunify.Static(false),
		lnunify.CapChannelManagement:     lnunify.Static(true),
		lnunify.CapPendingChannels:       lnunify.Static(true),
		lnunify.CapClosedChannels:        lnunify.Static(false),
		lnunify.CapMPP:                   lnunify.Static(false),
		lnunify.CapAMP:                   lnunify.Static(false),
		lnunify.CapCoinControl:           lnunify.Static(n.dialect == Modern),
		lnunify.CapHopPicking:            lnunify.Static(false),
		lnunify.CapMessageSigning:        lnunify.Static(false),
		lnunify.CapRouting:               lnunify.Static(true),
		lnunify.CapNodeInfo:              lnunify.Static(true),
		lnunify.CapAddressTypeSelection:  lnunify.Static(n.dialect == Modern),
		lnunify.CapTaproot:               lnunify.Static(n.dialect == Modern),
		lnunify.CapSimpleTaprootChannels: lnunify.Static(false),
		lnunify.CapBumpFee:               lnunify.Static(false),
		lnunify.CapOffers:                lnunify.Static(false),
		lnunify.CapWithdrawalRequests:    lnunify.Static(false),
		lnunify.CapForwardingHistory:     lnunify.Static(false),
		lnunify.CapInboundFees:           lnunify.Static(false),
		lnunify.CapAccounts:              lnunify.Static(false),
		lnunify.CapCustomPreimages:       lnunify.Static(false),
		lnunify.CapSubscriptions:         lnunify.Static(false),
		lnunify.CapLnurlAuth:             lnunify.Static(false),
	}
}

// Capabilities adds the rune reachable features. Offers are checked live
// on nodes before MinVersionOffers.
func (n *FullNode) Capabilities() lnunify.CapabilitySet {
	return n.Node.Capabilities().With(lnunify.CapabilitySet{
		lnunify.CapKeysend:            lnunify.Static(true),
		lnunify.CapClosedChannels:     lnunify.Static(true),
		lnunify.CapMessageSigning:     lnunify.Static(true),
		lnunify.CapOffers:             n.offers,
		lnunify.CapWithdrawalRequests: lnunify.Static(true),
		lnunify.CapForwardingHistory:  lnunify.Static(true),
		lnunify.CapCustomPreimages:    lnunify.Static(n.dialect == Modern),
		lnunify.CapLnurlAuth:          lnunify.Static(true),
	})
}

func (n *FullNode) offers(ctx context.Context) (bool, error) {
	v, err := n.Version(ctx)
	if err != nil {
		return false, fmt.Errorf("getting node version: %w", err)
	}
	if lnunify.IsSupportedVersion(v, MinVersionOffers) {
		return true, nil
	}
	return n.OffersEnabled(ctx)
}

// OffersEnabled reads the experimental-offers option with listconfigs.
func (n *FullNode) OffersEnabled(ctx context.Context) (bool, error) {
	resp, err := call[configList](ctx, n.caller, "listconfigs", nil)
	if err != nil {
		return false, fmt.Errorf("cln listing configs: %w", err)
	}
	if raw, ok := resp.Configs[offersConfig]; ok {
		return configSet(raw), nil
	}
	return configSet(resp.ExperimentalOffers), nil
}

// configList covers the configs object of current nodes and the top level
// flags older ones reported.
type configList struct {
	Configs            map[string]json.RawMessage `json:"configs"`
	ExperimentalOffers json.RawMessage            `json:"experimental-offers"`
}

// configSet reports whether a flag option is enabled. Current nodes report
// {"set": true}, older ones a plain boolean.
func configSet(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var flag bool
	if err := json.Unmarshal(raw, &flag); err == nil {
		return flag
	}
	var entry struct {
		Set *bool `json:"set"`
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		return false
	}
	return entry.Set == nil || *entry.Set
}
