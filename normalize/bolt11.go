package normalize

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/feelancer21/lnunify"
	"github.com/lightningnetwork/lnd/zpay32"
)

// bolt11Networks maps invoice prefixes to networks. Longer prefixes come
// first since lnbcrt also starts with lnbc.
var bolt11Networks = []struct {
	prefix  string
	network string
}{
	{"lnbcrt", "regtest"},
	{"lnbc", "mainnet"},
	{"lntbs", "signet"},
	{"lntb", "testnet"},
	{"lnsb", "simnet"},
}

// Bolt11Network returns the network a payment request is valid on.
func Bolt11Network(payReq string) (string, error) {
	lower := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(payReq), "lightning:"))
	for _, n := range bolt11Networks {
		if strings.HasPrefix(lower, n.prefix) {
			return n.network, nil
		}
	}
	return "", fmt.Errorf("unknown payment request prefix")
}

// DecodeBolt11 decodes a payment request without a node. The network is
// derived from the prefix.
func DecodeBolt11(payReq string) (lnunify.PayReq, error) {
	payReq = strings.TrimPrefix(strings.TrimSpace(payReq), "lightning:")
	network, err := Bolt11Network(payReq)
	if err != nil {
		return lnunify.PayReq{}, err
	}
	params, err := NetParams(network)
	if err != nil {
		return lnunify.PayReq{}, err
	}
	inv, err := zpay32.Decode(payReq, params)
	if err != nil {
		return lnunify.PayReq{}, fmt.Errorf("decoding payment request: %w", err)
	}

	out := lnunify.PayReq{
		Timestamp:  inv.Timestamp.Unix(),
		Expiry:     int64(inv.Expiry().Seconds()),
		CLTVExpiry: int64(inv.MinFinalCLTVExpiry()),
	}
	if inv.Destination != nil {
		out.Destination = hex.EncodeToString(inv.Destination.SerializeCompressed())
	}
	if inv.PaymentHash != nil {
		out.PaymentHash = hex.EncodeToString(inv.PaymentHash[:])
	}
	if inv.MilliSat != nil {
		out.NumMsat = int64(*inv.MilliSat)
		out.NumSat = MsatToSat(out.NumMsat)
	}
	if inv.Description != nil {
		out.Description = *inv.Description
	}
	if inv.DescriptionHash != nil {
		out.DescriptionHash = hex.EncodeToString(inv.DescriptionHash[:])
	}
	if inv.FallbackAddr != nil {
		out.FallbackAddr = inv.FallbackAddr.EncodeAddress()
	}
	return out, nil
}
