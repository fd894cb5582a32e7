package normalize

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// NetParams returns the chain parameters of a canonical network name.
func NetParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet", "bitcoin", "":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

// AddressFromScript encodes the address paid by a hex encoded output
// script. P2PKH, P2PK, P2SH, segwit v0 and taproot outputs are supported.
func AddressFromScript(scriptHex, network string) (string, error) {
	params, err := NetParams(network)
	if err != nil {
		return "", err
	}
	script, err := hex.DecodeString(scriptHex)
	if err != nil {
		return "", fmt.Errorf("invalid script: %w", err)
	}
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, params)
	if err != nil {
		return "", fmt.Errorf("extracting address: %w", err)
	}
	if len(addrs) == 0 {
		return "", errors.New("script has no address")
	}
	return addrs[0].EncodeAddress(), nil
}
