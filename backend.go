package lnunify

import (
	"fmt"
	"strings"
)

// BackendKind identifies the protocol family of a node control plane.
type BackendKind string

const (
	// KindLND is lnd reached over its REST API with a macaroon header.
	KindLND BackendKind = "lnd"

	// KindCLNRest is Core Lightning reached over clnrest with a rune.
	KindCLNRest BackendKind = "cln-rest"

	// KindLNSocket is Core Lightning reached over commando on a Noise
	// protocol TCP session.
	KindLNSocket BackendKind = "lnsocket"

	// KindSpark is Core Lightning behind the Spark wallet JSON-RPC bridge.
	KindSpark BackendKind = "spark"

	// KindEclair is an Eclair node with its form encoded REST API.
	KindEclair BackendKind = "eclair"

	// KindLndHub is a custodial LndHub account.
	KindLndHub BackendKind = "lndhub"

	// KindCLightningREST is Core Lightning behind the c-lightning-REST
	// server, authorized by a macaroon or a rune.
	KindCLightningREST BackendKind = "c-lightning-rest"

	// KindEmbeddedLND is lnd running in process behind a native bridge.
	KindEmbeddedLND BackendKind = "embedded-lnd"

	// KindEmbeddedLDK is an ldk-node running in process behind a native
	// bridge.
	KindEmbeddedLDK BackendKind = "embedded-ldk"

	// KindLNC is lnd reached through a Lightning Node Connect tunnel.
	KindLNC BackendKind = "lightning-node-connect"

	// KindNWC is a wallet service reached over Nostr Wallet Connect.
	KindNWC BackendKind = "nostr-wallet-connect"
)

// BackendKinds lists every supported kind.
var BackendKinds = []BackendKind{
	KindLND, KindCLNRest, KindCLightningREST, KindLNSocket, KindSpark, KindEclair,
	KindLndHub, KindEmbeddedLND, KindEmbeddedLDK, KindLNC, KindNWC,
}

func (k BackendKind) String() string {
	return string(k)
}

// Valid reports whether k is one of the known kinds.
func (k BackendKind) Valid() bool {
	for _, known := range BackendKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseBackendKind maps a configuration value to a BackendKind.
func ParseBackendKind(s string) (BackendKind, error) {
	k := BackendKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown backend kind: %q", s)
	}
	return k, nil
}
