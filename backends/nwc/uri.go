package nwc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

var uriSchemes = []string{"nostr+walletconnect://", "nostrwalletconnect://"}

// Connection is a parsed wallet connect URI.
type Connection struct {
	// WalletPubkey is the hex key of the wallet service.
	WalletPubkey string
	Relays       []string

	// Secret is the hex client key the service authorized.
	Secret string

	// LUD16 is the lightning address the service may advertise.
	LUD16 string
}

// ParseURI reads nostr+walletconnect://<pubkey>?relay=...&secret=...
func ParseURI(uri string) (Connection, error) {
	uri = strings.TrimSpace(uri)
	var rest string
	for _, scheme := range uriSchemes {
		if r, ok := strings.CutPrefix(uri, scheme); ok {
			rest = r
			break
		}
	}
	if rest == "" {
		return Connection{}, errors.New("nwc: not a wallet connect uri")
	}

	pub, rawQuery, _ := strings.Cut(rest, "?")
	pub = strings.TrimSuffix(pub, "/")
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return Connection{}, fmt.Errorf("nwc: parsing uri query: %w", err)
	}

	c := Connection{
		WalletPubkey: strings.ToLower(pub),
		Relays:       q["relay"],
		Secret:       strings.ToLower(q.Get("secret")),
		LUD16:        q.Get("lud16"),
	}
	if err := c.validate(); err != nil {
		return Connection{}, err
	}
	return c, nil
}

func (c Connection) validate() error {
	if !nostr.IsValid32ByteHex(c.WalletPubkey) {
		return fmt.Errorf("nwc: invalid wallet pubkey %q", c.WalletPubkey)
	}
	if len(c.Relays) == 0 {
		return errors.New("nwc: at least one relay is required")
	}
	if b, err := hex.DecodeString(c.Secret); err != nil || len(b) != 32 {
		return errors.New("nwc: secret must be 32 bytes of hex")
	}
	return nil
}

// String renders c as a wallet connect URI.
func (c Connection) String() string {
	q := url.Values{"relay": c.Relays, "secret": {c.Secret}}
	if c.LUD16 != "" {
		q.Set("lud16", c.LUD16)
	}
	return uriSchemes[0] + c.WalletPubkey + "?" + q.Encode()
}
