package nwc

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
)

// EventSigner signs request events and encrypts their content for the
// wallet service.
type EventSigner interface {
	SignEvent(ctx context.Context, ev *nostr.Event) error
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// keySigner holds the client secret of the connection. The shared secret
// with the wallet service is derived once.
type keySigner struct {
	sk     string
	pub    string
	shared []byte
}

func newKeySigner(secret, walletPubkey string) (*keySigner, error) {
	pub, err := nostr.GetPublicKey(secret)
	if err != nil {
		return nil, fmt.Errorf("deriving client pubkey: %w", err)
	}
	shared, err := nip04.ComputeSharedSecret(walletPubkey, secret)
	if err != nil {
		return nil, fmt.Errorf("computing shared secret: %w", err)
	}
	return &keySigner{sk: secret, pub: pub, shared: shared}, nil
}

func (s *keySigner) GetPublicKey(context.Context) (string, error) {
	return s.pub, nil
}

func (s *keySigner) SignEvent(_ context.Context, ev *nostr.Event) error {
	if ev.PubKey != "" && ev.PubKey != s.pub {
		return fmt.Errorf("event pubkey %s is not the client key", ev.PubKey)
	}
	return ev.Sign(s.sk)
}

func (s *keySigner) Encrypt(plaintext string) (string, error) {
	return nip04.Encrypt(plaintext, s.shared)
}

func (s *keySigner) Decrypt(ciphertext string) (string, error) {
	return nip04.Decrypt(ciphertext, s.shared)
}

var (
	_ EventSigner  = (*keySigner)(nil)
	_ nostr.Signer = (*keySigner)(nil)
)
