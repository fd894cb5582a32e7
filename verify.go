package lnunify

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/tv42/zbase32"
)

var (
	// Prefix used by lnd and Core Lightning for signmessage.
	signedMsgPrefix = []byte("Lightning Signed Message:")
)

// RecoverMessageSigner recovers the compressed public key that produced a
// zbase32 encoded signmessage signature over msg.
func RecoverMessageSigner(msg []byte, sig string) (string, error) {
	// Verifying signature according to lnd's code
	// https://github.com/lightningnetwork/lnd/blob/9a7b526c0cf35ebf03d91c773dbaa0ce7d20f323/rpcserver.go#L1762
	s, err := zbase32.DecodeString(sig)
	if err != nil {
		return "", fmt.Errorf("decoding signature: %w", err)
	}

	digest := chainhash.DoubleHashB(append(append([]byte{}, signedMsgPrefix...), msg...))

	pubKey, _, err := ecdsa.RecoverCompact(s, digest)
	if err != nil {
		return "", fmt.Errorf("recovering public key: %w", err)
	}
	return hex.EncodeToString(pubKey.SerializeCompressed()), nil
}

// VerifyMessageLocally checks a signmessage signature without a node. When
// req.Pubkey is empty any recoverable signature is valid.
func VerifyMessageLocally(req VerifyMessageRequest) (VerifiedMessage, error) {
	pub, err := RecoverMessageSigner([]byte(req.Message), req.Signature)
	if err != nil {
		return VerifiedMessage{}, err
	}
	if req.Pubkey != "" && req.Pubkey != pub {
		return VerifiedMessage{Valid: false, Pubkey: pub}, nil
	}
	return VerifiedMessage{Valid: true, Pubkey: pub}, nil
}

// SignMessageLocally produces a signmessage compatible signature with key.
// Used by tests and by backends that hold the identity key themselves.
func SignMessageLocally(key *btcec.PrivateKey, msg []byte) string {
	digest := chainhash.DoubleHashB(append(append([]byte{}, signedMsgPrefix...), msg...))
	return zbase32.EncodeToString(ecdsa.SignCompact(key, digest, true))
}
