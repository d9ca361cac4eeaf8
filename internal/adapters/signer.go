package adapters

import (
	"context"
	"crypto/ed25519"
	"fmt"
)

// Ed25519Signer is the built-in Signer. One key pair per process; the
// component ID is bound into the signed payload so a signature cannot be
// replayed for a different component.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewEd25519Signer generates a fresh key pair.
func NewEd25519Signer() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}
	return &Ed25519Signer{priv: priv, pub: pub}, nil
}

// Sign signs componentID||payload.
func (s *Ed25519Signer) Sign(_ context.Context, componentID string, payload []byte) (SignedMessage, error) {
	msg := append([]byte(componentID), payload...)
	return SignedMessage{
		ComponentID: componentID,
		Payload:     payload,
		Signature:   ed25519.Sign(s.priv, msg),
	}, nil
}

// Verify checks the signature over componentID||payload.
func (s *Ed25519Signer) Verify(_ context.Context, msg SignedMessage) (bool, error) {
	signed := append([]byte(msg.ComponentID), msg.Payload...)
	return ed25519.Verify(s.pub, signed, msg.Signature), nil
}
