// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol is the daemon-side surface of the post-quantum key
// exchange server: the static keypair, the builder that gathers it, and
// the CryptoServer it produces. The handshake itself runs elsewhere and
// reaches this package only through CryptoServer.
package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"github.com/pskd-project/pskd/lib/build"
	"github.com/pskd-project/pskd/lib/secret"
)

// Sizes of the static Classic McEliece 460896 keypair.
const (
	StaticSecretKeySize = 13608
	StaticPublicKeySize = 524160
)

// ErrMissingKeypair is returned by Builder.Build before a keypair was
// supplied.
var ErrMissingKeypair = errors.New("protocol: static keypair missing")

// Keypair is the server's static identity. SecretKey lives in locked
// memory and is released by Close.
type Keypair struct {
	SecretKey *secret.Buffer
	PublicKey []byte
}

// Validate checks both halves have their fixed sizes.
func (k *Keypair) Validate() error {
	if k.SecretKey == nil || k.SecretKey.Len() != StaticSecretKeySize {
		return fmt.Errorf("protocol: secret key must be %d bytes", StaticSecretKeySize)
	}
	if len(k.PublicKey) != StaticPublicKeySize {
		return fmt.Errorf("protocol: public key is %d bytes, want %d", len(k.PublicKey), StaticPublicKeySize)
	}
	return nil
}

// Close zeroes and releases the secret key.
func (k *Keypair) Close() error {
	if k.SecretKey == nil {
		return nil
	}
	return k.SecretKey.Close()
}

// ReadKeypair reads a static keypair. Each reader must yield exactly
// the key's size and then end.
func ReadKeypair(secretKey, publicKey io.Reader) (*Keypair, error) {
	sk, err := secret.ReadExact(secretKey, StaticSecretKeySize)
	if err != nil {
		return nil, fmt.Errorf("protocol: reading secret key: %w", err)
	}

	pk := make([]byte, StaticPublicKeySize)
	if err := secret.ReadExactToEnd(publicKey, pk); err != nil {
		sk.Close()
		return nil, fmt.Errorf("protocol: reading public key: %w", err)
	}
	return &Keypair{SecretKey: sk, PublicKey: pk}, nil
}

// Builder collects the inputs needed before a CryptoServer can exist.
// Today that is the static keypair alone.
type Builder struct {
	Keypair *Keypair
}

// Build returns a CryptoServer once every slot is filled. It does not
// modify the builder.
func (b *Builder) Build() (*CryptoServer, error) {
	if b.Keypair == nil {
		return nil, ErrMissingKeypair
	}
	if err := b.Keypair.Validate(); err != nil {
		return nil, err
	}
	return &CryptoServer{
		keypair:     b.Keypair,
		fingerprint: Fingerprint(b.Keypair.PublicKey),
	}, nil
}

// Site is the construction site of the process's CryptoServer.
type Site = build.Site[*Builder, *CryptoServer]

// NewSite returns a site in Builder state with an empty keypair slot.
func NewSite() *Site {
	return build.NewSite[*Builder, *CryptoServer](&Builder{})
}

// CryptoServer is the fully assembled server identity. Its key material
// is fixed for the life of the process.
type CryptoServer struct {
	keypair     *Keypair
	fingerprint string
}

// PublicKey returns the static public key.
func (c *CryptoServer) PublicKey() []byte {
	return c.keypair.PublicKey
}

// Fingerprint returns the fingerprint of the static public key.
func (c *CryptoServer) Fingerprint() string {
	return c.fingerprint
}

// Close releases the static secret key.
func (c *CryptoServer) Close() error {
	return c.keypair.Close()
}

// Fingerprint returns a short, log-safe identifier for a public key:
// the hex encoding of the first 16 bytes of its BLAKE3 digest.
func Fingerprint(publicKey []byte) string {
	digest := blake3.Sum256(publicKey)
	return hex.EncodeToString(digest[:16])
}
