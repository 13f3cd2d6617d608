// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed keeps fixed-size key material encrypted at rest with
// age. It wraps filippo.io/age for the operations pskctl needs:
// generate an x25519 identity, encrypt a key to recipients, and decrypt
// it again straight into a [secret.Buffer].
//
// Ciphertext may be binary or ASCII-armored; [DecryptKey] accepts
// either. Identities and decrypted keys live in mmap memory outside the
// Go heap (locked against swap, excluded from core dumps, zeroed on
// Close).
//
// Key exports:
//
//   - [GenerateIdentity] -- new age x25519 identity in a secret.Buffer
//   - [EncryptKey] -- encrypt a key to age public key recipients
//   - [DecryptKey] -- decrypt a key of known size
//   - [ReadIdentities] -- load an age identity file
package sealed
