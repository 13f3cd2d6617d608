// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/pskd-project/pskd/lib/secret"
)

// Identity holds an age x25519 identity. The private half is kept in a
// secret.Buffer; the public half is safe to publish.
//
// The caller must call Close when the identity is no longer needed.
type Identity struct {
	// PrivateKey is the identity in AGE-SECRET-KEY-1... format.
	PrivateKey *secret.Buffer

	// PublicKey is the matching recipient in age1... format.
	PublicKey string
}

// Close releases the private key memory. Idempotent.
func (i *Identity) Close() error {
	if i.PrivateKey != nil {
		return i.PrivateKey.Close()
	}
	return nil
}

// GenerateIdentity generates a new age x25519 identity.
func GenerateIdentity() (*Identity, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("sealed: generating age identity: %w", err)
	}

	// The string returned by age stays on the heap until collected; the
	// secret buffer is the copy that is kept.
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("sealed: protecting age identity: %w", err)
	}
	return &Identity{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// EncryptKey encrypts key to every recipient (age1... strings) and
// writes the ciphertext to dst, armored if requested.
func EncryptKey(dst io.Writer, key []byte, recipientKeys []string, armored bool) error {
	if len(recipientKeys) == 0 {
		return fmt.Errorf("sealed: at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, recipientKey := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(recipientKey)
		if err != nil {
			return fmt.Errorf("sealed: parsing recipient %q: %w", recipientKey, err)
		}
		recipients = append(recipients, recipient)
	}

	sink := nopWriteCloser{dst}
	var output io.WriteCloser = sink
	if armored {
		output = armor.NewWriter(dst)
	}

	writer, err := age.Encrypt(output, recipients...)
	if err != nil {
		return fmt.Errorf("sealed: creating age encryptor: %w", err)
	}
	if _, err := writer.Write(key); err != nil {
		return fmt.Errorf("sealed: writing key to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("sealed: finalizing age encryption: %w", err)
	}
	if err := output.Close(); err != nil {
		return fmt.Errorf("sealed: finalizing armor: %w", err)
	}
	return nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// DecryptKey decrypts ciphertext, binary or armored, and requires the
// plaintext to be exactly size bytes.
//
// The caller must call Close on the returned buffer.
func DecryptKey(ciphertext io.Reader, identities []age.Identity, size int) (*secret.Buffer, error) {
	source := bufio.NewReader(ciphertext)
	var input io.Reader = source
	if header, _ := source.Peek(len(armor.Header)); bytes.Equal(header, []byte(armor.Header)) {
		input = armor.NewReader(source)
	}

	plaintext, err := age.Decrypt(input, identities...)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypting: %w", err)
	}
	key, err := secret.ReadExact(plaintext, size)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypted key: %w", err)
	}
	return key, nil
}

// ReadIdentities parses the age identity file at path.
func ReadIdentities(path string) ([]age.Identity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	identities, err := age.ParseIdentities(file)
	if err != nil {
		return nil, fmt.Errorf("sealed: parsing age identities from %s: %w", path, err)
	}
	return identities, nil
}
