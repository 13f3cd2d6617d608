// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/pskd-project/pskd/cmd/pskctl/cli"
	"github.com/pskd-project/pskd/lib/protocol"
	"github.com/pskd-project/pskd/lib/sealed"
	"github.com/pskd-project/pskd/lib/secret"
)

func sealKeyCommand(stdout io.Writer) *cli.Command {
	var (
		secretKey   string
		output      string
		recipients  []string
		newIdentity string
		armored     bool
	)
	return &cli.Command{
		Name:    "seal-key",
		Summary: "Encrypt a static secret key with age for supply-keypair",
		Description: `Encrypt a plaintext static secret key to one or more age recipients.
The result is what supply-keypair --age-identity expects.

With --new-identity a fresh age identity is written to the given path
(mode 0600, never overwritten) and added to the recipients.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("seal-key", pflag.ContinueOnError)
			flagSet.StringVar(&secretKey, "secret-key", "", "plaintext static secret key (required)")
			flagSet.StringVarP(&output, "output", "o", "", "path for the encrypted key; must not exist (required)")
			flagSet.StringArrayVarP(&recipients, "recipient", "r", nil, "age public key to encrypt to (repeatable)")
			flagSet.StringVar(&newIdentity, "new-identity", "", "generate an age identity at this path and encrypt to it")
			flagSet.BoolVarP(&armored, "armor", "a", false, "write PEM-armored ciphertext")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Encrypt to a new identity kept by the operator",
				Command:     "pskctl seal-key --secret-key sk --new-identity identity.txt -o sk.age",
			},
		},
		Run: func(args []string) error {
			if err := noArgs(args); err != nil {
				return err
			}
			if secretKey == "" || output == "" {
				return fmt.Errorf("--secret-key and --output are required")
			}
			if len(recipients) == 0 && newIdentity == "" {
				return fmt.Errorf("at least one --recipient or --new-identity is required")
			}

			key, err := readSecretKey(secretKey)
			if err != nil {
				return err
			}
			defer key.Close()

			if newIdentity != "" {
				publicKey, err := writeNewIdentity(newIdentity)
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "age identity written to %s (public key %s)\n", newIdentity, publicKey)
				recipients = append(recipients, publicKey)
			}

			if err := writeSealedKey(output, key.Bytes(), recipients, armored); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "secret key sealed to %s for %d recipient(s)\n", output, len(recipients))
			return nil
		},
	}
}

func readSecretKey(path string) (*secret.Buffer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	key, err := secret.ReadExact(file, protocol.StaticSecretKeySize)
	if err != nil {
		return nil, fmt.Errorf("secret key %s: %w", path, err)
	}
	return key, nil
}

// writeNewIdentity generates an age identity, stores it at path in the
// format age-keygen uses, and returns its public key.
func writeNewIdentity(path string) (string, error) {
	identity, err := sealed.GenerateIdentity()
	if err != nil {
		return "", err
	}
	defer identity.Close()

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", err
	}
	_, err = fmt.Fprintf(file, "# public key: %s\n", identity.PublicKey)
	if err == nil {
		_, err = file.Write(identity.PrivateKey.Bytes())
	}
	if err == nil {
		_, err = file.Write([]byte("\n"))
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("writing age identity: %w", err)
	}
	return identity.PublicKey, nil
}

func writeSealedKey(path string, key []byte, recipients []string, armored bool) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	err = sealed.EncryptKey(file, key, recipients, armored)
	err = errors.Join(err, file.Close())
	if err != nil {
		os.Remove(path)
		return err
	}
	return nil
}
