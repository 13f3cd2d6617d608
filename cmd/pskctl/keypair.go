// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/pskd-project/pskd/cmd/pskctl/cli"
	"github.com/pskd-project/pskd/lib/protocol"
	"github.com/pskd-project/pskd/lib/sealed"
	"github.com/pskd-project/pskd/lib/secret"
)

func supplyKeypairCommand(stdout io.Writer) *cli.Command {
	var (
		options     controlOptions
		secretKey   string
		publicKey   string
		ageIdentity string
	)
	return &cli.Command{
		Name:    "supply-keypair",
		Summary: "Give pskd its static keypair",
		Description: `Open the static keypair and pass both files to pskd.

The daemon accepts one keypair per lifetime. With --age-identity the
secret key file is age-encrypted: pskctl decrypts it into an anonymous
sealed memory file and passes that instead, so the plaintext key never
reaches a filesystem.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("supply-keypair", pflag.ContinueOnError)
			options.register(flagSet)
			flagSet.StringVar(&secretKey, "secret-key", "", "path of the static secret key (required)")
			flagSet.StringVar(&publicKey, "public-key", "", "path of the static public key (required)")
			flagSet.StringVar(&ageIdentity, "age-identity", "", "age identity file; decrypts --secret-key")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Command: "pskctl supply-keypair --secret-key /etc/pskd/sk --public-key /etc/pskd/pk",
			},
			{
				Description: "Secret key encrypted at rest",
				Command:     "pskctl supply-keypair --secret-key /etc/pskd/sk.age --public-key /etc/pskd/pk --age-identity /root/.config/pskd/identity.txt",
			},
		},
		Run: func(args []string) error {
			if err := noArgs(args); err != nil {
				return err
			}
			if secretKey == "" || publicKey == "" {
				return fmt.Errorf("--secret-key and --public-key are required")
			}

			fingerprint, publicKeyFile, err := openPublicKey(publicKey)
			if err != nil {
				return err
			}

			var secretKeyFile *os.File
			if ageIdentity != "" {
				secretKeyFile, err = decryptSecretKey(secretKey, ageIdentity)
			} else {
				secretKeyFile, err = os.Open(secretKey)
			}
			if err != nil {
				publicKeyFile.Close()
				return err
			}

			client, logger, err := options.connect()
			if err != nil {
				secretKeyFile.Close()
				publicKeyFile.Close()
				return err
			}
			defer client.Close()

			if err := client.SupplyKeypair(secretKeyFile, publicKeyFile); err != nil {
				return err
			}
			logger.Debug("keypair accepted", "fingerprint", fingerprint)
			fmt.Fprintf(stdout, "keypair %s supplied\n", fingerprint)
			return nil
		},
	}
}

// openPublicKey checks the public key has the static key size and
// returns its fingerprint with the file rewound for sending.
func openPublicKey(path string) (string, *os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	publicKey := make([]byte, protocol.StaticPublicKeySize)
	if err := secret.ReadExactToEnd(file, publicKey); err != nil {
		file.Close()
		return "", nil, fmt.Errorf("public key %s: %w", path, err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return "", nil, fmt.Errorf("rewinding %s: %w", path, err)
	}
	return protocol.Fingerprint(publicKey), file, nil
}

// decryptSecretKey decrypts an age-encrypted secret key into a sealed
// memfd positioned at offset zero.
func decryptSecretKey(path, identityPath string) (*os.File, error) {
	identities, err := sealed.ReadIdentities(identityPath)
	if err != nil {
		return nil, err
	}

	encrypted, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer encrypted.Close()

	key, err := sealed.DecryptKey(encrypted, identities, protocol.StaticSecretKeySize)
	if err != nil {
		return nil, fmt.Errorf("secret key %s: %w", path, err)
	}
	defer key.Close()

	return sealedMemfd("pskd-secret-key", key.Bytes())
}

// sealedMemfd copies data into an anonymous memory file, seals it
// against modification, and rewinds it.
func sealedMemfd(name string, data []byte) (*os.File, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	file := os.NewFile(uintptr(fd), name)

	if _, err := file.Write(data); err != nil {
		file.Close()
		return nil, fmt.Errorf("writing memfd: %w", err)
	}
	seals := unix.F_SEAL_SEAL | unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE
	if _, err := unix.FcntlInt(file.Fd(), unix.F_ADD_SEALS, seals); err != nil {
		file.Close()
		return nil, fmt.Errorf("sealing memfd: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("rewinding memfd: %w", err)
	}
	return file, nil
}
