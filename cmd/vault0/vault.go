// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/vault0-foundation/vault0/lib/secret"
	"github.com/vault0-foundation/vault0/vault"
)

func runVault(args []string) error {
	if len(args) < 1 {
		printVaultUsage()
		return fmt.Errorf("vault action required")
	}

	switch args[0] {
	case "create":
		return runVaultCreate(args[1:])
	case "add":
		return runVaultAdd(args[1:])
	case "get":
		return runVaultGet(args[1:])
	case "delete":
		return runVaultDelete(args[1:])
	case "list":
		return runVaultList(args[1:])
	case "escrow":
		return runVaultEscrow(args[1:])
	case "restore":
		return runVaultRestore(args[1:])
	case "keygen":
		return runVaultKeygen()
	case "-h", "--help", "help":
		printVaultUsage()
		return nil
	default:
		printVaultUsage()
		return fmt.Errorf("unknown vault action: %q", args[0])
	}
}

func printVaultUsage() {
	fmt.Fprintf(os.Stderr, `Usage: vault0 vault <action> [flags]

Actions:
  create    Create a new encrypted vault
  add       Add a credential entry under an alias
  get       Print one entry's value (fetched individually, never in bulk)
  delete    Remove an entry
  list      List entries with masked previews
  escrow    Write a recovery backup encrypted to age public keys
  restore   Restore entries from an escrow file into a fresh vault
  keygen    Generate an age recovery keypair for escrow
`)
}

// unlockFlags are shared by every action needing an open vault.
func vaultFlags(name string) (*pflag.FlagSet, *string, *string) {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	vaultPath := flags.String("vault", "vault.enc", "path to the vault container")
	passphraseFile := flags.String("passphrase-file", "", "read the passphrase from this file instead of prompting")
	return flags, vaultPath, passphraseFile
}

func promptPassphrase(passphraseFile, prompt string) (*secret.Buffer, error) {
	if passphraseFile != "" {
		return secret.ReadFromPath(passphraseFile)
	}
	return secret.ReadPassphrase(prompt)
}

func unlockSession(vaultPath, passphraseFile string) (*vault.Session, error) {
	passphrase, err := promptPassphrase(passphraseFile, "vault passphrase: ")
	if err != nil {
		return nil, err
	}
	defer passphrase.Close()
	return vault.Unlock(vaultPath, passphrase, nil)
}

func runVaultCreate(args []string) error {
	flags, vaultPath, passphraseFile := vaultFlags("vault create")
	if err := flags.Parse(args); err != nil {
		return err
	}

	passphrase, err := promptPassphrase(*passphraseFile, "new vault passphrase: ")
	if err != nil {
		return err
	}
	defer passphrase.Close()

	session, err := vault.Create(*vaultPath, passphrase, nil)
	if err != nil {
		return err
	}
	session.Lock()
	fmt.Printf("vault created at %s\n", *vaultPath)
	return nil
}

func runVaultAdd(args []string) error {
	flags, vaultPath, passphraseFile := vaultFlags("vault add")
	alias := flags.String("alias", "", "entry alias (required)")
	provider := flags.String("provider", "", "provider tag (openai, anthropic, ...)")
	valueFile := flags.String("value-file", "", "read the secret value from this file, or '-' for stdin")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *alias == "" {
		return fmt.Errorf("--alias is required")
	}

	session, err := unlockSession(*vaultPath, *passphraseFile)
	if err != nil {
		return err
	}
	defer session.Lock()

	var value *secret.Buffer
	if *valueFile != "" {
		value, err = secret.ReadFromPath(*valueFile)
	} else {
		value, err = secret.ReadPassphrase("secret value: ")
	}
	if err != nil {
		return err
	}

	if err := session.AddEntry(*alias, *provider, value); err != nil {
		value.Close()
		return err
	}
	fmt.Printf("entry %q added\n", *alias)
	return nil
}

func runVaultGet(args []string) error {
	flags, vaultPath, passphraseFile := vaultFlags("vault get")
	alias := flags.String("alias", "", "entry alias (required)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *alias == "" {
		return fmt.Errorf("--alias is required")
	}

	session, err := unlockSession(*vaultPath, *passphraseFile)
	if err != nil {
		return err
	}
	defer session.Lock()

	value, err := session.GetEntry(*alias)
	if err != nil {
		return err
	}
	defer value.Close()
	fmt.Println(value.String())
	return nil
}

func runVaultDelete(args []string) error {
	flags, vaultPath, passphraseFile := vaultFlags("vault delete")
	alias := flags.String("alias", "", "entry alias (required)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *alias == "" {
		return fmt.Errorf("--alias is required")
	}

	session, err := unlockSession(*vaultPath, *passphraseFile)
	if err != nil {
		return err
	}
	defer session.Lock()

	if err := session.DeleteEntry(*alias); err != nil {
		return err
	}
	fmt.Printf("entry %q deleted\n", *alias)
	return nil
}

func runVaultList(args []string) error {
	flags, vaultPath, passphraseFile := vaultFlags("vault list")
	if err := flags.Parse(args); err != nil {
		return err
	}

	session, err := unlockSession(*vaultPath, *passphraseFile)
	if err != nil {
		return err
	}
	defer session.Lock()

	entries, err := session.ListEntries()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("vault is empty")
		return nil
	}
	for _, entry := range entries {
		fmt.Printf("%-24s %-12s %-12s %s\n",
			entry.Alias, entry.Provider, entry.Preview, entry.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runVaultEscrow(args []string) error {
	flags, vaultPath, passphraseFile := vaultFlags("vault escrow")
	out := flags.String("out", "vault.escrow", "escrow output file")
	recipients := flags.StringArray("recipient", nil, "age public key to encrypt to (repeatable, required)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if len(*recipients) == 0 {
		return fmt.Errorf("at least one --recipient is required")
	}

	session, err := unlockSession(*vaultPath, *passphraseFile)
	if err != nil {
		return err
	}
	defer session.Lock()

	if err := session.WriteEscrow(*out, *recipients); err != nil {
		return err
	}
	fmt.Printf("escrow written to %s\n", *out)
	return nil
}

func runVaultRestore(args []string) error {
	flags, vaultPath, passphraseFile := vaultFlags("vault restore")
	escrowPath := flags.String("escrow", "", "escrow file to restore from (required)")
	identityFile := flags.String("identity-file", "", "file holding the age recovery private key (required)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *escrowPath == "" || *identityFile == "" {
		return fmt.Errorf("--escrow and --identity-file are required")
	}

	identity, err := secret.ReadFromPath(*identityFile)
	if err != nil {
		return err
	}
	defer identity.Close()

	restored, err := vault.ReadEscrow(*escrowPath, identity)
	if err != nil {
		return err
	}

	passphrase, err := promptPassphrase(*passphraseFile, "new vault passphrase: ")
	if err != nil {
		return err
	}
	defer passphrase.Close()

	session, err := vault.Create(*vaultPath, passphrase, nil)
	if err != nil {
		return err
	}
	defer session.Lock()

	for _, entry := range restored {
		if err := session.AddEntry(entry.Alias, entry.Provider, entry.Value); err != nil {
			return fmt.Errorf("restoring entry %q: %w", entry.Alias, err)
		}
	}
	fmt.Printf("restored %d entries into %s\n", len(restored), *vaultPath)
	return nil
}

// runVaultKeygen prints the public key to stdout and the private key
// to stderr, so the public half can be piped without exposing the
// private half.
func runVaultKeygen() error {
	keypair, err := vault.GenerateRecoveryKeypair()
	if err != nil {
		return err
	}
	defer keypair.Close()

	fmt.Fprintf(os.Stderr, "# Private key (keep this secret — store securely):\n")
	fmt.Fprintf(os.Stderr, "%s\n", keypair.PrivateKey.String())
	fmt.Fprintf(os.Stdout, "%s\n", keypair.PublicKey)
	return nil
}
