// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/vault0-foundation/vault0/wallet"
)

func runWallet(args []string) error {
	if len(args) < 1 {
		printWalletUsage()
		return fmt.Errorf("wallet action required")
	}

	switch args[0] {
	case "create":
		return runWalletCreate(args[1:])
	case "import":
		return runWalletImport(args[1:])
	case "info":
		return runWalletInfo(args[1:])
	case "export":
		return runWalletExport(args[1:])
	case "-h", "--help", "help":
		printWalletUsage()
		return nil
	default:
		printWalletUsage()
		return fmt.Errorf("unknown wallet action: %q", args[0])
	}
}

func printWalletUsage() {
	fmt.Fprintf(os.Stderr, `Usage: vault0 wallet <action> [flags]

Actions:
  create    Generate a new wallet sealed under the vault key
  import    Import a wallet from a mnemonic phrase (read from stdin)
  info      Print the wallet address
  export    Print the recovery mnemonic

The wallet file is encrypted under the vault passphrase; every action
unlocks the vault first.
`)
}

func walletFlags(name string) (*pflag.FlagSet, *string, *string, *string) {
	flags, vaultPath, passphraseFile := vaultFlags(name)
	walletPath := flags.String("wallet", "wallet.enc", "path to the sealed wallet file")
	return flags, vaultPath, passphraseFile, walletPath
}

func runWalletCreate(args []string) error {
	flags, vaultPath, passphraseFile, walletPath := walletFlags("wallet create")
	if err := flags.Parse(args); err != nil {
		return err
	}

	session, err := unlockSession(*vaultPath, *passphraseFile)
	if err != nil {
		return err
	}
	defer session.Lock()

	signing, err := wallet.Create()
	if err != nil {
		return err
	}
	defer signing.Close()

	if err := signing.SaveSealed(session, *walletPath); err != nil {
		return err
	}

	phrase, err := signing.ExportMnemonic()
	if err != nil {
		return err
	}
	fmt.Printf("wallet created at %s\n", *walletPath)
	fmt.Printf("address: %s\n", signing.Address())
	fmt.Fprintf(os.Stderr, "\n# Recovery phrase (write this down, it is shown once):\n%s\n", phrase)
	return nil
}

func runWalletImport(args []string) error {
	flags, vaultPath, passphraseFile, walletPath := walletFlags("wallet import")
	if err := flags.Parse(args); err != nil {
		return err
	}

	session, err := unlockSession(*vaultPath, *passphraseFile)
	if err != nil {
		return err
	}
	defer session.Lock()

	fmt.Fprint(os.Stderr, "mnemonic phrase: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return fmt.Errorf("no mnemonic provided")
	}

	signing, err := wallet.Import(scanner.Text())
	if err != nil {
		return err
	}
	defer signing.Close()

	if err := signing.SaveSealed(session, *walletPath); err != nil {
		return err
	}
	fmt.Printf("wallet imported to %s\n", *walletPath)
	fmt.Printf("address: %s\n", signing.Address())
	return nil
}

func runWalletInfo(args []string) error {
	flags, vaultPath, passphraseFile, walletPath := walletFlags("wallet info")
	if err := flags.Parse(args); err != nil {
		return err
	}

	session, err := unlockSession(*vaultPath, *passphraseFile)
	if err != nil {
		return err
	}
	defer session.Lock()

	signing, err := wallet.LoadSealed(session, *walletPath)
	if err != nil {
		return err
	}
	defer signing.Close()

	fmt.Printf("address: %s\n", signing.Address())
	return nil
}

func runWalletExport(args []string) error {
	flags, vaultPath, passphraseFile, walletPath := walletFlags("wallet export")
	if err := flags.Parse(args); err != nil {
		return err
	}

	session, err := unlockSession(*vaultPath, *passphraseFile)
	if err != nil {
		return err
	}
	defer session.Lock()

	signing, err := wallet.LoadSealed(session, *walletPath)
	if err != nil {
		return err
	}
	defer signing.Close()

	phrase, err := signing.ExportMnemonic()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "# Recovery phrase:\n")
	fmt.Println(phrase)
	return nil
}
