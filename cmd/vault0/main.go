// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

// Vault0 is the operator CLI: vault management, policy editing,
// evidence inspection, wallet lifecycle, and pending payments. The
// proxy daemon itself is vault0-proxy.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	switch os.Args[1] {
	case "vault":
		return runVault(os.Args[2:])
	case "policy":
		return runPolicy(os.Args[2:])
	case "evidence":
		return runEvidence(os.Args[2:])
	case "wallet":
		return runWallet(os.Args[2:])
	case "payment":
		return runPayment(os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", os.Args[1])
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: vault0 <subcommand> [flags]

Subcommands:
  vault      Create and manage the encrypted credential vault
  policy     Initialize, inspect, and validate the policy document
  evidence   Inspect, export, and verify the evidence ledger
  wallet     Create, import, and inspect the payment wallet
  payment    List payments pending operator confirmation

Run 'vault0 <subcommand> --help' for subcommand usage.
`)
}
