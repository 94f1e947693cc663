// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/vault0-foundation/vault0/payment"
	"github.com/vault0-foundation/vault0/proxy"
)

func runPayment(args []string) error {
	if len(args) < 1 {
		printPaymentUsage()
		return fmt.Errorf("payment action required")
	}

	switch args[0] {
	case "pending":
		return runPaymentPending(args[1:])
	case "-h", "--help", "help":
		printPaymentUsage()
		return nil
	default:
		printPaymentUsage()
		return fmt.Errorf("unknown payment action: %q", args[0])
	}
}

func printPaymentUsage() {
	fmt.Fprintf(os.Stderr, `Usage: vault0 payment <action> [flags]

Actions:
  pending   List payment demands waiting for operator confirmation

Queries the running vault0-proxy daemon.
`)
}

func runPaymentPending(args []string) error {
	flags := pflag.NewFlagSet("payment pending", pflag.ContinueOnError)
	proxyAddr := flags.String("proxy", proxy.DefaultListen, "address of the running proxy")
	if err := flags.Parse(args); err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	response, err := client.Get(fmt.Sprintf("http://%s/payments/pending", *proxyAddr))
	if err != nil {
		return fmt.Errorf("querying proxy at %s: %w", *proxyAddr, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("proxy returned %s", response.Status)
	}

	var pending []payment.Pending
	if err := json.NewDecoder(response.Body).Decode(&pending); err != nil {
		return fmt.Errorf("decoding pending list: %w", err)
	}

	if len(pending) == 0 {
		fmt.Println("no pending payments")
		return nil
	}
	for _, entry := range pending {
		fmt.Printf("%-24s %6d cents %-4s to %-24s %s\n",
			entry.ID,
			entry.Required.AmountCents,
			entry.Required.Currency,
			entry.Required.Recipient,
			entry.CreatedAt.Format(time.RFC3339))
	}
	return nil
}
