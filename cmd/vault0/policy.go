// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/vault0-foundation/vault0/policy"
)

func runPolicy(args []string) error {
	if len(args) < 1 {
		printPolicyUsage()
		return fmt.Errorf("policy action required")
	}

	switch args[0] {
	case "init":
		return runPolicyInit(args[1:])
	case "show":
		return runPolicyShow(args[1:])
	case "validate":
		return runPolicyValidate(args[1:])
	case "-h", "--help", "help":
		printPolicyUsage()
		return nil
	default:
		printPolicyUsage()
		return fmt.Errorf("unknown policy action: %q", args[0])
	}
}

func printPolicyUsage() {
	fmt.Fprintf(os.Stderr, `Usage: vault0 policy <action> [flags]

Actions:
  init       Write the hardened default policy document
  show       Print the parsed policy
  validate   Check a policy file without installing it
`)
}

func runPolicyInit(args []string) error {
	flags := pflag.NewFlagSet("policy init", pflag.ContinueOnError)
	out := flags.String("out", "policy.yaml", "output file")
	force := flags.Bool("force", false, "overwrite an existing file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if !*force {
		if _, err := os.Stat(*out); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", *out)
		}
	}
	if err := policy.DefaultHardened().Save(*out); err != nil {
		return err
	}
	fmt.Printf("hardened default policy written to %s\n", *out)
	return nil
}

func runPolicyShow(args []string) error {
	flags := pflag.NewFlagSet("policy show", pflag.ContinueOnError)
	path := flags.String("policy", "policy.yaml", "policy file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	doc, err := policy.Load(*path)
	if err != nil {
		return err
	}
	rendered, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	os.Stdout.Write(rendered)
	return nil
}

func runPolicyValidate(args []string) error {
	flags := pflag.NewFlagSet("policy validate", pflag.ContinueOnError)
	path := flags.String("policy", "policy.yaml", "policy file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if _, err := policy.Load(*path); err != nil {
		return err
	}
	fmt.Printf("%s is valid\n", *path)
	return nil
}
