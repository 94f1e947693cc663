// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides channel helpers with timeout safety
// valves, so a deadlocked settlement or proxy pipeline fails a test
// instead of hanging the run.
package testutil
