// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for sensitive data:
// vault passphrases, derived encryption keys, decrypted entry values,
// and wallet seed material.
//
// Buffer allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, unlocked, and unmapped.
//
// Because the memory is allocated outside the Go heap, the garbage
// collector never sees it and cannot copy or relocate it. This is the
// only way to bound how long secret material persists in memory: the
// vault store closes entry buffers on Lock, and the proxy closes each
// resolved alias value as soon as the rewritten request is dispatched.
package secret
