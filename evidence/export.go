// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"bytes"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/vault0-foundation/vault0/lib/codec"
)

// receiptVersion is bumped on incompatible receipt format changes.
const receiptVersion = 1

// ReceiptEvent is one exported record. The previous hash is omitted:
// a verifier recomputes the chain from the all-zero genesis, so every
// hash field is independently checkable.
type ReceiptEvent struct {
	TimestampMilli int64  `cbor:"ts_milli"`
	Kind           Kind   `cbor:"kind"`
	Message        string `cbor:"message"`
	Hash           []byte `cbor:"hash"`
}

// Receipt is a read-only export of the full chain for external
// verification.
type Receipt struct {
	Version         int            `cbor:"version"`
	ExportedAtMilli int64          `cbor:"exported_at_milli"`
	Events          []ReceiptEvent `cbor:"events"`
}

// ExportReceipt snapshots the chain into a receipt.
func (l *Ledger) ExportReceipt() Receipt {
	events := l.Events()
	receipt := Receipt{
		Version:         receiptVersion,
		ExportedAtMilli: l.clock.Now().UnixMilli(),
		Events:          make([]ReceiptEvent, 0, len(events)),
	}
	for _, event := range events {
		receipt.Events = append(receipt.Events, ReceiptEvent{
			TimestampMilli: event.Timestamp.UnixMilli(),
			Kind:           event.Kind,
			Message:        event.Message,
			Hash:           append([]byte(nil), event.Hash[:]...),
		})
	}
	return receipt
}

// VerifyReceipt recomputes the hash chain from genesis. A receipt is
// valid iff every recomputed hash matches the exported one.
func VerifyReceipt(receipt Receipt) error {
	var prev Hash
	for index, record := range receipt.Events {
		if len(record.Hash) != len(prev) {
			return fmt.Errorf("%w: record %d has malformed hash", ErrLedgerCorruption, index)
		}
		expected := hashEvent(prev, record.TimestampMilli, record.Kind, record.Message)
		if !bytes.Equal(expected[:], record.Hash) {
			return fmt.Errorf("%w: record %d hash mismatch", ErrLedgerCorruption, index)
		}
		prev = expected
	}
	return nil
}

// EncodeReceipt serializes a receipt as zstd-compressed deterministic
// CBOR.
func EncodeReceipt(receipt Receipt) ([]byte, error) {
	raw, err := codec.Marshal(receipt)
	if err != nil {
		return nil, fmt.Errorf("encoding receipt: %w", err)
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("initializing zstd: %w", err)
	}
	compressed := encoder.EncodeAll(raw, nil)
	encoder.Close()
	return compressed, nil
}

// DecodeReceipt reverses EncodeReceipt.
func DecodeReceipt(data []byte) (Receipt, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return Receipt{}, fmt.Errorf("initializing zstd: %w", err)
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return Receipt{}, fmt.Errorf("decompressing receipt: %w", err)
	}
	var receipt Receipt
	if err := codec.Unmarshal(raw, &receipt); err != nil {
		return Receipt{}, fmt.Errorf("decoding receipt: %w", err)
	}
	if receipt.Version != receiptVersion {
		return Receipt{}, fmt.Errorf("unsupported receipt version %d", receipt.Version)
	}
	return receipt, nil
}

// WriteReceiptFile exports the chain to a receipt file.
func (l *Ledger) WriteReceiptFile(path string) error {
	data, err := EncodeReceipt(l.ExportReceipt())
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing receipt file: %w", err)
	}
	return nil
}

// ReadReceiptFile loads and decodes a receipt file without verifying
// it; callers run VerifyReceipt separately so a corrupt chain can
// still be inspected.
func ReadReceiptFile(path string) (Receipt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Receipt{}, fmt.Errorf("reading receipt file: %w", err)
	}
	return DecodeReceipt(data)
}
