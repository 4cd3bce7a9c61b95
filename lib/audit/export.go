// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/covault/covault/lib/codec"
)

// Export streams matching events to w as a zstd-compressed sequence of
// CBOR records, in ID order. Chain hashes are included so an archived
// stream remains independently verifiable with ReadExport.
func (l *Log) Export(ctx context.Context, w io.Writer, filter Filter) error {
	events, err := l.Query(ctx, filter)
	if err != nil {
		return err
	}

	compressor, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("audit: creating zstd writer: %w", err)
	}

	encoder := codec.NewEncoder(compressor)
	for _, event := range events {
		record := exportRecord{
			ID:        event.ID,
			Type:      string(event.Type),
			Timestamp: event.Timestamp.UnixNano(),
			ActorID:   event.ActorID,
			SubjectID: event.SubjectID,
			Metadata:  event.Metadata,
			ChainHash: event.ChainHash,
		}
		if err := encoder.Encode(record); err != nil {
			compressor.Close()
			return fmt.Errorf("audit: encoding export record %d: %w", event.ID, err)
		}
	}

	if err := compressor.Close(); err != nil {
		return fmt.Errorf("audit: finalizing zstd stream: %w", err)
	}
	return nil
}

// ReadExport decodes a stream produced by Export. Used by archival
// tooling and tests.
func ReadExport(r io.Reader) ([]Event, error) {
	decompressor, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("audit: opening zstd stream: %w", err)
	}
	defer decompressor.Close()

	decoder := codec.NewDecoder(decompressor.IOReadCloser())
	var events []Event
	for {
		var record exportRecord
		if err := decoder.Decode(&record); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("audit: decoding export record: %w", err)
		}
		events = append(events, Event{
			ID:        record.ID,
			Type:      EventType(record.Type),
			Timestamp: timeFromNanos(record.Timestamp),
			ActorID:   record.ActorID,
			SubjectID: record.SubjectID,
			Metadata:  record.Metadata,
			ChainHash: record.ChainHash,
		})
	}
	return events, nil
}

func timeFromNanos(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}
