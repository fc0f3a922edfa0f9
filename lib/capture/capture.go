// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/go2link/go2link/datachannel"
	"github.com/go2link/go2link/lib/clock"
	"github.com/go2link/go2link/lib/codec"
)

// ErrClosed is returned by Writer.Record after Close.
var ErrClosed = errors.New("capture: journal closed")

// Record is one journaled message.
type Record struct {
	UnixNano int64  `cbor:"t"`
	Type     string `cbor:"type"`
	Topic    string `cbor:"topic,omitempty"`
	ID       string `cbor:"id,omitempty"`
	Data     any    `cbor:"data,omitempty"`
	Info     any    `cbor:"info,omitempty"`
}

// NewRecord stamps message with at.
func NewRecord(at time.Time, message datachannel.Message) Record {
	return Record{
		UnixNano: at.UnixNano(),
		Type:     message.Type,
		Topic:    message.Topic,
		ID:       message.ID,
		Data:     message.Data,
		Info:     message.Info,
	}
}

// Time returns when the record was written.
func (r Record) Time() time.Time { return time.Unix(0, r.UnixNano) }

// Message returns the journaled message.
func (r Record) Message() datachannel.Message {
	return datachannel.Message{
		Type:  r.Type,
		Topic: r.Topic,
		ID:    r.ID,
		Data:  r.Data,
		Info:  r.Info,
	}
}

// Writer appends records to a journal. It is safe for concurrent use.
type Writer struct {
	clock clock.Clock

	mu         sync.Mutex
	compressor *zstd.Encoder
	encoder    *codec.Encoder
	closer     io.Closer
	count      int
	closed     bool
}

// NewWriter starts a journal on w. Close flushes the compressed stream
// but does not close w.
func NewWriter(w io.Writer, clk clock.Clock) (*Writer, error) {
	if clk == nil {
		clk = clock.Real()
	}
	compressor, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	return &Writer{
		clock:      clk,
		compressor: compressor,
		encoder:    codec.NewEncoder(compressor),
	}, nil
}

// Create truncates or creates the journal file at path.
func Create(path string, clk clock.Clock) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating journal: %w", err)
	}
	writer, err := NewWriter(file, clk)
	if err != nil {
		file.Close()
		return nil, err
	}
	writer.closer = file
	return writer, nil
}

// Record journals message stamped with the current time.
func (w *Writer) Record(message datachannel.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.encoder.Encode(NewRecord(w.clock.Now(), message)); err != nil {
		return fmt.Errorf("journaling %s message on %q: %w", message.Type, message.Topic, err)
	}
	w.count++
	return nil
}

// Count returns how many records have been written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Flush writes buffered records through to the underlying writer as a
// complete zstd block.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.compressor.Flush()
}

// Close finishes the zstd frame and closes the file opened by Create.
// Closing twice is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.compressor.Close()
	if w.closer != nil {
		if closeErr := w.closer.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

// Reader reads records from a journal.
type Reader struct {
	decompressor *zstd.Decoder
	decoder      *codec.Decoder
	closer       io.Closer
}

// NewReader reads a journal from r.
func NewReader(r io.Reader) (*Reader, error) {
	decompressor, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &Reader{
		decompressor: decompressor,
		decoder:      codec.NewDecoder(decompressor),
	}, nil
}

// Open opens the journal file at path.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	reader, err := NewReader(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	reader.closer = file
	return reader, nil
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (Record, error) {
	var record Record
	if err := r.decoder.Decode(&record); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("reading journal record: %w", err)
	}
	return record, nil
}

// Close releases the decoder and closes the file opened by Open.
func (r *Reader) Close() error {
	r.decompressor.Close()
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Replay calls fn for every record in the journal read from r, in
// order. It stops at the first error from fn and returns it.
func Replay(r io.Reader, fn func(Record) error) error {
	reader, err := NewReader(r)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(record); err != nil {
			return err
		}
	}
}
