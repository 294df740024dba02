package output

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestRawLogRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewRawLogWriter(dir, "raw_cbor")
	if err != nil {
		t.Fatalf("NewRawLogWriter: %v", err)
	}
	payloads := [][]byte{{1, 2, 3}, {}, []byte("skeleton")}
	for _, p := range payloads {
		if err := writer.Record(p); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := writer.Record([]byte{9}); err == nil {
		t.Fatalf("Record after Close should fail")
	}

	reader, err := OpenRawLog(writer.Path())
	if err != nil {
		t.Fatalf("OpenRawLog: %v", err)
	}
	defer reader.Close()

	for i, want := range payloads {
		rec, err := reader.Next()
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if !bytes.Equal(rec.Payload, want) {
			t.Fatalf("record %d payload = %v, want %v", i, rec.Payload, want)
		}
		if rec.Time.IsZero() {
			t.Fatalf("record %d has no timestamp", i)
		}
	}
	if _, err := reader.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestRawLogTruncatedRecord(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(RawLogMagic)
	var header [rawHeaderSize]byte
	binary.LittleEndian.PutUint32(header[8:12], 10)
	buf.Write(header[:])
	buf.Write([]byte{1, 2, 3})

	reader, err := NewRawLogReader(&buf)
	if err != nil {
		t.Fatalf("NewRawLogReader: %v", err)
	}
	if _, err := reader.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("truncated record = %v, want EOF", err)
	}
}

func TestRawLogBadMagic(t *testing.T) {
	if _, err := NewRawLogReader(bytes.NewReader([]byte("BADMAGIC"))); err == nil {
		t.Fatalf("expected magic mismatch")
	}
}

func TestRawLogOversizedRecord(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(RawLogMagic)
	var header [rawHeaderSize]byte
	binary.LittleEndian.PutUint32(header[8:12], 0xffffffff)
	buf.Write(header[:])

	reader, err := NewRawLogReader(&buf)
	if err != nil {
		t.Fatalf("NewRawLogReader: %v", err)
	}
	_, err = reader.Next()
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("oversized record = %v, want size error", err)
	}

	writer, err := NewRawLogWriter(t.TempDir(), "big")
	if err != nil {
		t.Fatalf("NewRawLogWriter: %v", err)
	}
	defer writer.Close()
	if err := writer.Record(make([]byte, MaxRawRecordSize+1)); err == nil {
		t.Fatalf("Record accepted an oversized payload")
	}
}
