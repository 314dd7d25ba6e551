package valuelog

import (
	"os"
	"testing"

	"github.com/dashlink/dashlink/internal/domain"
)

func TestWriteBatchAndRead(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	recs := []domain.Record{
		{Path: "Drive/Speed", At: 100, Value: domain.Float(3.25)},
		{Path: "Drive/Enabled", At: 200, Value: domain.Bool(true)},
		{Path: "Auto/Routine", At: 300, Value: domain.Str("two-ball")},
	}
	if err := w.WriteBatch(recs); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var got []domain.Record
	if err := Read(w.Path(), func(r domain.Record) error {
		got = append(got, r)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	if got[0].Path != "Drive/Speed" || got[0].Value.Num != 3.25 {
		t.Fatalf("unexpected first record: %+v", got[0])
	}
	if got[1].Value.Kind != domain.KindBool || !got[1].Value.Bool {
		t.Fatalf("unexpected second record: %+v", got[1])
	}
	if got[2].Value.Str != "two-ball" || got[2].At != 300 {
		t.Fatalf("unexpected third record: %+v", got[2])
	}
}

func TestReadStopsAtTruncatedTail(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.WriteBatch([]domain.Record{
		{Path: "Arm/Angle", At: 1, Value: domain.Float(90)},
	}); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Simulate a crash mid-frame.
	f, err := os.OpenFile(w.Path(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open for garbage: %v", err)
	}
	if _, err := f.Write([]byte{0xFF, 0xAA, 0x01}); err != nil {
		t.Fatalf("append garbage: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close garbage writer: %v", err)
	}

	var count int
	if err := Read(w.Path(), func(domain.Record) error {
		count++
		return nil
	}); err != nil {
		t.Fatalf("read after truncation should succeed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 complete record, got %d", count)
	}
}

func TestWriterCollisionGetsFreshFile(t *testing.T) {
	dir := t.TempDir()

	w1, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("first writer: %v", err)
	}
	w2, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("second writer in same second: %v", err)
	}
	if w1.Path() == w2.Path() {
		t.Fatalf("writers share an archive file: %s", w1.Path())
	}
	w1.Close()
	w2.Close()
}

func TestSizeBytesCountsFrames(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer w.Close()

	if w.SizeBytes() != 0 {
		t.Fatalf("fresh writer should report zero size")
	}
	if err := w.WriteBatch([]domain.Record{{Path: "x", At: 1, Value: domain.Bool(false)}}); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if w.SizeBytes() <= frameHeaderLen {
		t.Fatalf("size should exceed the frame header, got %d", w.SizeBytes())
	}
}
