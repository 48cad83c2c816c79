package memory_test

import (
	"context"
	"testing"

	"nasferry/internal/store/memory"
	"nasferry/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		st := memory.New()
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	saved, err := st.UpsertDownloadedFile(ctx, storetest.SampleRecord(t, "/remote/tv/a.mkv"))
	if err != nil {
		t.Fatalf("UpsertDownloadedFile: %v", err)
	}
	saved.Name = "mutated"
	got, _ := st.GetDownloadedFileByID(ctx, saved.ID)
	if got.Name != "a.mkv" {
		t.Fatalf("store shares state with caller: %q", got.Name)
	}
}
