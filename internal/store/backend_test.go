package store_test

import (
	"context"
	"errors"
	"testing"

	"nasferry/internal/config"
	"nasferry/internal/services"
	"nasferry/internal/store"
	"nasferry/internal/testsupport"
)

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []string{config.BackendMemory, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			cfg := testsupport.NewConfig(t, testsupport.WithBackend(backend))
			st, err := store.Open(ctx, cfg, nil)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer st.Close()
			rec, err := st.UpsertDownloadedFile(ctx, testsupport.NewRecord(t, "/remote/tv/a.mkv"))
			if err != nil {
				t.Fatalf("UpsertDownloadedFile: %v", err)
			}
			if rec.ID <= 0 {
				t.Fatalf("unexpected id %d", rec.ID)
			}
		})
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBackend("mongo"))
	if _, err := store.Open(context.Background(), cfg, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}
