package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "supportbridge/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "registry.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestUpsertAndQuery(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	rec := Record{
		Recipient: "Jane Doe",
		Channel:   "webchat",
		Envelope:  `{"serviceUrl":"https://svc.example/"}`,
	}
	if err := st.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Lookup is case-insensitive.
	got, err := st.ByRecipient(ctx, "jane doe")
	if err != nil {
		t.Fatalf("ByRecipient: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("records = %d, want 1", len(got))
	}
	if got[0].Recipient != "jane doe" || got[0].Channel != "webchat" {
		t.Fatalf("record keys = %q/%q", got[0].Recipient, got[0].Channel)
	}
	if got[0].Envelope != rec.Envelope {
		t.Fatalf("envelope = %q", got[0].Envelope)
	}
	if got[0].UpdatedAt.IsZero() {
		t.Fatal("UpdatedAt not set")
	}
}

func TestUpsertLatestWriteWins(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	first := Record{Recipient: "jane doe", Channel: "webchat", Envelope: "old", UpdatedAt: time.Now().Add(-time.Hour)}
	second := Record{Recipient: "jane doe", Channel: "webchat", Envelope: "new"}
	if err := st.Upsert(ctx, first); err != nil {
		t.Fatalf("Upsert first: %v", err)
	}
	if err := st.Upsert(ctx, second); err != nil {
		t.Fatalf("Upsert second: %v", err)
	}

	got, err := st.ByRecipient(ctx, "jane doe")
	if err != nil {
		t.Fatalf("ByRecipient: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("records = %d, want 1 (upsert must overwrite)", len(got))
	}
	if got[0].Envelope != "new" {
		t.Fatalf("envelope = %q, want %q", got[0].Envelope, "new")
	}
}

func TestQueryUnknownRecipientIsEmpty(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	got, err := st.ByRecipient(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("ByRecipient: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("records = %d, want 0", len(got))
	}
}

func TestMultipleChannelsPerRecipient(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for _, ch := range []string{"webchat", "telegram"} {
		if err := st.Upsert(ctx, Record{Recipient: "jane doe", Channel: ch, Envelope: ch}); err != nil {
			t.Fatalf("Upsert %s: %v", ch, err)
		}
	}

	got, err := st.ByRecipient(ctx, "jane doe")
	if err != nil {
		t.Fatalf("ByRecipient: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2", len(got))
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: ""}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st != nil {
		t.Fatal("expected nil store when disabled")
	}
}
