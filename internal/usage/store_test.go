package usage

import (
	"context"
	"testing"

	"github.com/opengemini/gemproxy/internal/upstream"
)

func TestRecordUsageAggregatesByDateKeyModel(t *testing.T) {
	store, err := Open("", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	usage := &upstream.UsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 5, TotalTokenCount: 15}
	store.RecordUsage("secret-a", "test-model", usage)
	store.RecordUsage("secret-a", "test-model", usage)

	totals, err := store.Totals(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(totals) != 1 {
		t.Fatalf("expected one aggregate row, got %d: %+v", len(totals), totals)
	}
	row := totals[0]
	if row.InputTokens != 20 || row.OutputTokens != 10 || row.RequestCount != 2 {
		t.Fatalf("expected aggregated totals 20/10/2, got %d/%d/%d", row.InputTokens, row.OutputTokens, row.RequestCount)
	}
}

func TestRecordUsageNeverStoresRawKey(t *testing.T) {
	store, err := Open("", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	store.RecordUsage("super-secret-value", "test-model", &upstream.UsageMetadata{PromptTokenCount: 1, CandidatesTokenCount: 1})

	totals, err := store.Totals(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, row := range totals {
		if row.KeyHash == "super-secret-value" {
			t.Fatalf("expected the raw key to never be persisted, got %q", row.KeyHash)
		}
	}
}

func TestRecordUsageSeparatesDifferentKeys(t *testing.T) {
	store, err := Open("", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	usage := &upstream.UsageMetadata{PromptTokenCount: 1, CandidatesTokenCount: 1}
	store.RecordUsage("key-one", "test-model", usage)
	store.RecordUsage("key-two", "test-model", usage)

	totals, err := store.Totals(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(totals) != 2 {
		t.Fatalf("expected two distinct key_hash rows, got %d", len(totals))
	}
}
