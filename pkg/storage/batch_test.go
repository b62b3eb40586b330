package storage

import (
	"context"
	"testing"
)

func TestBatchCreateAppendCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batchID, err := s.CreateBatch(ctx, 1, "bookmarks")
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	results, err := s.AppendBatch(ctx, 1, "bookmarks", batchID, []Item{
		{ID: "item1", Payload: payload("a")},
		{ID: "item2", Payload: payload("b")},
	})
	if err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}
	if len(results.Success) != 2 {
		t.Fatalf("expected 2 staged successes, got %d", len(results.Success))
	}

	// Nothing should be visible to readers before commit.
	items, err := s.GetItems(ctx, 1, "bookmarks", Query{})
	if err != nil {
		t.Fatalf("GetItems before commit: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected 0 visible items before commit, got %d", len(items))
	}

	modified, err := s.CommitBatch(ctx, 1, "bookmarks", batchID)
	if err != nil {
		t.Fatalf("CommitBatch: %v", err)
	}
	if modified <= 0 {
		t.Fatalf("expected positive modified from commit, got %d", modified)
	}

	items, err = s.GetItems(ctx, 1, "bookmarks", Query{})
	if err != nil {
		t.Fatalf("GetItems after commit: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items after commit, got %d", len(items))
	}
}

func TestBatchCloseDiscardsStagedItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batchID, err := s.CreateBatch(ctx, 1, "bookmarks")
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if _, err := s.AppendBatch(ctx, 1, "bookmarks", batchID, []Item{{ID: "item1", Payload: payload("a")}}); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}
	if err := s.CloseBatch(ctx, 1, "bookmarks", batchID); err != nil {
		t.Fatalf("CloseBatch: %v", err)
	}

	if _, err := s.CommitBatch(ctx, 1, "bookmarks", batchID); err == nil {
		t.Fatalf("expected CommitBatch on a closed batch to fail")
	} else if se := AsError(err); se == nil || se.Kind != KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestCommitUnknownBatchFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CommitBatch(ctx, 1, "bookmarks", 999999)
	se := AsError(err)
	if se == nil || se.Kind != KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestCommitBatchWrongCollectionFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batchID, err := s.CreateBatch(ctx, 1, "bookmarks")
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	_, err = s.CommitBatch(ctx, 1, "history", batchID)
	se := AsError(err)
	if se == nil || se.Kind != KindNotFound {
		t.Fatalf("expected KindNotFound for mismatched collection, got %v", err)
	}
}
