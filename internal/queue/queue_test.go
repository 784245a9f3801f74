package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/showdoc/docqa/internal/fault"
	"github.com/showdoc/docqa/internal/index"
	"github.com/showdoc/docqa/internal/retry"
)

func Test_Job_Validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		job     Job
		wantErr bool
	}{
		{"valid index", Job{Op: OpIndex, ItemID: "i", DocID: "d", Version: 1, Content: "x"}, false},
		{"valid delete document", Job{Op: OpDeleteDocument, ItemID: "i", DocID: "d"}, false},
		{"valid delete item", Job{Op: OpDeleteItem, ItemID: "i"}, false},
		{"missing item", Job{Op: OpIndex, DocID: "d", Version: 1}, true},
		{"index without doc", Job{Op: OpIndex, ItemID: "i", Version: 1}, true},
		{"index without version", Job{Op: OpIndex, ItemID: "i", DocID: "d"}, true},
		{"delete document without doc", Job{Op: OpDeleteDocument, ItemID: "i"}, true},
		{"unknown op", Job{Op: "rebuild", ItemID: "i"}, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.job.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func Test_Job_RoundTrip(t *testing.T) {
	t.Parallel()

	in := Job{Op: OpIndex, ItemID: "item-1", DocID: "doc-1", Version: 7, Title: "Guide", Content: "body"}
	data, err := in.Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := DecodeJob(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch: %+v != %+v", out, in)
	}
}

func Test_DecodeJob_Malformed(t *testing.T) {
	t.Parallel()

	_, err := DecodeJob([]byte("{not json"))
	if err == nil {
		t.Fatal("expected error")
	}
	if fault.KindOf(err) != fault.KindInvalid {
		t.Errorf("malformed payload should be invalid, got %s", fault.KindOf(err))
	}

	// Well-formed JSON but an invalid job.
	_, err = DecodeJob([]byte(`{"op":"index","item_id":"i"}`))
	if err == nil {
		t.Error("expected validation error")
	}
}

func Test_Job_Key(t *testing.T) {
	t.Parallel()

	doc := Job{Op: OpIndex, ItemID: "item-1", DocID: "doc-1", Version: 1}
	if string(doc.Key()) != "item-1/doc-1" {
		t.Errorf("unexpected key %q", doc.Key())
	}
	item := Job{Op: OpDeleteItem, ItemID: "item-1"}
	if string(item.Key()) != "item-1" {
		t.Errorf("unexpected key %q", item.Key())
	}
}

// recordingIndexer records dispatched calls.
type recordingIndexer struct {
	indexed  []index.Request
	docDels  []string
	itemDels []string
	err      error
}

func (r *recordingIndexer) IndexDocument(_ context.Context, req index.Request) (index.Result, error) {
	if r.err != nil {
		return index.Result{}, r.err
	}
	r.indexed = append(r.indexed, req)
	return index.Result{Outcome: index.OutcomeIndexed, Chunks: 1}, nil
}

func (r *recordingIndexer) DeleteDocument(_ context.Context, itemID, docID string) error {
	if r.err != nil {
		return r.err
	}
	r.docDels = append(r.docDels, itemID+"/"+docID)
	return nil
}

func (r *recordingIndexer) DeleteItem(_ context.Context, itemID string) error {
	if r.err != nil {
		return r.err
	}
	r.itemDels = append(r.itemDels, itemID)
	return nil
}

func testConsumer(t *testing.T, idx Indexer) *Consumer {
	t.Helper()
	return &Consumer{
		indexer: idx,
		policy:  retry.Policy{MaxAttempts: 2, BaseDelay: 1, MaxDelay: 1},
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func Test_Dispatch_RoutesOps(t *testing.T) {
	t.Parallel()

	idx := &recordingIndexer{}
	c := testConsumer(t, idx)
	ctx := context.Background()

	err := c.dispatch(ctx, Job{Op: OpIndex, ItemID: "i", DocID: "d", Version: 2, Title: "T", Content: "body"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(idx.indexed) != 1 || idx.indexed[0].Version != 2 || idx.indexed[0].Title != "T" {
		t.Errorf("index job not dispatched: %+v", idx.indexed)
	}

	if err := c.dispatch(ctx, Job{Op: OpDeleteDocument, ItemID: "i", DocID: "d"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(idx.docDels) != 1 || idx.docDels[0] != "i/d" {
		t.Errorf("delete_document not dispatched: %v", idx.docDels)
	}

	if err := c.dispatch(ctx, Job{Op: OpDeleteItem, ItemID: "i"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(idx.itemDels) != 1 || idx.itemDels[0] != "i" {
		t.Errorf("delete_item not dispatched: %v", idx.itemDels)
	}
}

func Test_Dispatch_IndexerFailurePropagates(t *testing.T) {
	t.Parallel()

	idx := &recordingIndexer{err: errors.New("store down")}
	c := testConsumer(t, idx)

	err := c.dispatch(context.Background(), Job{Op: OpIndex, ItemID: "i", DocID: "d", Version: 1})
	if err == nil {
		t.Error("expected indexer failure to propagate")
	}
}
