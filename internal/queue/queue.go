// Package queue moves indexing work through Kafka. The platform's write path
// publishes a job per document change; worker processes consume them, drive
// the indexer, and route poison jobs to a dead-letter topic.
//
// Jobs for the same document share a message key, so a partition preserves
// their order. The indexer's version gate makes redelivery and cross-restart
// replays harmless.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/showdoc/docqa/internal/fault"
)

// Op enumerates the job operations.
type Op string

const (
	// OpIndex indexes one document version.
	OpIndex Op = "index"
	// OpDeleteDocument removes a document from the index.
	OpDeleteDocument Op = "delete_document"
	// OpDeleteItem removes an item's entire index.
	OpDeleteItem Op = "delete_item"
)

// Job is one unit of indexing work on the wire.
type Job struct {
	// Op selects the operation.
	Op Op `json:"op"`
	// ItemID is the owning project.
	ItemID string `json:"item_id"`
	// DocID is the document (empty for delete_item).
	DocID string `json:"doc_id,omitempty"`
	// Version is the document version (index only).
	Version int64 `json:"version,omitempty"`
	// Title is the document title (index only).
	Title string `json:"title,omitempty"`
	// Content is the raw document text (index only).
	Content string `json:"content,omitempty"`
}

// Validate checks that the job is well-formed for its operation.
func (j Job) Validate() error {
	if j.ItemID == "" {
		return fault.Invalid("queue.job", "item ID is required")
	}
	switch j.Op {
	case OpIndex:
		if j.DocID == "" {
			return fault.Invalid("queue.job", "index job requires a document ID")
		}
		if j.Version <= 0 {
			return fault.Invalid("queue.job", "index job requires a positive version, got %d", j.Version)
		}
	case OpDeleteDocument:
		if j.DocID == "" {
			return fault.Invalid("queue.job", "delete_document job requires a document ID")
		}
	case OpDeleteItem:
	default:
		return fault.Invalid("queue.job", "unknown op %q", j.Op)
	}
	return nil
}

// Key returns the Kafka message key. Jobs for the same document land on the
// same partition and keep their relative order.
func (j Job) Key() []byte {
	if j.DocID == "" {
		return []byte(j.ItemID)
	}
	return []byte(j.ItemID + "/" + j.DocID)
}

// Encode serializes the job for the wire.
func (j Job) Encode() ([]byte, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("queue: encode job: %w", err)
	}
	return b, nil
}

// DecodeJob parses a wire message into a validated Job.
func DecodeJob(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, fault.Invalid("queue.decode", "malformed job payload: %v", err)
	}
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	return j, nil
}
