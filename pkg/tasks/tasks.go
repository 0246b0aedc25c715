// Package tasks defines the messages exchanged with the indexing queue.
package tasks

// IndexTask asks a worker to index one document. SourcePath is set only for
// documents seeded from the local filesystem; otherwise the stored blob is used.
type IndexTask struct {
	DocumentID string `json:"document_id"`
	SourcePath string `json:"source_path,omitempty"`
}
