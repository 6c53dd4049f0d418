package model

// IngestJob is the queued form of a document ingestion request.
type IngestJob struct {
	JobID          string            `json:"job_id"`
	DocumentID     string            `json:"document_id"`
	Collection     string            `json:"collection"`
	EmbeddingModel string            `json:"embedding_model"`
	Text           string            `json:"text"`
	FileName       string            `json:"file_name,omitempty"`
	ChunkSize      int               `json:"chunk_size,omitempty"`
	ChunkOverlap   int               `json:"chunk_overlap,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}
