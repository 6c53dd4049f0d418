package model

import "gorm.io/datatypes"

const SourceListVersion = 1

// SourceRef is a weak reference to a retrieved chunk. The chunk may be
// deleted later without invalidating the message that cites it.
type SourceRef struct {
	ChunkID    string  `json:"chunk_id"`
	Collection string  `json:"collection"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float32 `json:"score"`
	Snippet    string  `json:"snippet,omitempty"`
}

type SourceList struct {
	Version int         `json:"version"`
	Items   []SourceRef `json:"items"`
}

func NewSourceList(items []SourceRef) SourceList {
	if items == nil {
		items = []SourceRef{}
	}
	return SourceList{Version: SourceListVersion, Items: items}
}

func NewSourceListJSON(items []SourceRef) datatypes.JSONType[SourceList] {
	return datatypes.NewJSONType(NewSourceList(items))
}
