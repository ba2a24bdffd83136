package model

// DocumentMetadata describes the provenance of a source document.
type DocumentMetadata struct {
	Source string `json:"source"`
	Title  string `json:"title,omitempty"`
	URL    string `json:"url,omitempty"`
	Type   string `json:"type,omitempty"`
}

// Document is an opaque text blob plus provenance metadata. Acquisition and
// normalization (PDF, HTML, chunking) happen upstream; the pipeline only
// reads Content.
type Document struct {
	Content  string           `json:"content"`
	Metadata DocumentMetadata `json:"metadata"`
}
