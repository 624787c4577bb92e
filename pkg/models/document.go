// Package models defines the core data types for ablate.
package models

import "encoding/json"

// UntitledDocument is the title used when a provider returns none.
const UntitledDocument = "(untitled)"

// Document is a resolved source document used as evidence for an answer.
//
// The URL the caller requested is the document's identity; ID may differ when
// the content provider assigns its own identifier. Text may be empty when the
// provider found no extractable content; such documents still take part in
// ablation. Documents are never mutated after construction.
type Document struct {
	// ID is the provider-assigned identifier (defaults to the requested URL).
	ID string `json:"id"`

	// Title is the page title, or UntitledDocument.
	Title string `json:"title"`

	// URL is the canonical URL reported by the provider.
	URL string `json:"url"`

	// Text is the extracted page text.
	Text string `json:"text"`
}

// Meta returns the document's identifying metadata without its text.
func (d Document) Meta() SourceMeta {
	return SourceMeta{ID: d.ID, Title: d.Title, URL: d.URL}
}

// SourceMeta identifies a document in an attribution report.
type SourceMeta struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// CacheEntry is the persisted projection of a Document.
//
// Fields are pointers so that absent keys can be told apart from empty values
// when decoding entries written by older versions or other tools.
type CacheEntry struct {
	ID    *string `json:"id,omitempty"`
	Title *string `json:"title,omitempty"`
	URL   *string `json:"url,omitempty"`
	Text  *string `json:"text,omitempty"`
}

// NewCacheEntry builds a fully populated cache entry from a document.
func NewCacheEntry(doc Document) CacheEntry {
	id, title, url, text := doc.ID, doc.Title, doc.URL, doc.Text
	return CacheEntry{ID: &id, Title: &title, URL: &url, Text: &text}
}

// Document converts the entry into a Document, substituting defaults for
// missing fields: id and url fall back to key, title to UntitledDocument and
// text to the empty string.
func (e CacheEntry) Document(key string) Document {
	doc := Document{
		ID:    key,
		Title: UntitledDocument,
		URL:   key,
	}
	if e.ID != nil {
		doc.ID = *e.ID
	}
	if e.Title != nil {
		doc.Title = *e.Title
	}
	if e.URL != nil {
		doc.URL = *e.URL
	}
	if e.Text != nil {
		doc.Text = *e.Text
	}
	return doc
}

// ProviderRecord is the loosely typed document shape returned by content
// providers and used in override fixtures. Unknown fields are ignored.
type ProviderRecord struct {
	ID    *string `json:"id"`
	Title *string `json:"title"`
	URL   *string `json:"url"`
	Text  *string `json:"text"`
}

// providerEnvelope is a provider response wrapping one or more records.
type providerEnvelope struct {
	Results []json.RawMessage `json:"results"`
}

// DecodeProviderRecord decodes either a bare record or an envelope whose first
// result is unwrapped, and converts it to a Document keyed by key.
// JSON nulls are treated like missing fields.
func DecodeProviderRecord(key string, raw json.RawMessage) (Document, error) {
	payload := raw
	var env providerEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Document{}, err
	}
	if len(env.Results) > 0 {
		payload = env.Results[0]
	}
	var rec ProviderRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Document{}, err
	}
	return CacheEntry(rec).Document(key), nil
}
