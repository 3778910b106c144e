package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Slug    string `json:"slug"`
	Snippet string `json:"snippet"`
	SpaceID string `json:"spaceId"`
}

// PropertyFilter matches one key in a document's property bag. A nil Value
// means "the key exists, regardless of value".
type PropertyFilter struct {
	Key   string  `json:"key"`
	Value *string `json:"value"`
}

// Query describes a search request. Filters combine with AND; an empty Text
// restricts the result to filter matches only.
type Query struct {
	Text    string
	SpaceID string
	Filters []PropertyFilter
	Limit   int
	Offset  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push documents into a search index.
type Indexer interface {
	IndexDocument(doc DocumentRecord) error
	DeleteDocument(id string) error
}

// DocumentRecord is the data we index for a document. Content tracks the
// head revision; Properties mirrors the document's property bag so filter
// expressions can address individual keys.
type DocumentRecord struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Slug       string         `json:"slug"`
	SpaceID    string         `json:"spaceId"`
	Content    string         `json:"content"`
	Properties map[string]any `json:"properties"`
}
