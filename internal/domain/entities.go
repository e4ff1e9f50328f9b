package domain

import (
	"path/filepath"
	"strings"
)

// SupportedExtensions lists the image types the indexer accepts, lower-cased.
var SupportedExtensions = []string{".png", ".jpg", ".jpeg", ".gif"}

// IsSupportedImage reports whether path has a supported image extension,
// compared case-insensitively.
func IsSupportedImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

type EmbeddingRecord struct {
	Path   string
	Vector []float32
}

// Snapshot is the persisted form of an index: every record plus the folder
// it was built from.
type Snapshot struct {
	Folder  string
	Records []EmbeddingRecord
}

func (s Snapshot) IsEmpty() bool {
	return len(s.Records) == 0
}

type QueryKind int

const (
	QueryText QueryKind = iota
	QueryImage
	QueryHybrid
)

func (k QueryKind) String() string {
	switch k {
	case QueryText:
		return "text"
	case QueryImage:
		return "image"
	case QueryHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// ParseQueryKind maps a mode name to a QueryKind.
func ParseQueryKind(s string) (QueryKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text":
		return QueryText, true
	case "image":
		return QueryImage, true
	case "hybrid":
		return QueryHybrid, true
	default:
		return 0, false
	}
}

type Query struct {
	Kind      QueryKind
	ImagePath string
	Text      string
}

func TextQuery(text string) Query {
	return Query{Kind: QueryText, Text: text}
}

func ImageQuery(path string) Query {
	return Query{Kind: QueryImage, ImagePath: path}
}

func HybridQuery(path, text string) Query {
	return Query{Kind: QueryHybrid, ImagePath: path, Text: text}
}

type ScoredImage struct {
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// SearchOutcome is a ranked result list together with the threshold that
// produced it. Adjusted is set when the adaptive fallback replaced the
// configured threshold.
type SearchOutcome struct {
	Query     Query         `json:"-"`
	Results   []ScoredImage `json:"results"`
	Threshold float64       `json:"threshold"`
	Adjusted  bool          `json:"adjusted"`
}

type IndexResult struct {
	Candidates int
	Indexed    int
	Skipped    int
	Warnings   []string
}

type Label struct {
	Text        string  `json:"label"`
	Probability float64 `json:"probability"`
}

type MapPoint struct {
	Path   string    `json:"path"`
	Coords []float64 `json:"coords"`
}
