// Package corpus segments meeting documents into passages, stores them, and
// indexes them for similarity search.
package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/fyrsmithlabs/minutes/internal/vectorstore"
)

// DefaultMaxWords is the target passage size in words.
const DefaultMaxWords = 400

// Metadata keys written with every indexed passage.
const (
	MetaCorpusID   = "corpus_id"
	MetaLocalIndex = "local_index"
	MetaTitle      = "title"
)

// ErrValidation marks bad caller input.
var ErrValidation = errors.New("validation failed")

// Passage is one segment of a corpus. LocalIndex is unique within the corpus
// and stable across reads.
type Passage struct {
	CorpusID   string `json:"corpus_id"`
	LocalIndex int    `json:"local_index"`
	Text       string `json:"text"`
}

// Corpus is one ingested document.
type Corpus struct {
	ID           string    `json:"corpus_id"`
	Title        string    `json:"title"`
	Raw          string    `json:"-"`
	PassageCount int       `json:"passages"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Segment splits raw text into passages. Paragraphs are the non-empty trimmed
// lines; they are joined with newlines until a passage reaches maxWords words.
func Segment(raw string, maxWords int) []string {
	if maxWords < 1 {
		maxWords = DefaultMaxWords
	}

	var (
		out   []string
		buf   []string
		words int
	)
	for _, line := range strings.Split(raw, "\n") {
		p := strings.TrimSpace(line)
		if p == "" {
			continue
		}
		buf = append(buf, p)
		words += len(strings.Fields(p))
		if words >= maxWords {
			out = append(out, strings.Join(buf, "\n"))
			buf, words = nil, 0
		}
	}
	if len(buf) > 0 {
		out = append(out, strings.Join(buf, "\n"))
	}
	return out
}

// PassageID derives an index id from the passage text and its metadata:
// the first 16 hex characters of sha256(text + canonical metadata JSON).
func PassageID(text string, md vectorstore.Metadata) string {
	// encoding/json sorts map keys, which makes the encoding canonical.
	canon, _ := json.Marshal(md)
	sum := sha256.Sum256(append([]byte(text), canon...))
	return hex.EncodeToString(sum[:])[:16]
}

// PassageMetadata returns the index metadata for a passage.
func PassageMetadata(corpusID, title string, localIndex int) vectorstore.Metadata {
	return vectorstore.Metadata{
		MetaCorpusID:   corpusID,
		MetaTitle:      title,
		MetaLocalIndex: localIndex,
	}
}
