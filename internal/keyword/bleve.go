package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/kura/internal/models"
)

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

type bleveDoc struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Text string `json:"text"`
}

func newIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase and tokenize, no stemming, so SKUs and
	// order numbers match exactly.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("type", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("id", keywordFieldMapping)
	im.AddDocumentMapping("record", docMapping)
	im.DefaultType = "record"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path creates
// an in-memory index; the store uses that and repopulates it from the mapping
// on every open.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(newIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, newIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func toDoc(r models.EmbeddingRecord) bleveDoc {
	return bleveDoc{Type: string(r.Type), ID: r.ID, Text: r.Text}
}

// Index indexes (or re-indexes) one record.
func (b *BleveIndex) Index(ctx context.Context, record models.EmbeddingRecord) error {
	return b.index.Index(record.Identity().String(), toDoc(record))
}

// Delete removes a record from the index. Deleting an absent record is not an error.
func (b *BleveIndex) Delete(ctx context.Context, ident models.Identity) error {
	return b.index.Delete(ident.String())
}

// Replace removes every indexed document and indexes records in one batch.
func (b *BleveIndex) Replace(ctx context.Context, records []models.EmbeddingRecord) error {
	count, err := b.index.DocCount()
	if err != nil {
		return fmt.Errorf("failed to count Bleve documents: %w", err)
	}

	batch := b.index.NewBatch()
	if count > 0 {
		req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
		req.Size = int(count)
		existing, err := b.index.Search(req)
		if err != nil {
			return fmt.Errorf("failed to list Bleve documents: %w", err)
		}
		for _, hit := range existing.Hits {
			batch.Delete(hit.ID)
		}
	}
	for _, r := range records {
		if err := batch.Index(r.Identity().String(), toDoc(r)); err != nil {
			return fmt.Errorf("failed to batch %s: %w", r.Identity(), err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("Bleve batch failed: %w", err)
	}
	return nil
}

// Search runs a match query over record text and returns up to limit results
// ordered by descending score. When opts.FuzzyEnabled is true, fuzzy matching
// is used for typo tolerance.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return []*KeywordResult{}, nil
	}
	fuzziness := 0
	var typeFilter models.EntityType
	if opts != nil {
		typeFilter = opts.Type
		if opts.FuzzyEnabled {
			fuzziness = 1
			if opts.Fuzziness > 0 {
				fuzziness = opts.Fuzziness
			}
		}
	}

	var q blevequery.Query
	if fuzziness > 0 {
		q = buildFuzzyQuery(query, fuzziness, "text")
	} else {
		mq := bleve.NewMatchQuery(query)
		mq.SetField("text")
		q = mq
	}
	if typeFilter != "" {
		tq := bleve.NewTermQuery(string(typeFilter))
		tq.SetField("type")
		q = bleve.NewConjunctionQuery(q, tq)
	}

	search := bleve.NewSearchRequest(q)
	search.Size = limit
	results, err := b.index.SearchInContext(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, 0, len(results.Hits))
	for _, hit := range results.Hits {
		ident, err := models.ParseIdentity(hit.ID)
		if err != nil {
			continue
		}
		out = append(out, &KeywordResult{Identity: ident, Score: hit.Score})
	}
	return out, nil
}

// tokenizeQuery splits query into lowercase terms, filtering out empty strings.
func tokenizeQuery(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?\"'()")
		if w != "" {
			terms = append(terms, w)
		}
	}
	return terms
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries for each term in the query.
func buildFuzzyQuery(queryStr string, fuzziness int, field string) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		mq.SetField(field)
		return mq
	}

	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// DocCount returns the total number of documents in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
