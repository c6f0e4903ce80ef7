package searcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/nodequeue/internal/storage"
	"github.com/dshills/nodequeue/pkg/types"
)

const (
	DefaultLimit     = 10
	MaxLimit         = 100
	DefaultCacheTTL  = 5 * time.Minute
	DefaultCacheSize = 1000
	snippetLength    = 160
)

// DocumentSource runs full-text queries over the indexed documents
type DocumentSource interface {
	SearchDocuments(ctx context.Context, q storage.DocumentQuery) ([]storage.DocumentResult, error)
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query      string
	Workspace  string
	Dimensions types.DimensionValues // Optional; matched by target hash
	Limit      int
	UseCache   bool
	CacheTTL   time.Duration
}

// Result is one matching document
type Result struct {
	Rank       int                   `json:"rank"`
	Score      float64               `json:"score"`
	Identifier string                `json:"identifier"`
	Workspace  string                `json:"workspace"`
	Dimensions types.DimensionValues `json:"dimensions"`
	NodeType   string                `json:"nodeType"`
	Path       string                `json:"path"`
	Title      string                `json:"title"`
	Snippet    string                `json:"snippet"`
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results      []Result
	TotalResults int
	Duration     time.Duration
	CacheHit     bool
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher answers full-text queries with an LRU response cache
type Searcher struct {
	source  DocumentSource
	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex
	now     func() time.Time
}

// NewSearcher creates a new Searcher instance
func NewSearcher(source DocumentSource) *Searcher {
	cache, err := lru.New[[32]byte, *cacheEntry](DefaultCacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	return &Searcher{
		source: source,
		cache:  cache,
		now:    time.Now,
	}
}

// Search performs a search based on the request parameters
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := s.now()

	if err := validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	if req.UseCache {
		if cached := s.checkCache(req); cached != nil {
			cached.CacheHit = true
			cached.Duration = s.now().Sub(startTime)
			return cached, nil
		}
	}

	dq := storage.DocumentQuery{
		Query:     req.Query,
		Workspace: req.Workspace,
		Limit:     req.Limit,
	}
	if len(req.Dimensions) > 0 {
		dq.DimensionsHash = req.Dimensions.TargetHash()
	}
	found, err := s.source.SearchDocuments(ctx, dq)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}

	results := make([]Result, 0, len(found))
	for i, r := range found {
		doc := r.Document
		results = append(results, Result{
			Rank:       i + 1,
			Score:      r.BM25Score,
			Identifier: doc.Identifier,
			Workspace:  doc.Workspace,
			Dimensions: doc.Dimensions,
			NodeType:   doc.NodeType,
			Path:       doc.Path,
			Title:      doc.Title,
			Snippet:    snippet(doc.Body),
		})
	}

	response := &SearchResponse{
		Results:      results,
		TotalResults: len(results),
		Duration:     s.now().Sub(startTime),
	}
	if req.UseCache && len(response.Results) > 0 {
		s.storeInCache(req, response)
	}
	return response, nil
}

// validateRequest ensures search request is valid
func validateRequest(req *SearchRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if req.Workspace == "" {
		req.Workspace = "live"
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}
	if req.CacheTTL == 0 {
		req.CacheTTL = DefaultCacheTTL
	}
	return nil
}

// checkCache returns a copy of a live cache entry, or nil
func (s *Searcher) checkCache(req SearchRequest) *SearchResponse {
	hash := computeQueryHash(req)

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}
	if s.now().After(entry.expiresAt) {
		s.cacheMu.RUnlock()
		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil
	}
	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()
	return response
}

func (s *Searcher) storeInCache(req SearchRequest, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: s.now().Add(req.CacheTTL),
	}
	s.cacheMu.Lock()
	s.cache.Add(computeQueryHash(req), entry)
	s.cacheMu.Unlock()
}

// InvalidateCache drops every cached response. Called after documents change.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen reports the number of cached responses
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}
	dst := &SearchResponse{
		TotalResults: src.TotalResults,
		Duration:     src.Duration,
		CacheHit:     src.CacheHit,
		Results:      make([]Result, len(src.Results)),
	}
	for i, r := range src.Results {
		dst.Results[i] = r
		dst.Results[i].Dimensions = r.Dimensions.Clone()
	}
	return dst
}

// computeQueryHash computes a unique hash for a search request
func computeQueryHash(req SearchRequest) [32]byte {
	var data strings.Builder
	data.WriteString(strings.ToLower(strings.TrimSpace(req.Query)))
	data.WriteString("|")
	data.WriteString(req.Workspace)
	data.WriteString("|")
	if len(req.Dimensions) > 0 {
		data.WriteString(req.Dimensions.TargetHash())
	}
	data.WriteString("|")
	data.WriteString(fmt.Sprintf("%d", req.Limit))
	return sha256.Sum256([]byte(data.String()))
}

// snippet returns the start of body cut at a rune boundary
func snippet(body string) string {
	body = strings.Join(strings.Fields(body), " ")
	if utf8.RuneCountInString(body) <= snippetLength {
		return body
	}
	runes := []rune(body)
	return string(runes[:snippetLength]) + "..."
}
