// Package search runs web searches for the web_search tool and renders the
// results as plain text a language model can read.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/stake-plus/chat-proxy/src/webclient"
)

const (
	DefaultSerperURL = "https://google.serper.dev/search"

	// Fixed locale and result cap sent with every query.
	region     = "jp"
	language   = "ja"
	maxResults = 5
)

// Searcher returns a text digest for a query. Implementations never fail;
// problems are reported inside the returned text.
type Searcher interface {
	Search(ctx context.Context, query string) string
}

// DigestCache stores successful digests by query.
type DigestCache interface {
	Get(ctx context.Context, query string) (string, bool)
	Set(ctx context.Context, query, digest string)
}

// Serper queries the Serper Google search API.
type Serper struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	cache      DigestCache
}

// Option customises a Serper client.
type Option func(*Serper)

// WithEndpoint overrides the search API URL.
func WithEndpoint(endpoint string) Option {
	return func(s *Serper) {
		if strings.TrimSpace(endpoint) != "" {
			s.endpoint = endpoint
		}
	}
}

// WithCache serves repeated queries from cache.
func WithCache(cache DigestCache) Option {
	return func(s *Serper) { s.cache = cache }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Serper) { s.httpClient = c }
}

// NewSerper builds a client. An empty apiKey is allowed; searches then
// return the unavailable placeholder.
func NewSerper(apiKey string, opts ...Option) *Serper {
	s := &Serper{
		apiKey:     strings.TrimSpace(apiKey),
		endpoint:   DefaultSerperURL,
		httpClient: webclient.NewDefault(30 * time.Second),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configured reports whether a credential is present.
func (s *Serper) Configured() bool {
	return s.apiKey != ""
}

type serperRequest struct {
	Q   string `json:"q"`
	GL  string `json:"gl"`
	HL  string `json:"hl"`
	Num int    `json:"num"`
}

// Search implements Searcher.
func (s *Serper) Search(ctx context.Context, query string) string {
	if s.apiKey == "" {
		return unavailablePlaceholder
	}
	if s.cache != nil {
		if digest, ok := s.cache.Get(ctx, query); ok {
			log.Printf("serper: cache hit query=%q", query)
			return digest
		}
	}

	res, err := s.fetch(ctx, query)
	if err != nil {
		log.Printf("serper: query=%q error: %v", query, err)
		var status *statusError
		if errors.As(err, &status) {
			return fmt.Sprintf(statusPlaceholder, status.code)
		}
		return fmt.Sprintf(failurePlaceholder, err)
	}
	if len(res.Organic) == 0 {
		return emptyPlaceholder
	}

	digest := FormatDigest(query, res)
	if s.cache != nil {
		s.cache.Set(ctx, query, digest)
	}
	return digest
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

func (s *Serper) fetch(ctx context.Context, query string) (*Response, error) {
	bodyBytes, err := json.Marshal(serperRequest{Q: query, GL: region, HL: language, Num: maxResults})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{code: resp.StatusCode, body: truncate(string(body), 256)}
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &out, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
