package search

import (
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const (
	unavailablePlaceholder = "(Web検索は現在利用できません。SERPER_API_KEYが設定されていません。)"
	statusPlaceholder      = "(検索エラー: %d)"
	emptyPlaceholder       = "(検索結果が見つかりませんでした)"
	failurePlaceholder     = "(検索中にエラーが発生しました: %v)"
)

// Response is the subset of the Serper response the digest uses.
type Response struct {
	Organic        []OrganicResult `json:"organic"`
	KnowledgeGraph *KnowledgeGraph `json:"knowledgeGraph,omitempty"`
}

// OrganicResult is one regular search hit.
type OrganicResult struct {
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Link     string `json:"link"`
	Position int    `json:"position,omitempty"`
}

// KnowledgeGraph is the optional knowledge panel.
type KnowledgeGraph struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

var textPolicy = bluemonday.StrictPolicy()

// plain strips markup from provider text. The strict policy escapes
// entities on output, so they are unescaped again for the model.
func plain(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

// FormatDigest renders up to five organic results and the knowledge panel.
func FormatDigest(query string, res *Response) string {
	var b strings.Builder
	fmt.Fprintf(&b, "【Web検索結果: \"%s\"】\n\n", query)

	results := res.Organic
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	for _, r := range results {
		fmt.Fprintf(&b, "📌 %s\n%s\nURL: %s\n\n", plain(r.Title), plain(r.Snippet), r.Link)
	}

	if kg := res.KnowledgeGraph; kg != nil {
		fmt.Fprintf(&b, "\n📋 ナレッジグラフ: %s\n%s\n", plain(kg.Title), plain(kg.Description))
	}
	return b.String()
}
