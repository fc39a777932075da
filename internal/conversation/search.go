package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vogohq/concierge/internal/catalog"
	"github.com/vogohq/concierge/pkg/logging"
)

// ProductSearcher is the slice of the catalog the engine needs.
type ProductSearcher interface {
	Search(ctx context.Context, query, categoryHint string) ([]catalog.Product, error)
	FindByName(ctx context.Context, name string) (*catalog.Product, error)
}

// Stopwords removed when falling back to keyword search without the LLM.
var searchStopwords = map[string]struct{}{
	"i": {}, "a": {}, "an": {}, "the": {}, "do": {}, "you": {}, "have": {},
	"any": {}, "some": {}, "for": {}, "me": {}, "to": {}, "of": {}, "is": {},
	"are": {}, "there": {}, "want": {}, "need": {}, "looking": {}, "show": {},
	"please": {}, "can": {}, "find": {}, "buy": {}, "get": {},
	"je": {}, "un": {}, "une": {}, "le": {}, "la": {}, "les": {}, "des": {},
	"vous": {}, "avez": {}, "cherche": {}, "voudrais": {},
	"o": {}, "vreau": {}, "aveti": {}, "aveți": {},
	"caut": {}, "niste": {}, "niște": {}, "pentru": {},
}

// Searcher answers product and service lookup turns.
type Searcher struct {
	llm      LLMClient
	model    string
	products ProductSearcher
	logger   *logging.Logger
}

func NewSearcher(llm LLMClient, model string, products ProductSearcher, logger *logging.Logger) *Searcher {
	if products == nil {
		panic("conversation: product searcher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Searcher{llm: llm, model: model, products: products, logger: logger}
}

// Search resolves the query, runs the catalog lookup, and produces the
// reply text. The returned product list is what the user was shown; the
// engine records it for later "order this" turns.
func (s *Searcher) Search(ctx context.Context, conv *Conversation, slots *SearchSlots, rawMessage string) (string, []catalog.Product, error) {
	query := ""
	if slots != nil {
		query = strings.TrimSpace(slots.Query)
	}
	if query == "" {
		query = s.cleanQuery(ctx, rawMessage)
	}

	products, err := s.products.Search(ctx, query, "")
	if err != nil {
		return "", nil, fmt.Errorf("conversation: product search: %w", err)
	}
	if len(products) == 0 {
		return reply(conv.Language, "search_empty"), nil, nil
	}

	return s.intro(ctx, conv.Language, query, products), products, nil
}

// cleanQuery asks the model to reduce a conversational message to search
// keywords. When the model is unavailable, strips stopwords instead.
func (s *Searcher) cleanQuery(ctx context.Context, message string) string {
	if s.llm != nil {
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		resp, err := s.llm.Complete(callCtx, LLMRequest{
			Model: s.model,
			System: []string{"Extract the product search keywords from the user's message. " +
				"Reply with ONLY the keywords, in the user's language, nothing else."},
			Messages:    []ChatMessage{{Role: ChatRoleUser, Content: message}},
			MaxTokens:   40,
			Temperature: 0,
		})
		if err == nil && strings.TrimSpace(resp.Text) != "" {
			return strings.TrimSpace(resp.Text)
		}
		if err != nil {
			s.logger.Debug("search query cleaning failed, using stopword fallback", "error", err)
		}
	}
	return stripStopwords(message)
}

// intro produces the line shown above the product list. LLM when possible,
// plain count otherwise.
func (s *Searcher) intro(ctx context.Context, lang, query string, products []catalog.Product) string {
	fallback := replyf(lang, "search_intro", len(products))
	if s.llm == nil {
		return fallback
	}

	names := make([]string, 0, len(products))
	for _, p := range products {
		names = append(names, p.Name)
	}

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := s.llm.Complete(callCtx, LLMRequest{
		Model: s.model,
		System: []string{fmt.Sprintf("Write ONE short friendly sentence, in the language with code %q, "+
			"introducing search results for the query %q. Do not list the products. No markdown.", lang, query)},
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: strings.Join(names, ", ")}},
		MaxTokens:   60,
		Temperature: 0.4,
	})
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		if err != nil {
			s.logger.Debug("search intro generation failed, using fallback", "error", err)
		}
		return fallback
	}
	return strings.TrimSpace(resp.Text)
}

func stripStopwords(message string) string {
	fields := strings.Fields(strings.ToLower(message))
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()")
		if f == "" {
			continue
		}
		if _, ok := searchStopwords[f]; ok {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}
