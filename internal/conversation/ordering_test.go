package conversation

import (
	"context"
	"strings"
	"testing"

	"github.com/vogohq/concierge/internal/catalog"
)

type fakeProductSearcher struct {
	results  []catalog.Product
	byName   *catalog.Product
	searches []string
}

func (f *fakeProductSearcher) Search(ctx context.Context, query, categoryHint string) ([]catalog.Product, error) {
	f.searches = append(f.searches, query)
	return f.results, nil
}

func (f *fakeProductSearcher) FindByName(ctx context.Context, name string) (*catalog.Product, error) {
	return f.byName, nil
}

func TestOrderResolvesFromShownProducts(t *testing.T) {
	tickets := &fakeTicketClient{}
	o := NewOrderer(&fakeProductSearcher{}, tickets, nil)

	conv := &Conversation{
		ID:       "conv-1",
		UserID:   "user-1",
		Language: "en",
		LastShownProducts: []catalog.Product{
			{ID: "p-1", Name: "Hydrating Face Cream", Price: "29.99"},
			{ID: "p-2", Name: "Lavender Candle", Price: "12.00"},
		},
	}

	msg, err := o.Order(context.Background(), conv, &OrderSlots{ProductName: "face cream", Quantity: 2})
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if !strings.Contains(msg, "Hydrating Face Cream") {
		t.Errorf("reply = %q", msg)
	}
	if len(tickets.created) != 1 {
		t.Fatalf("created %d tickets", len(tickets.created))
	}
	if !strings.Contains(tickets.created[0].Description, "2 x Hydrating Face Cream") {
		t.Errorf("ticket description = %q", tickets.created[0].Description)
	}
}

func TestOrderFallsBackToCatalogLookup(t *testing.T) {
	products := &fakeProductSearcher{byName: &catalog.Product{ID: "p-9", Name: "Vitamin C Serum", Price: "19.99"}}
	tickets := &fakeTicketClient{}
	o := NewOrderer(products, tickets, nil)

	conv := &Conversation{ID: "conv-1", Language: "en"}
	msg, err := o.Order(context.Background(), conv, &OrderSlots{ProductName: "vitamin c serum"})
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if !strings.Contains(msg, "Vitamin C Serum") {
		t.Errorf("reply = %q", msg)
	}
	if !strings.Contains(msg, "1 x") {
		t.Errorf("quantity default missing from reply: %q", msg)
	}
}

func TestOrderUnresolvedAsksForClarification(t *testing.T) {
	tickets := &fakeTicketClient{}
	o := NewOrderer(&fakeProductSearcher{}, tickets, nil)

	conv := &Conversation{ID: "conv-1", Language: "en"}
	msg, err := o.Order(context.Background(), conv, &OrderSlots{ProductName: "mystery item"})
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if msg != reply("en", "order_clarify") {
		t.Errorf("reply = %q", msg)
	}
	if len(tickets.created) != 0 {
		t.Error("no ticket should be filed for an unresolved product")
	}
}

func TestSearchRecordsShownProductsAndFallsBack(t *testing.T) {
	products := &fakeProductSearcher{results: []catalog.Product{{ID: "p-1", Name: "Face Cream"}}}
	s := NewSearcher(nil, "", products, nil)

	conv := &Conversation{ID: "conv-1", Language: "en"}
	msg, shown, err := s.Search(context.Background(), conv, nil, "do you have any face cream?")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(shown) != 1 {
		t.Fatalf("shown = %+v", shown)
	}
	if msg == "" {
		t.Error("empty intro")
	}
	// Without an LLM the query must be the stopword-stripped message.
	if len(products.searches) != 1 || products.searches[0] != "face cream" {
		t.Errorf("search query = %q", products.searches)
	}
}

func TestSearchEmptyResult(t *testing.T) {
	s := NewSearcher(nil, "", &fakeProductSearcher{}, nil)
	conv := &Conversation{ID: "conv-1", Language: "en"}

	msg, shown, err := s.Search(context.Background(), conv, &SearchSlots{Query: "unicorn"}, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if shown != nil {
		t.Errorf("shown = %+v", shown)
	}
	if msg != reply("en", "search_empty") {
		t.Errorf("reply = %q", msg)
	}
}

func TestStripStopwords(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Do you have any face cream?", "face cream"},
		{"je cherche une bougie parfumée", "bougie parfumée"},
		{"vreau niste lumanari", "lumanari"},
	}
	for _, tt := range tests {
		if got := stripStopwords(tt.in); got != tt.want {
			t.Errorf("stripStopwords(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
