package topic

import (
	"errors"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()
	if c.Len() == 0 {
		t.Fatal("expected a non-empty default catalog")
	}

	seen := make(map[string]bool)
	for _, tp := range c.List("") {
		if tp.ID == "" || tp.Text == "" || tp.Category == "" {
			t.Errorf("incomplete topic: %+v", tp)
		}
		if seen[tp.ID] {
			t.Errorf("duplicate topic id %q", tp.ID)
		}
		seen[tp.ID] = true
	}

	if got := len(c.Categories()); got != 8 {
		t.Errorf("expected 8 categories, got %d", got)
	}
}

func TestRandom_Scoped(t *testing.T) {
	c := DefaultCatalog()
	for i := 0; i < 50; i++ {
		tp, err := c.Random(CategoryScience)
		if err != nil {
			t.Fatalf("Random() error: %v", err)
		}
		if tp.Category != CategoryScience {
			t.Fatalf("expected category %q, got %q", CategoryScience, tp.Category)
		}
	}
}

func TestRandom_UnknownCategory(t *testing.T) {
	c := DefaultCatalog()
	_, err := c.Random("astrology")
	if !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
	if c.HasCategory("astrology") {
		t.Error("expected HasCategory(astrology) = false")
	}
}

func TestRandom_Deterministic(t *testing.T) {
	c := NewCatalog([]Topic{
		{Text: "a", Category: "x"},
		{Text: "b", Category: "x"},
		{Text: "c", Category: "y"},
	})
	c.intn = func(n int) int { return n - 1 }

	tp, err := c.Random("")
	if err != nil {
		t.Fatalf("Random() error: %v", err)
	}
	if tp.Text != "c" || tp.ID != "topic_2" {
		t.Errorf("expected last topic, got %+v", tp)
	}

	tp, _ = c.Random("x")
	if tp.Text != "b" {
		t.Errorf("expected %q, got %q", "b", tp.Text)
	}
}

func TestEmptyCatalog(t *testing.T) {
	c := NewCatalog(nil)
	if _, err := c.Random(""); err == nil {
		t.Fatal("expected error from empty catalog")
	}
}

func TestList_ReturnsCopy(t *testing.T) {
	c := DefaultCatalog()
	list := c.List(CategoryHealth)
	list[0].Text = "mutated"
	if c.List(CategoryHealth)[0].Text == "mutated" {
		t.Error("List() must not expose internal storage")
	}
}
