// Package topic holds the catalog of debate prompts. A catalog is immutable
// after construction and safe for concurrent use.
package topic

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
)

// ErrUnknownCategory is returned when a category has no topics.
var ErrUnknownCategory = errors.New("topic: unknown category")

// Topic is a single debate prompt.
type Topic struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Category string `json:"category"`
}

// Catalog is a fixed set of topics grouped by category.
type Catalog struct {
	all        []Topic
	byCategory map[string][]Topic
	intn       func(n int) int
}

// NewCatalog builds a catalog from topics. Topics without an ID are assigned
// "topic_<index>".
func NewCatalog(topics []Topic) *Catalog {
	c := &Catalog{
		all:        make([]Topic, 0, len(topics)),
		byCategory: make(map[string][]Topic),
		intn:       rand.IntN,
	}
	for i, t := range topics {
		if t.ID == "" {
			t.ID = fmt.Sprintf("topic_%d", i)
		}
		c.all = append(c.all, t)
		c.byCategory[t.Category] = append(c.byCategory[t.Category], t)
	}
	return c
}

// Random returns a uniformly random topic. An empty category draws from the
// whole catalog.
func (c *Catalog) Random(category string) (Topic, error) {
	pool := c.all
	if category != "" {
		pool = c.byCategory[category]
	}
	if len(pool) == 0 {
		if category == "" {
			return Topic{}, errors.New("topic: empty catalog")
		}
		return Topic{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return pool[c.intn(len(pool))], nil
}

// HasCategory reports whether the catalog has at least one topic in category.
func (c *Catalog) HasCategory(category string) bool {
	return len(c.byCategory[category]) > 0
}

// List returns the topics of a category, or every topic when category is
// empty. The returned slice is a copy.
func (c *Catalog) List(category string) []Topic {
	src := c.all
	if category != "" {
		src = c.byCategory[category]
	}
	out := make([]Topic, len(src))
	copy(out, src)
	return out
}

// Categories returns the sorted category names.
func (c *Catalog) Categories() []string {
	names := make([]string, 0, len(c.byCategory))
	for name := range c.byCategory {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of topics in the catalog.
func (c *Catalog) Len() int {
	return len(c.all)
}
