package price

// Catalog maps symbols to their summaries and remembers the order in which
// they were added.
type Catalog struct {
	order []string
	items map[string]Summary
}

func NewCatalog() *Catalog {
	return &Catalog{items: make(map[string]Summary)}
}

// Add inserts s. A repeated symbol replaces the earlier summary but keeps its
// original position.
func (c *Catalog) Add(s Summary) {
	if _, ok := c.items[s.Symbol]; !ok {
		c.order = append(c.order, s.Symbol)
	}
	c.items[s.Symbol] = s
}

func (c *Catalog) Get(symbol string) (Summary, bool) {
	s, ok := c.items[symbol]
	return s, ok
}

func (c *Catalog) Len() int { return len(c.order) }

// Summaries returns the entries in insertion order.
func (c *Catalog) Summaries() []Summary {
	out := make([]Summary, len(c.order))
	for i, sym := range c.order {
		out[i] = c.items[sym]
	}
	return out
}

// Symbols returns the symbol names in insertion order.
func (c *Catalog) Symbols() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}
