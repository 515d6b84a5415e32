package domain

// DefaultCurrency is applied when a product descriptor carries no currency code.
const DefaultCurrency = "EGP"

// LineItem is one purchasable selection in a cart: a product plus its chosen
// variant dimensions and quantity. Price is in currency minor units.
type LineItem struct {
	ProductID string  `json:"product_id"`
	Title     string  `json:"title"`
	ImageURL  string  `json:"image_url,omitempty"`
	Price     int64   `json:"price"`
	Currency  string  `json:"currency"`
	Size      *string `json:"size,omitempty"`
	Color     *string `json:"color,omitempty"`
	Quantity  int     `json:"quantity"`

	// Stock is a snapshot of available inventory at the time the item was
	// added. A value > 0 bounds quantity changes; 0 means no bound was
	// recorded. It is advisory, not authoritative.
	Stock int `json:"stock,omitempty"`
}

// SameEntry reports whether this line item and the given identity key refer to
// the same cart entry. Two entries match only when product ID, size, and color
// are all equal; an absent variant dimension (nil) matches only another absent
// one, never an empty string.
func (li *LineItem) SameEntry(productID string, size, color *string) bool {
	return li.ProductID == productID &&
		VariantEqual(li.Size, size) &&
		VariantEqual(li.Color, color)
}

// VariantEqual compares two optional variant dimensions. nil equals only nil.
func VariantEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ClampQuantity constrains q to [1, stock]. A stock of 0 means the bound is
// unknown and only the lower bound applies.
func ClampQuantity(q, stock int) int {
	if q < 1 {
		q = 1
	}
	if stock > 0 && q > stock {
		q = stock
	}
	return q
}

// Cart is an ordered collection of line items, insertion order preserved.
type Cart struct {
	OwnerID string     `json:"owner_id"`
	Items   []LineItem `json:"items"`
}

// TotalAmount returns the sum of price times quantity over all items, in
// minor units. Always recomputed from the current items.
func (c *Cart) TotalAmount() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.Price * int64(item.Quantity)
	}
	return total
}

// ItemCount returns the total number of units across all line items.
func (c *Cart) ItemCount() int {
	var count int
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

// Currency returns the cart's active currency, taken from the first entry.
// Mixed-currency carts are disallowed by convention upstream.
func (c *Cart) Currency() string {
	if len(c.Items) > 0 && c.Items[0].Currency != "" {
		return c.Items[0].Currency
	}
	return DefaultCurrency
}

// FindItemIndex returns the index of the line item matching the identity key
// (productID, size, color), or -1 when no entry matches. O(n) scan; carts are
// small by construction.
func (c *Cart) FindItemIndex(productID string, size, color *string) int {
	for i := range c.Items {
		if c.Items[i].SameEntry(productID, size, color) {
			return i
		}
	}
	return -1
}
