package classifier

import "fmt"

// Category is the closed set of event kinds a transaction can map to.
type Category string

const (
	Exchange       Category = "exchange"
	CounterInit    Category = "counter_init"
	Create         Category = "create"
	Cancel         Category = "cancel"
	DirectTransfer Category = "direct_transfer"
	Unmapped       Category = "unmapped"
)

// Categories lists every category in stats order.
var Categories = []Category{Exchange, CounterInit, Create, Cancel, DirectTransfer, Unmapped}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// CarriesTrade reports whether events of this category have size and price.
func (c Category) CarriesTrade() bool {
	return c == Exchange || c == Create
}
