package ledger

// Item is one catalog entry. Prices are denominated in the smallest unit of
// the payment currency, so a uint64 price of 1e18 represents one whole coin.
type Item struct {
	ID    uint64 `json:"id"`
	Title string `json:"title"`
	Price uint64 `json:"price"`
	Stock uint64 `json:"stock"`
}

// Active reports whether the item can currently be sold.
func (i Item) Active() bool {
	return i.Stock > 0
}
