package domain

// Holding represents a coin held in the user's portfolio.
type Holding struct {
	Symbol           string  `json:"symbol"`
	Quantity         float64 `json:"quantity"`
	AvgPurchasePrice float64 `json:"avg_purchase_price"`
	CurrentPrice     float64 `json:"current_price"`
	CostBasis        float64 `json:"cost_basis"`
	Value            float64 `json:"value"`
}

// ApplyBuy folds a buy fill into the holding, re-averaging the entry price.
func (h *Holding) ApplyBuy(qty, price float64) {
	if qty <= 0 {
		return
	}
	h.CostBasis += qty * price
	h.Quantity += qty
	if h.Quantity > 0 {
		h.AvgPurchasePrice = h.CostBasis / h.Quantity
	}
	h.CurrentPrice = price
	h.Value = h.Quantity * price
}

// ApplySell removes a sold quantity. Average price is unchanged by sells.
func (h *Holding) ApplySell(qty, price float64) {
	if qty > h.Quantity {
		qty = h.Quantity
	}
	h.Quantity -= qty
	h.CostBasis = h.Quantity * h.AvgPurchasePrice
	h.CurrentPrice = price
	h.Value = h.Quantity * price
	if h.Quantity <= 0 {
		h.Quantity = 0
		h.CostBasis = 0
		h.Value = 0
	}
}

// Portfolio is a snapshot of all holdings.
type Portfolio struct {
	Holdings []Holding `json:"holdings"`
}

func (p Portfolio) Find(symbol string) (Holding, bool) {
	for _, h := range p.Holdings {
		if h.Symbol == symbol {
			return h, true
		}
	}
	return Holding{}, false
}

func (p Portfolio) TotalValue() float64 {
	total := 0.0
	for _, h := range p.Holdings {
		total += h.Value
	}
	return total
}
