package domain

// Intent is the coarse category of a question.
type Intent string

const (
	IntentSales     Intent = "sales"
	IntentInventory Intent = "inventory"
	IntentCustomers Intent = "customers"
	IntentOrders    Intent = "orders"
	IntentAmbiguous Intent = "ambiguous"
)

// Valid reports whether i is one of the known intents, including ambiguous.
func (i Intent) Valid() bool {
	switch i {
	case IntentSales, IntentInventory, IntentCustomers, IntentOrders, IntentAmbiguous:
		return true
	}
	return false
}

// Confidence is the coarse certainty attached to classifications and answers.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

var confidenceRank = map[Confidence]int{
	ConfidenceLow:    0,
	ConfidenceMedium: 1,
	ConfidenceHigh:   2,
}

// Valid reports whether c is a known confidence tier.
func (c Confidence) Valid() bool {
	_, ok := confidenceRank[c]
	return ok
}

// Lower returns the lower of c and other. Unknown values rank as low.
func (c Confidence) Lower(other Confidence) Confidence {
	if confidenceRank[other] < confidenceRank[c] {
		return other
	}
	if !c.Valid() {
		return ConfidenceLow
	}
	return c
}

// Downgrade returns the next lower tier, bottoming out at low.
func (c Confidence) Downgrade() Confidence {
	switch c {
	case ConfidenceHigh:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
