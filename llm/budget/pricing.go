package budget

import "github.com/shopspring/decimal"

var million = decimal.NewFromInt(1_000_000)

// Pricing 将 Token 用量换算为费用，使用定点小数避免浮点误差。
type Pricing struct {
	PerMillionTokens decimal.Decimal `json:"per_million_tokens"`
}

// NewPricing parses a USD-per-million-tokens price such as "3.00".
func NewPricing(perMillion string) (Pricing, error) {
	if perMillion == "" {
		return Pricing{}, nil
	}
	d, err := decimal.NewFromString(perMillion)
	if err != nil {
		return Pricing{}, err
	}
	return Pricing{PerMillionTokens: d}, nil
}

// Cost returns the USD cost of tokens, rounded to 6 places.
func (p Pricing) Cost(tokens int64) decimal.Decimal {
	if p.PerMillionTokens.IsZero() || tokens <= 0 {
		return decimal.Zero
	}
	return p.PerMillionTokens.Mul(decimal.NewFromInt(tokens)).Div(million).Round(6)
}
