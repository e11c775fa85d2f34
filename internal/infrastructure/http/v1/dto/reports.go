package dto

import "lotledger/internal/domain/reports"

// ProfitMarginQuery selects the report window. Bounds are inclusive.
type ProfitMarginQuery struct {
	From      string `form:"from"`
	To        string `form:"to"`
	ProductID string `form:"productId"`
}

// ToFilter parses the query.
func (q *ProfitMarginQuery) ToFilter() (reports.Filter, error) {
	var f reports.Filter
	var err error
	if f.From, err = ParseBound("from", q.From, false); err != nil {
		return f, err
	}
	if f.To, err = ParseBound("to", q.To, true); err != nil {
		return f, err
	}
	if q.ProductID != "" {
		productID, err := ParseID("productId", q.ProductID)
		if err != nil {
			return f, err
		}
		f.ProductID = &productID
	}
	return f, f.Validate()
}

// ExpiringQuery bounds the expiry scan.
type ExpiringQuery struct {
	WithinDays *int `form:"withinDays"`
}
