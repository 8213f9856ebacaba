package backend

import (
	"encoding/json"
	"fmt"

	"github.com/kkhwan1/bloomberg-data/quote"
)

// fixtureQuote is the minimal JSON document a local/dev backend
// returns. A real Bloomberg-page HTML parser is out of scope (§1);
// this stands in as the one concrete ParseFunc needed to drive the
// adapters against a test fixture or a hand-rolled local stub server.
type fixtureQuote struct {
	Price         float64  `json:"price"`
	Change        *float64 `json:"change"`
	ChangePercent *float64 `json:"change_percent"`
	Volume        *int64   `json:"volume"`
	DayHigh       *float64 `json:"day_high"`
	DayLow        *float64 `json:"day_low"`
	Open          *float64 `json:"open"`
	PreviousClose *float64 `json:"previous_close"`
	Currency      *string  `json:"currency"`
}

// FixtureParse decodes the JSON fixture shape into a Quote. Symbol and
// AssetClass are filled in by the calling adapter after Parse returns.
func FixtureParse(class quote.AssetClass, body []byte) (quote.Quote, error) {
	var fq fixtureQuote
	if err := json.Unmarshal(body, &fq); err != nil {
		return quote.Quote{}, fmt.Errorf("fixture parse: %w", err)
	}
	if fq.Price <= 0 {
		return quote.Quote{}, fmt.Errorf("fixture parse: non-positive price %v", fq.Price)
	}
	return quote.Quote{
		AssetClass:    class,
		Price:         fq.Price,
		Change:        fq.Change,
		ChangePercent: fq.ChangePercent,
		Volume:        fq.Volume,
		DayHigh:       fq.DayHigh,
		DayLow:        fq.DayLow,
		Open:          fq.Open,
		PreviousClose: fq.PreviousClose,
		Currency:      fq.Currency,
	}, nil
}
