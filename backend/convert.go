package backend

import (
	"fmt"

	"github.com/kkhwan1/bloomberg-data/quote"
)

// ToFree converts a canonical symbol to the free backend's native
// identifier for the given asset class. The mapping is the finite
// table of §6; "index" has no free-backend form.
func ToFree(class quote.AssetClass, symbol string) (string, error) {
	symbol = quote.NormalizeSymbol(symbol)
	switch class {
	case quote.Stocks:
		return symbol, nil
	case quote.Forex:
		return symbol + "=X", nil
	case quote.Commodities:
		return symbol + "=F", nil
	case quote.Crypto:
		return canonicalCryptoToFree(symbol), nil
	case quote.Index:
		return "", fmt.Errorf("backend: %s has no free-backend form", class)
	default:
		return "", fmt.Errorf("backend: unrecognized asset class %q", class)
	}
}

// ToPaid converts a canonical symbol to the paid backend's native
// identifier for the given asset class.
func ToPaid(class quote.AssetClass, symbol string) (string, error) {
	symbol = quote.NormalizeSymbol(symbol)
	switch class {
	case quote.Stocks:
		return symbol + ":US", nil
	case quote.Forex:
		return symbol + ":CUR", nil
	case quote.Commodities:
		return symbol + "1:COM", nil
	case quote.Index:
		return symbol + ":IND", nil
	case quote.Crypto:
		return canonicalCryptoToPaid(symbol), nil
	default:
		return "", fmt.Errorf("backend: unrecognized asset class %q", class)
	}
}

// canonicalCryptoToFree maps e.g. BTCUSD -> BTC-USD.
func canonicalCryptoToFree(symbol string) string {
	base, quote := splitCryptoPair(symbol)
	return base + "-" + quote
}

// canonicalCryptoToPaid maps e.g. BTCUSD -> XBTUSD:CUR, per §6's table
// (Bitcoin's ISO 4217-style commodity code is XBT on this backend).
func canonicalCryptoToPaid(symbol string) string {
	base, quote := splitCryptoPair(symbol)
	if base == "BTC" {
		base = "XBT"
	}
	return base + quote + ":CUR"
}

// splitCryptoPair splits a canonical crypto pair like BTCUSD into its
// base and quote currency. Only 3-letter quote currencies are known
// (USD, EUR, GBP); everything before that is the base.
func splitCryptoPair(symbol string) (base, quoteCurrency string) {
	if len(symbol) <= 3 {
		return symbol, "USD"
	}
	return symbol[:len(symbol)-3], symbol[len(symbol)-3:]
}
