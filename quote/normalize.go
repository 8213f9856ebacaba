package quote

import "strings"

// NormalizeClass lowercases an asset class string for cache-key identity.
func NormalizeClass(class string) string {
	return strings.ToLower(strings.TrimSpace(class))
}

// NormalizeSymbol uppercases a symbol string for cache-key identity.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// CacheKey builds the composite (class, symbol) identity string the
// cache indexes on.
func CacheKey(class AssetClass, symbol string) string {
	return NormalizeClass(string(class)) + ":" + NormalizeSymbol(symbol)
}
