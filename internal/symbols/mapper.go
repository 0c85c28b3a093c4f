package symbols

import "strings"

// coinIDs maps the base asset of a trading pair to the market data
// provider's coin identifier.
var coinIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"BNB":   "binance-coin",
	"SOL":   "solana",
	"XRP":   "ripple",
	"ADA":   "cardano",
	"DOGE":  "dogecoin",
	"TRX":   "tron",
	"DOT":   "polkadot",
	"MATIC": "matic-network",
	"POL":   "matic-network",
	"LTC":   "litecoin",
	"LINK":  "chainlink",
	"AVAX":  "avalanche-2",
	"ATOM":  "cosmos",
	"XLM":   "stellar",
	"BCH":   "bitcoin-cash",
	"ETC":   "ethereum-classic",
	"UNI":   "uniswap",
	"SHIB":  "shiba-inu",
	"TON":   "the-open-network",
	"NEAR":  "near",
	"APT":   "aptos",
	"ARB":   "arbitrum",
	"OP":    "optimism",
	"FIL":   "filecoin",
	"ICP":   "internet-computer",
	"HBAR":  "hedera-hashgraph",
	"VET":   "vechain",
	"ALGO":  "algorand",
	"XMR":   "monero",
	"AAVE":  "aave",
	"SUI":   "sui",
	"PEPE":  "pepe",
	"USDT":  "tether",
	"USDC":  "usd-coin",
}

// quoteSuffixes are stripped from unknown symbols, longest first so USDT is
// not mistaken for USD.
var quoteSuffixes = []string{"usdt", "usdc", "busd", "tusd", "dai", "usd", "btc", "eth"}

// ToCoinID maps an exchange pair such as BTC_USDT to the provider coin id.
// Unknown pairs fall back to the lowercased base asset.
func ToCoinID(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return ""
	}
	if id, ok := coinIDs[baseAsset(sym)]; ok {
		return id
	}
	return fallbackCoinID(sym)
}

// baseAsset returns the part of a pair before its separator or quote.
func baseAsset(sym string) string {
	for _, sep := range []string{"_", "-", "/"} {
		if i := strings.Index(sym, sep); i > 0 {
			return sym[:i]
		}
	}
	lower := strings.ToLower(sym)
	for _, q := range quoteSuffixes {
		if strings.HasSuffix(lower, q) && len(lower) > len(q) {
			return sym[:len(sym)-len(q)]
		}
	}
	return sym
}

func fallbackCoinID(sym string) string {
	lower := strings.ToLower(sym)
	for _, sep := range []string{"_", "-", "/"} {
		if i := strings.Index(lower, sep); i > 0 {
			return lower[:i]
		}
	}
	for _, q := range quoteSuffixes {
		if strings.HasSuffix(lower, q) && len(lower) > len(q) {
			return strings.TrimSuffix(lower, q)
		}
	}
	return lower
}

// ToBinance converts BTC_USDT, BTC-USDT or btc/usdt into BTCUSDT.
func ToBinance(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	for _, sep := range []string{"_", "-", "/"} {
		sym = strings.ReplaceAll(sym, sep, "")
	}
	return sym
}

// FromBinance converts BTCUSDT back to BTC_USDT. Symbols without a known
// quote are returned unchanged.
func FromBinance(symbol string) string {
	sym := strings.ToUpper(symbol)
	if strings.Contains(sym, "_") {
		return sym
	}
	for _, q := range quoteSuffixes {
		quote := strings.ToUpper(q)
		if strings.HasSuffix(sym, quote) && len(sym) > len(quote) {
			return strings.TrimSuffix(sym, quote) + "_" + quote
		}
	}
	return sym
}
