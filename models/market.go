package models

// Coin is one entry of the market data coin listing.
type Coin struct {
	ID              string  `json:"id"`
	Icon            string  `json:"icon,omitempty"`
	Name            string  `json:"name"`
	Symbol          string  `json:"symbol"`
	Rank            int     `json:"rank"`
	Price           float64 `json:"price"`
	Volume          float64 `json:"volume"`
	MarketCap       float64 `json:"marketCap"`
	AvailableSupply float64 `json:"availableSupply,omitempty"`
	TotalSupply     float64 `json:"totalSupply,omitempty"`
	PriceChange1h   float64 `json:"priceChange1h"`
	PriceChange1d   float64 `json:"priceChange1d"`
	PriceChange1w   float64 `json:"priceChange1w"`
}

type CoinList struct {
	Result []Coin    `json:"result"`
	Meta   *PageMeta `json:"meta,omitempty"`
}

type PageMeta struct {
	Page      int `json:"page"`
	Limit     int `json:"limit"`
	ItemCount int `json:"itemCount"`
	PageCount int `json:"pageCount"`
}

// MarketOverview is the global market summary.
type MarketOverview struct {
	MarketCap          float64 `json:"marketCap"`
	Volume             float64 `json:"volume"`
	BTCDominance       float64 `json:"btcDominance"`
	MarketCapChange    float64 `json:"marketCapChange"`
	VolumeChange       float64 `json:"volumeChange"`
	BTCDominanceChange float64 `json:"btcDominanceChange"`
}

type NewsItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Link        string `json:"link"`
	Source      string `json:"source"`
	ImgURL      string `json:"imgUrl,omitempty"`
	FeedDate    int64  `json:"feedDate"`
}

type NewsList struct {
	Result []NewsItem `json:"result"`
}

// ChartRecord is a coin's price series. Each point is at least
// [epochSeconds, price]; extra columns are ignored.
type ChartRecord struct {
	CoinID string      `json:"coinId"`
	Chart  [][]float64 `json:"chart"`
	Error  string      `json:"errorMessage,omitempty"`
}

// Data source tags.
const (
	SourceReal     = "real"
	SourceNoData   = "no_data"
	SourceFallback = "fallback"
	SourceCache    = "cache"
	SourceAPI      = "api"
)

// ChangeResult carries chart-derived changes keyed by period name (1h..180d).
type ChangeResult struct {
	Changes      map[string]float64 `json:"changes"`
	Source       string             `json:"source"`
	CurrentPrice float64            `json:"current_price,omitempty"`
}

// HistoricalResult is the outcome of a multi-coin chart request.
type HistoricalResult struct {
	Data   []ChartRecord `json:"data"`
	Source string        `json:"source"`
	Error  string        `json:"error,omitempty"`
}
