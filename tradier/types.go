package tradier

type QuoteHistory struct {
	History struct {
		Day []Day `json:"day"`
	} `json:"history"`
}

type Day struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int     `json:"volume"`
}

// OHLC splits the last n days (all when n <= 0) into open, high, low and close series.
func (q *QuoteHistory) OHLC(n int) (opens, highs, lows, closes []float64) {
	days := q.History.Day
	if n > 0 && n < len(days) {
		days = days[len(days)-n:]
	}

	opens = make([]float64, len(days))
	highs = make([]float64, len(days))
	lows = make([]float64, len(days))
	closes = make([]float64, len(days))
	for i, day := range days {
		opens[i] = day.Open
		highs[i] = day.High
		lows[i] = day.Low
		closes[i] = day.Close
	}
	return opens, highs, lows, closes
}

// LastClose returns the most recent close, or false when the history is empty.
func (q *QuoteHistory) LastClose() (float64, bool) {
	days := q.History.Day
	if len(days) == 0 {
		return 0, false
	}
	return days[len(days)-1].Close, true
}
