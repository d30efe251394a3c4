package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"marketsnap/internal/market"
)

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol       string `json:"symbol"`
		Status       string `json:"status"`
		BaseAsset    string `json:"baseAsset"`
		QuoteAsset   string `json:"quoteAsset"`
		ContractType string `json:"contractType"`
	} `json:"symbols"`
}

type ratioRecord struct {
	Symbol         string    `json:"symbol"`
	LongShortRatio flexFloat `json:"longShortRatio"`
	LongAccount    flexFloat `json:"longAccount"`
	ShortAccount   flexFloat `json:"shortAccount"`
	Timestamp      flexFloat `json:"timestamp"`
}

// flexFloat decodes numbers that Binance sends either quoted or bare.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	v, err := parseNumber(data)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

func parseNumber(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("missing number")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		return strconv.ParseFloat(s, 64)
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// decodeKline reads [openTime, open, high, low, close, volume, closeTime, quoteVolume, ...].
func decodeKline(row []json.RawMessage) (market.Kline, error) {
	if len(row) < 8 {
		return market.Kline{}, fmt.Errorf("expected at least 8 fields, got %d", len(row))
	}

	fields := make([]float64, 8)
	for i := 0; i < 8; i++ {
		if i == 5 || i == 6 {
			continue
		}
		v, err := parseNumber(row[i])
		if err != nil {
			return market.Kline{}, fmt.Errorf("field %d: %w", i, err)
		}
		fields[i] = v
	}

	return market.Kline{
		OpenTime:    time.UnixMilli(int64(fields[0])).UTC(),
		Open:        fields[1],
		High:        fields[2],
		Low:         fields[3],
		Close:       fields[4],
		QuoteVolume: fields[7],
	}, nil
}
