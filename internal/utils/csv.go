package utils

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"trendBot/internal/domain"
)

var signalHeader = []string{
	"base_currency", "currency", "updated_at", "window_minutes", "sample_count",
	"past_price", "current_price", "percentage_gain", "slope", "slope_angle_degrees", "volatility_factor",
	"volume_24h", "highest_bid",
	"short_window_minutes", "short_sample_count", "short_percentage_gain", "short_slope_angle_degrees", "short_volatility_factor",
}

// WriteSignalsCSV writes signals as CSV rows with a header line.
func WriteSignalsCSV(w io.Writer, signals []domain.CurrencySignal) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(signalHeader); err != nil {
		return err
	}
	for _, s := range signals {
		if err := writer.Write([]string{
			s.BaseCurrency,
			s.Currency,
			s.UpdatedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(s.WindowMinutes),
			strconv.Itoa(s.SampleCount),
			formatFloat(s.PastPrice),
			formatFloat(s.CurrentPrice),
			formatFloat(s.PercentageGain),
			formatFloat(s.Slope),
			formatFloat(s.SlopeAngleDegrees),
			formatFloat(s.VolatilityFactor),
			formatFloat(s.Volume24h),
			formatFloat(s.HighestBid),
			strconv.Itoa(s.Short.WindowMinutes),
			strconv.Itoa(s.Short.SampleCount),
			formatFloat(s.Short.PercentageGain),
			formatFloat(s.Short.SlopeAngleDegrees),
			formatFloat(s.Short.VolatilityFactor),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteSignalsToCSV writes signals to filename, creating its directory if needed.
func WriteSignalsToCSV(signals []domain.CurrencySignal, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return WriteSignalsCSV(file, signals)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
