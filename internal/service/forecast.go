package service

import (
	"context"
	"fmt"

	"github.com/stockpulse/stockpulse/internal/dataflows"
	"github.com/stockpulse/stockpulse/internal/forecast"
)

const (
	defaultForecastDays = 7
	maxForecastDays     = 30
	defaultTrainPeriod  = "1y"
)

// ForecastService runs price predictions over cached market history.
type ForecastService struct {
	market   *MarketService
	registry *forecast.Registry
}

// NewForecastService wires the forecast service.
func NewForecastService(market *MarketService, registry *forecast.Registry) *ForecastService {
	return &ForecastService{market: market, registry: registry}
}

// Predict forecasts a ticker days forward with the named model. Empty model
// means the default; empty period trains on one year of daily bars; days
// outside [1, 30] is an error except 0, which means the default horizon.
func (fs *ForecastService) Predict(ctx context.Context, ticker, model string, days int, period string) (*forecast.Prediction, error) {
	if err := dataflows.ValidateSymbol(ticker); err != nil {
		return nil, err
	}
	if days == 0 {
		days = defaultForecastDays
	}
	if days < 1 || days > maxForecastDays {
		return nil, fmt.Errorf("forecast days must be between 1 and %d, got %d", maxForecastDays, days)
	}
	if period == "" {
		period = defaultTrainPeriod
	}
	if err := dataflows.ValidatePeriod(period); err != nil {
		return nil, err
	}

	predictor, err := fs.registry.Get(model)
	if err != nil {
		return nil, err
	}

	history, _, err := fs.market.History(ctx, ticker, period)
	if err != nil {
		return nil, fmt.Errorf("forecast inputs: %w", err)
	}

	return predictor.Predict(ctx, history, days)
}

// Models lists the available forecast models.
func (fs *ForecastService) Models() []forecast.ModelInfo {
	return fs.registry.List()
}
