package forecast

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stockpulse/stockpulse/internal/dataflows"
)

// Prediction is the standardized result envelope every model produces.
type Prediction struct {
	Ticker          string    `json:"ticker"`
	Model           string    `json:"model"`
	CurrentPrice    float64   `json:"current_price"`
	ForecastPrice   float64   `json:"forecast_price"`
	PercentChange   float64   `json:"percent_change"`
	ForecastDates   []string  `json:"forecast_dates"`
	ForecastPrices  []float64 `json:"forecast_prices"`
	UpperBound      []float64 `json:"upper_bound"`
	LowerBound      []float64 `json:"lower_bound"`
	Metrics         Metrics   `json:"metrics"`
	TrainingPoints  int       `json:"training_points"`
	ForecastDays    int       `json:"forecast_days"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// Metrics describes the fit quality of a model on its training window.
type Metrics struct {
	DailyDrift      float64 `json:"daily_drift"`
	DailyVolatility float64 `json:"daily_volatility"`
	MAE             float64 `json:"mae"`
}

// Predictor produces a price forecast from bar history.
type Predictor interface {
	Name() string
	Description() string
	Predict(ctx context.Context, history *dataflows.HistoryPayload, days int) (*Prediction, error)
}

// ModelInfo describes a registered model for the listing endpoint.
type ModelInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Default     bool   `json:"default"`
}

// Registry holds the available predictors. Safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	predictors  map[string]Predictor
	defaultName string
}

// NewRegistry returns a registry preloaded with the built-in models.
func NewRegistry() *Registry {
	r := &Registry{predictors: make(map[string]Predictor)}
	r.Register(NewDriftModel())
	r.defaultName = driftModelName
	return r
}

// Register adds a predictor under its own name, replacing any previous
// registration of the same name.
func (r *Registry) Register(p Predictor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predictors[p.Name()] = p
}

// Get resolves a model by name; an empty name resolves to the default.
func (r *Registry) Get(name string) (Predictor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.defaultName
	}
	p, ok := r.predictors[name]
	if !ok {
		return nil, fmt.Errorf("unknown forecast model %q", name)
	}
	return p, nil
}

// DefaultName returns the name of the default model.
func (r *Registry) DefaultName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// List returns every registered model, sorted by name.
func (r *Registry) List() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ModelInfo, 0, len(r.predictors))
	for name, p := range r.predictors {
		infos = append(infos, ModelInfo{
			Name:        name,
			Description: p.Description(),
			Default:     name == r.defaultName,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
