package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/abhinavp13/Ubiquitous/internal/weather"
)

// OpenMeteoProvider implements the weather.Provider interface for Open-Meteo.
type OpenMeteoProvider struct {
	name    string
	baseURL string
	up      *upstream
}

func NewOpenMeteoProvider(client *http.Client) *OpenMeteoProvider {
	return &OpenMeteoProvider{
		name:    "openmeteo",
		baseURL: "https://api.open-meteo.com/v1/forecast",
		up:      newUpstream("openmeteo", client),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

func (p *OpenMeteoProvider) Fetch(ctx context.Context, loc weather.Location) (weather.ProviderReading, error) {
	if loc.Lat == nil || loc.Lon == nil {
		return weather.ProviderReading{}, fmt.Errorf("openmeteo requires latitude and longitude")
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", fmt.Sprintf("%f", *loc.Lat))
		values.Set("longitude", fmt.Sprintf("%f", *loc.Lon))
		values.Set("daily", "weathercode,temperature_2m_max,temperature_2m_min")
		values.Set("forecast_days", "1")
		values.Set("timezone", "UTC")

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := p.up.get(ctx, buildRequest)
	if err != nil {
		return weather.ProviderReading{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		Daily struct {
			Time        []string  `json:"time"`
			WeatherCode []int     `json:"weathercode"`
			TempMax     []float64 `json:"temperature_2m_max"`
			TempMin     []float64 `json:"temperature_2m_min"`
		} `json:"daily"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.ProviderReading{}, err
	}

	d := payload.Daily
	if len(d.WeatherCode) == 0 || len(d.TempMax) == 0 || len(d.TempMin) == 0 {
		return weather.ProviderReading{}, fmt.Errorf("openmeteo response has no daily data")
	}

	ts := time.Now().UTC()
	if len(d.Time) > 0 {
		if parsed, err := time.Parse("2006-01-02", d.Time[0]); err == nil {
			ts = parsed.UTC()
		}
	}

	return weather.ProviderReading{
		ProviderName: p.name,
		Timestamp:    ts,
		ConditionID:  mapOpenMeteoCondition(d.WeatherCode[0]),
		MaxTempC:     d.TempMax[0],
		MinTempC:     d.TempMin[0],
	}, nil
}

// mapOpenMeteoCondition translates WMO weather codes into the
// OpenWeatherMap classification used on the sync channel.
func mapOpenMeteoCondition(code int) int {
	switch {
	case code == 0:
		return 800
	case code == 1:
		return 801
	case code == 2:
		return 802
	case code == 3:
		return 804
	case code == 45 || code == 48:
		return 741
	case code >= 51 && code <= 57:
		return 300
	case code == 61:
		return 500
	case code == 63:
		return 501
	case code == 65:
		return 502
	case code == 66 || code == 67:
		return 511
	case code >= 71 && code <= 77:
		return 601
	case code >= 80 && code <= 82:
		return 521
	case code == 85 || code == 86:
		return 621
	case code >= 95:
		return 211
	default:
		return 0
	}
}
