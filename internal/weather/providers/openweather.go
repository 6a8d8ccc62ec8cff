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

// OpenWeatherProvider implements the weather.Provider interface for OpenWeatherMap.
// Its condition ids are the canonical classification used on the sync channel.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	up      *upstream
}

func NewOpenWeatherProvider(client *http.Client, apiKey string) *OpenWeatherProvider {
	return &OpenWeatherProvider{
		name:    "openweathermap",
		apiKey:  apiKey,
		baseURL: "https://api.openweathermap.org/data/2.5/weather",
		up:      newUpstream("openweather", client),
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

func (p *OpenWeatherProvider) Fetch(ctx context.Context, loc weather.Location) (weather.ProviderReading, error) {
	if p.apiKey == "" {
		return weather.ProviderReading{}, fmt.Errorf("openweather api key is not configured")
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("appid", p.apiKey)
		values.Set("units", "metric")

		if loc.Lat != nil && loc.Lon != nil {
			values.Set("lat", fmt.Sprintf("%f", *loc.Lat))
			values.Set("lon", fmt.Sprintf("%f", *loc.Lon))
		} else {
			q := loc.City
			if loc.Country != "" {
				q = fmt.Sprintf("%s,%s", loc.City, loc.Country)
			}
			values.Set("q", q)
		}

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := p.up.get(ctx, buildRequest)
	if err != nil {
		return weather.ProviderReading{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		Dt   int64 `json:"dt"`
		Main struct {
			TempMin float64 `json:"temp_min"`
			TempMax float64 `json:"temp_max"`
		} `json:"main"`
		Weather []struct {
			ID int `json:"id"`
		} `json:"weather"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.ProviderReading{}, err
	}
	if len(payload.Weather) == 0 {
		return weather.ProviderReading{}, fmt.Errorf("openweather response has no condition")
	}

	ts := time.Now().UTC()
	if payload.Dt > 0 {
		ts = time.Unix(payload.Dt, 0).UTC()
	}

	return weather.ProviderReading{
		ProviderName: p.name,
		Timestamp:    ts,
		ConditionID:  payload.Weather[0].ID,
		MaxTempC:     payload.Main.TempMax,
		MinTempC:     payload.Main.TempMin,
	}, nil
}
