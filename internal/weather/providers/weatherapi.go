package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/abhinavp13/Ubiquitous/internal/weather"
)

// WeatherAPIProvider implements the weather.Provider interface for WeatherAPI.com.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	up      *upstream
}

func NewWeatherAPIProvider(client *http.Client, apiKey string) *WeatherAPIProvider {
	return &WeatherAPIProvider{
		name:    "weatherapi",
		apiKey:  apiKey,
		baseURL: "https://api.weatherapi.com/v1/forecast.json",
		up:      newUpstream("weatherapi", client),
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

func (p *WeatherAPIProvider) Fetch(ctx context.Context, loc weather.Location) (weather.ProviderReading, error) {
	if p.apiKey == "" {
		return weather.ProviderReading{}, fmt.Errorf("weatherapi api key is not configured")
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("key", p.apiKey)
		values.Set("days", "1")
		// WeatherAPI uses "q" for location; it accepts "city,country" or "lat,lon".
		if loc.Lat != nil && loc.Lon != nil {
			values.Set("q", fmt.Sprintf("%f,%f", *loc.Lat, *loc.Lon))
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
		Forecast struct {
			ForecastDay []struct {
				DateEpoch int64 `json:"date_epoch"`
				Day       struct {
					MaxTempC  float64 `json:"maxtemp_c"`
					MinTempC  float64 `json:"mintemp_c"`
					Condition struct {
						Text string `json:"text"`
					} `json:"condition"`
				} `json:"day"`
			} `json:"forecastday"`
		} `json:"forecast"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.ProviderReading{}, err
	}
	if len(payload.Forecast.ForecastDay) == 0 {
		return weather.ProviderReading{}, fmt.Errorf("weatherapi response has no forecast day")
	}

	day := payload.Forecast.ForecastDay[0]
	ts := time.Now().UTC()
	if day.DateEpoch > 0 {
		ts = time.Unix(day.DateEpoch, 0).UTC()
	}

	return weather.ProviderReading{
		ProviderName: p.name,
		Timestamp:    ts,
		ConditionID:  mapWeatherAPICondition(day.Day.Condition.Text),
		MaxTempC:     day.Day.MaxTempC,
		MinTempC:     day.Day.MinTempC,
	}, nil
}

// mapWeatherAPICondition picks a representative OpenWeatherMap code for
// WeatherAPI's free-text condition.
func mapWeatherAPICondition(text string) int {
	switch {
	case text == "":
		return 0
	case contains(text, "thunder") || contains(text, "storm"):
		return 211
	case contains(text, "drizzle"):
		return 300
	case contains(text, "freezing rain"):
		return 511
	case contains(text, "shower"):
		return 521
	case contains(text, "heavy rain"):
		return 502
	case contains(text, "rain"):
		return 500
	case contains(text, "snow") || contains(text, "sleet") || contains(text, "blizzard"):
		return 601
	case contains(text, "fog") || contains(text, "mist"):
		return 741
	case contains(text, "overcast"):
		return 804
	case contains(text, "partly"):
		return 802
	case contains(text, "cloud"):
		return 803
	case contains(text, "sunny") || contains(text, "clear"):
		return 800
	default:
		return 0
	}
}

func contains(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
