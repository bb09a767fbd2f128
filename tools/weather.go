package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/martinemde/coderoute/agentloop"
)

// DefaultWeatherBaseURL is the Visual Crossing timeline endpoint.
const DefaultWeatherBaseURL = "https://weather.visualcrossing.com/VisualCrossingWebServices/rest/services/timeline/"

// ErrNoWeatherKey is returned by NewWeather without an API key.
var ErrNoWeatherKey = errors.New("WEATHER_API_KEY is not set")

type currentConditions struct {
	Temp       *float64 `json:"temp"`
	Humidity   *float64 `json:"humidity"`
	WindSpeed  *float64 `json:"windspeed"`
	Conditions string   `json:"conditions"`
}

type timelineResponse struct {
	Current *currentConditions `json:"currentConditions"`
}

// NewWeather reports current conditions from the Visual Crossing API.
func NewWeather(client *http.Client, apiKey, baseURL string) (agentloop.Capability, error) {
	if apiKey == "" {
		return nil, ErrNoWeatherKey
	}
	if baseURL == "" {
		baseURL = DefaultWeatherBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if client == nil {
		client = http.DefaultClient
	}

	return agentloop.Func(agentloop.Descriptor{
		Name: "weathertool",
		Description: "Fetches current weather data for a given location using the Visual Crossing Weather API. " +
			"Returns temperature, humidity, wind speed, and weather conditions for the specified location.",
		Parameters: object([]string{"location"}, map[string]any{
			"location": prop("string", "City name, coordinates (lat,lon), or postal code for which to fetch weather."),
		}),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		location := agentloop.StringArgOr(args, "location", "")
		if location == "" {
			return nil, errors.New("'location' parameter is required")
		}

		q := url.Values{"unitGroup": {"metric"}, "key": {apiKey}, "include": {"current"}}
		endpoint := baseURL + url.PathEscape(location) + "?" + q.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetching weather data: %w", redactKey(err, apiKey))
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("fetching weather data: %s", resp.Status)
		}

		var data timelineResponse
		if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
			return nil, fmt.Errorf("fetching weather data: %w", err)
		}
		if data.Current == nil {
			return "Could not retrieve current weather conditions for the specified location.", nil
		}
		c := data.Current
		return fmt.Sprintf("Weather for '%s':\n- Temperature: %s°C\n- Humidity: %s%%\n- Wind Speed: %s km/h\n- Conditions: %s",
			location, number(c.Temp), number(c.Humidity), number(c.WindSpeed), c.Conditions), nil
	}), nil
}

func number(v *float64) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%g", *v)
}

// redactKey strips the key from transport errors, which quote the URL.
func redactKey(err error, key string) error {
	return errors.New(strings.ReplaceAll(err.Error(), url.QueryEscape(key), "REDACTED"))
}
