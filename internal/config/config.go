package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/abhinavp13/Ubiquitous/internal/weather"
)

// Transport names accepted in SYNC_TRANSPORT.
const (
	TransportMemory = "memory"
	TransportMQTT   = "mqtt"
	TransportKafka  = "kafka"
)

// Store drivers accepted in STORE_DRIVER.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type AppConfig struct {
	// Transport selects the data-layer driver.
	Transport string `validate:"oneof=memory mqtt kafka"`
	SyncPath  string `validate:"required,startswith=/"`

	MQTTBroker   string `validate:"required_if=Transport mqtt"`
	MQTTQoS      int    `validate:"min=0,max=2"`
	MQTTUsername string
	MQTTPassword string
	MQTTRoot     string

	KafkaBrokers []string `validate:"required_if=Transport kafka"`
	KafkaTopic   string   `validate:"required_if=Transport kafka"`

	ConnectTimeout time.Duration `validate:"min=0"`
	// SuspendTimeout of zero leaves a suspended connection waiting indefinitely.
	SuspendTimeout time.Duration `validate:"min=0"`

	ReconnectInterval time.Duration `validate:"gt=0"`

	PublishTimeout    time.Duration `validate:"gt=0"`
	PublishInterval   time.Duration `validate:"gt=0"`
	PublishMaxRetries int           `validate:"min=0"`

	StoreDriver     string `validate:"oneof=memory sqlite postgres"`
	StoreDSN        string `validate:"required_unless=StoreDriver memory"`
	StoreMaxHistory int           // max number of observations per location (0 = unlimited)
	StoreMaxAge     time.Duration // max age of observations (0 = unlimited)

	OpenWeatherAPIKey string
	WeatherAPIKey     string
	HTTPTimeout       time.Duration
	Units             weather.Units `validate:"oneof=metric imperial"`

	Location weather.Location

	// Consumers lists the companion render consumers, one subscriber each.
	Consumers []string `validate:"min=1,dive,required"`

	Port string `validate:"required,numeric"`
}

var validate = validator.New()

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}
	var err error

	cfg.Transport = strings.ToLower(getenvDefault("SYNC_TRANSPORT", TransportMemory))
	cfg.SyncPath = getenvDefault("SYNC_PATH", weather.DefaultPath)

	cfg.MQTTBroker = getenvDefault("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTTQoS = getenvInt("MQTT_QOS", 1)
	cfg.MQTTUsername = os.Getenv("MQTT_USERNAME")
	cfg.MQTTPassword = os.Getenv("MQTT_PASSWORD")
	cfg.MQTTRoot = getenvDefault("MQTT_ROOT", "weather-sync")

	cfg.KafkaBrokers = splitList(getenvDefault("KAFKA_BROKERS", "localhost:9092"))
	cfg.KafkaTopic = getenvDefault("KAFKA_TOPIC", "wearable-sync")

	if cfg.ConnectTimeout, err = getenvDuration("CONNECT_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.SuspendTimeout, err = getenvDuration("SUSPEND_TIMEOUT", "2m"); err != nil {
		return nil, err
	}
	if cfg.ReconnectInterval, err = getenvDuration("RECONNECT_INTERVAL", "30s"); err != nil {
		return nil, err
	}
	if cfg.PublishTimeout, err = getenvDuration("PUBLISH_TIMEOUT", "5s"); err != nil {
		return nil, err
	}
	if cfg.PublishInterval, err = getenvDuration("PUBLISH_INTERVAL", "15m"); err != nil {
		return nil, err
	}
	cfg.PublishMaxRetries = getenvInt("PUBLISH_MAX_RETRIES", 3)

	// Store retention.
	cfg.StoreDriver = strings.ToLower(getenvDefault("STORE_DRIVER", StoreMemory))
	cfg.StoreDSN = getenvDefault("STORE_DSN", "file:weather.db")
	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 96) // roughly 24h at 15-minute intervals
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", "24h"); err != nil {
		return nil, err
	}

	cfg.OpenWeatherAPIKey = os.Getenv("OPENWEATHER_API_KEY")
	cfg.WeatherAPIKey = os.Getenv("WEATHERAPI_API_KEY")
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	cfg.Units = weather.Units(strings.ToLower(getenvDefault("WEATHER_UNITS", string(weather.UnitsMetric))))

	if cfg.Location, err = loadPrimaryLocation(); err != nil {
		return nil, err
	}

	cfg.Consumers = splitList(getenvDefault("COMPANION_CONSUMERS", "watchface,companion"))
	cfg.Port = getenvDefault("PORT", "8080")

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadPrimaryLocation() (weather.Location, error) {
	loc := weather.Location{
		City:    strings.TrimSpace(os.Getenv("WEATHER_LOCATION_CITY")),
		Country: strings.TrimSpace(os.Getenv("WEATHER_LOCATION_COUNTRY")),
	}
	if loc.City == "" && loc.Country != "" {
		return loc, fmt.Errorf("WEATHER_LOCATION_COUNTRY set without WEATHER_LOCATION_CITY")
	}

	lat, lon := os.Getenv("WEATHER_LOCATION_LAT"), os.Getenv("WEATHER_LOCATION_LON")
	if lat != "" && lon != "" {
		la, err := strconv.ParseFloat(lat, 64)
		if err != nil {
			return loc, fmt.Errorf("invalid WEATHER_LOCATION_LAT: %w", err)
		}
		lo, err := strconv.ParseFloat(lon, 64)
		if err != nil {
			return loc, fmt.Errorf("invalid WEATHER_LOCATION_LON: %w", err)
		}
		loc.Lat, loc.Lon = &la, &lo
	}
	return loc, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
