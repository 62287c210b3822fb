package config

import "time"

type MapsConfig struct {
	Enabled    bool              `yaml:"enabled"`
	Timeout    time.Duration     `yaml:"timeout"`
	GoogleMaps *GoogleMapsConfig `yaml:"google_maps"`
}

type GoogleMapsConfig struct {
	APIKey string `yaml:"api_key"`
	Region string `yaml:"region"`
}

func loadMapsConfig() *MapsConfig {
	apiKey := getEnv("GOOGLE_MAPS_API_KEY", "")
	return &MapsConfig{
		Enabled: getEnvAsBool("MAPS_ENABLED", apiKey != ""),
		Timeout: getEnvAsDuration("MAPS_TIMEOUT", 5*time.Second),
		GoogleMaps: &GoogleMapsConfig{
			APIKey: apiKey,
			Region: getEnv("GOOGLE_MAPS_REGION", ""),
		},
	}
}
