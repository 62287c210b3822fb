package config

import (
	"fmt"
	"time"
)

const (
	StoreMongoDB = "mongodb"
	StoreMemory  = "memory"
)

type DispatchConfig struct {
	StoreDriver           string        `yaml:"store_driver"`
	SearchRadiusKM        float64       `yaml:"search_radius_km"`
	MaxSearchRadiusKM     float64       `yaml:"max_search_radius_km"`
	MaxMatchAttempts      int           `yaml:"max_match_attempts"`
	CandidateLimit        int           `yaml:"candidate_limit"`
	DriverLocationMaxAge  time.Duration `yaml:"driver_location_max_age"`
	EmissionFactorKgPerKM float64       `yaml:"emission_factor_kg_per_km"`
	KgCO2PerTree          float64       `yaml:"kg_co2_per_tree"`
	BaseFare              float64       `yaml:"base_fare"`
	PerKMRate             float64       `yaml:"per_km_rate"`
	Currency              string        `yaml:"currency"`
	OTPLength             int           `yaml:"otp_length"`
	PickupCodeLength      int           `yaml:"pickup_code_length"`
	DispatchWorkers       int           `yaml:"dispatch_workers"`
	DispatchQueueSize     int           `yaml:"dispatch_queue_size"`
	TransitionRetries     int           `yaml:"transition_retries"`
}

// ClientConfig drives the rider/driver reconciliation session.
type ClientConfig struct {
	ServerURL         string        `yaml:"server_url"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	SearchTimeout     time.Duration `yaml:"search_timeout"`
	MaxSearchAttempts int           `yaml:"max_search_attempts"`
	ReconnectMin      time.Duration `yaml:"reconnect_min"`
	ReconnectMax      time.Duration `yaml:"reconnect_max"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

func loadDispatchConfig() *DispatchConfig {
	return &DispatchConfig{
		StoreDriver:           getEnv("STORE_DRIVER", StoreMongoDB),
		SearchRadiusKM:        getEnvAsFloat64("DISPATCH_SEARCH_RADIUS_KM", 5),
		MaxSearchRadiusKM:     getEnvAsFloat64("DISPATCH_MAX_SEARCH_RADIUS_KM", 25),
		MaxMatchAttempts:      getEnvAsInt("DISPATCH_MAX_MATCH_ATTEMPTS", 3),
		CandidateLimit:        getEnvAsInt("DISPATCH_CANDIDATE_LIMIT", 10),
		DriverLocationMaxAge:  getEnvAsDuration("DISPATCH_DRIVER_LOCATION_MAX_AGE", 10*time.Minute),
		EmissionFactorKgPerKM: getEnvAsFloat64("DISPATCH_EMISSION_FACTOR_KG_PER_KM", 0.25),
		KgCO2PerTree:          getEnvAsFloat64("DISPATCH_KG_CO2_PER_TREE", 21),
		BaseFare:              getEnvAsFloat64("DISPATCH_BASE_FARE", 2.5),
		PerKMRate:             getEnvAsFloat64("DISPATCH_PER_KM_RATE", 1.2),
		Currency:              getEnv("DISPATCH_CURRENCY", "USD"),
		OTPLength:             getEnvAsInt("DISPATCH_OTP_LENGTH", 4),
		PickupCodeLength:      getEnvAsInt("DISPATCH_PICKUP_CODE_LENGTH", 6),
		DispatchWorkers:       getEnvAsInt("DISPATCH_WORKERS", 4),
		DispatchQueueSize:     getEnvAsInt("DISPATCH_QUEUE_SIZE", 256),
		TransitionRetries:     getEnvAsInt("DISPATCH_TRANSITION_RETRIES", 3),
	}
}

func loadClientConfig() *ClientConfig {
	return &ClientConfig{
		ServerURL:         getEnv("CLIENT_SERVER_URL", "http://localhost:8080"),
		PollInterval:      getEnvAsDuration("CLIENT_POLL_INTERVAL", 3*time.Second),
		SearchTimeout:     getEnvAsDuration("CLIENT_SEARCH_TIMEOUT", 60*time.Second),
		MaxSearchAttempts: getEnvAsInt("CLIENT_MAX_SEARCH_ATTEMPTS", 3),
		ReconnectMin:      getEnvAsDuration("CLIENT_RECONNECT_MIN", time.Second),
		ReconnectMax:      getEnvAsDuration("CLIENT_RECONNECT_MAX", 30*time.Second),
		RequestTimeout:    getEnvAsDuration("CLIENT_REQUEST_TIMEOUT", 10*time.Second),
	}
}

func (d *DispatchConfig) validate() []error {
	var errs []error
	if d.SearchRadiusKM <= 0 || d.SearchRadiusKM > d.MaxSearchRadiusKM {
		errs = append(errs, fmt.Errorf("search radius %.2fkm must be in (0, %.2f]", d.SearchRadiusKM, d.MaxSearchRadiusKM))
	}
	if d.MaxMatchAttempts < 1 {
		errs = append(errs, fmt.Errorf("max match attempts must be positive, got %d", d.MaxMatchAttempts))
	}
	if d.CandidateLimit < 1 {
		errs = append(errs, fmt.Errorf("candidate limit must be positive, got %d", d.CandidateLimit))
	}
	if d.KgCO2PerTree <= 0 {
		errs = append(errs, fmt.Errorf("kg CO2 per tree must be positive, got %.2f", d.KgCO2PerTree))
	}
	if d.OTPLength < 4 || d.OTPLength > 8 {
		errs = append(errs, fmt.Errorf("otp length must be between 4 and 8, got %d", d.OTPLength))
	}
	if d.DispatchWorkers < 1 {
		errs = append(errs, fmt.Errorf("dispatch workers must be positive, got %d", d.DispatchWorkers))
	}
	return errs
}

func (c *ClientConfig) validate() []error {
	var errs []error
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if c.SearchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("search timeout must be positive, got %s", c.SearchTimeout))
	}
	if c.MaxSearchAttempts < 1 {
		errs = append(errs, fmt.Errorf("max search attempts must be positive, got %d", c.MaxSearchAttempts))
	}
	return errs
}
