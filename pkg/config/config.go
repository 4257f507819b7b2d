package config

import "os"

// Config holds server configuration.
type Config struct {
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisAddr      string
	CasesURL       string
	CasesToken     string
	ConnectorsFile string
	JWTSecret      string
	OTLPEndpoint   string
	Environment    string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Default to a local file-backed sqlite ledger
		dbURL = "sqlite://warden.db"
	}

	connectorsFile := os.Getenv("CONNECTORS_FILE")
	if connectorsFile == "" {
		connectorsFile = "connectors.yaml"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	return &Config{
		Port:           port,
		LogLevel:       logLevel,
		DatabaseURL:    dbURL,
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		CasesURL:       os.Getenv("CASES_URL"),
		CasesToken:     os.Getenv("CASES_TOKEN"),
		ConnectorsFile: connectorsFile,
		JWTSecret:      os.Getenv("JWT_SECRET"),
		OTLPEndpoint:   os.Getenv("OTLP_ENDPOINT"),
		Environment:    env,
	}
}
