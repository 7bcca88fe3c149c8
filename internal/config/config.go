package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port        string
	LogLevel    string
	CORSOrigins []string

	MongoURI      string
	MongoDatabase string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string
	JWTTTL    time.Duration

	MailProvider   string
	MailFrom       string
	MailFromName   string
	SMTPHost       string
	SMTPPort       int
	SMTPUser       string
	SMTPPass       string
	SendGridAPIKey string
	ClinicEmail    string

	ClinicTimezone      string
	SlotBaseHour        int
	SlotDefaultCount    int
	SlotClosingTime     string
	BookingLookupPolicy string
	BookingSessionTTL   time.Duration
	VerificationCodeTTL time.Duration
	VerificationTries   int

	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	env := &envParser{}
	cfg := &Config{
		Port:        getEnv("API_PORT", "8080"),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),
		CORSOrigins: getEnvAsList("CORS_ORIGINS", []string{"http://localhost:3000"}),

		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "clinic"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       env.getEnvAsInt("REDIS_DB", 0),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTTTL:    env.getEnvAsDuration("JWT_TTL", 24*time.Hour),

		MailProvider:   strings.ToLower(getEnv("MAIL_PROVIDER", "stub")),
		MailFrom:       getEnv("MAIL_FROM", "no-reply@clinic.local"),
		MailFromName:   getEnv("MAIL_FROM_NAME", "Clinic"),
		SMTPHost:       getEnv("SMTP_HOST", ""),
		SMTPPort:       env.getEnvAsInt("SMTP_PORT", 587),
		SMTPUser:       getEnv("SMTP_USER", ""),
		SMTPPass:       getEnv("SMTP_PASS", ""),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
		ClinicEmail:    getEnv("CLINIC_EMAIL", ""),

		ClinicTimezone:      getEnv("CLINIC_TIMEZONE", "UTC"),
		SlotBaseHour:        env.getEnvAsInt("SLOT_BASE_HOUR", 8),
		SlotDefaultCount:    env.getEnvAsInt("SLOT_DEFAULT_COUNT", 8),
		SlotClosingTime:     getEnv("SLOT_CLOSING_TIME", "18:00"),
		BookingLookupPolicy: strings.ToLower(getEnv("BOOKING_LOOKUP_POLICY", "fail-closed")),
		BookingSessionTTL:   env.getEnvAsDuration("BOOKING_SESSION_TTL", 30*time.Minute),
		VerificationCodeTTL: env.getEnvAsDuration("VERIFICATION_CODE_TTL", 10*time.Minute),
		VerificationTries:   env.getEnvAsInt("VERIFICATION_MAX_ATTEMPTS", 5),

		KafkaBrokers: getEnvAsList("KAFKA_BROKERS", nil),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "clinic.appointments"),
	}
	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is not configured")
	}
	if _, err := time.LoadLocation(c.ClinicTimezone); err != nil {
		return errors.New("config: CLINIC_TIMEZONE is not a valid IANA zone")
	}
	switch c.MailProvider {
	case "smtp":
		if c.SMTPHost == "" {
			return errors.New("config: SMTP_HOST is required for the smtp mail provider")
		}
	case "sendgrid":
		if c.SendGridAPIKey == "" {
			return errors.New("config: SENDGRID_API_KEY is required for the sendgrid mail provider")
		}
	case "stub":
	default:
		return errors.New("config: MAIL_PROVIDER must be one of smtp, sendgrid, stub")
	}
	return nil
}

// Location returns the clinic time zone. Load has already validated it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envParser records values that are set but malformed, so Load can refuse
// them instead of silently using the default.
type envParser struct {
	errs []error
}

func (p *envParser) getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("config: %s=%q is not an integer", key, valueStr))
		return defaultValue
	}
	return value
}

func (p *envParser) getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("config: %s=%q is not a duration such as 30m", key, valueStr))
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
