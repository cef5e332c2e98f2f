package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode
	HTTPAddr string

	DBDriver string // sqlite|postgres|memory
	DBDSN    string

	RedisAddr     string // empty disables the test cache
	RedisPassword string
	RedisTTLSec   int

	BlobBasePath string

	AuthHMACSecret  string
	EnableLocalAuth bool
	AdminUser       string
	AdminPassHash   string // bcrypt

	CORSOriginsOnline  []string
	CORSOriginsOffline []string

	ExpirySweepSpec     string
	ScoringPartialMulti bool

	LogFormat string // text|json
	LogLevel  string
}

// CORSOrigins picks the origin list for the current mode.
func (c Config) CORSOrigins() []string {
	if c.Mode == ModeOnline {
		return c.CORSOriginsOnline
	}
	return c.CORSOriginsOffline
}

// Load reads an optional .env file and then the environment. Variables
// already set win over the file.
func Load(files ...string) Config {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f) // missing files are fine
	}
	return FromEnv()
}

func FromEnv() Config {
	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	return Config{
		Mode:                mode,
		HTTPAddr:            envOr("HTTP_ADDR", ":8080"),
		DBDriver:            envOr("DB_DRIVER", "sqlite"),
		DBDSN:               envOr("DB_DSN", ""),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisTTLSec:         envInt("REDIS_TTL_SEC", 300),
		BlobBasePath:        envOr("BLOB_BASE_PATH", "./data"),
		AuthHMACSecret:      envOr("AUTH_HMAC_SECRET", "dev-secret-change-me"),
		EnableLocalAuth:     envBool("ENABLE_LOCAL_AUTH", true),
		AdminUser:           envOr("ADMIN_USER", "admin"),
		AdminPassHash:       envOr("ADMIN_PASS_HASH", "$2y$12$pyZAiWaTfVtM7UElIRStvOC3gNbnp70nmQU4eYopLGBfCJr1DOvji"),
		CORSOriginsOnline:   csvOr("CORS_ORIGINS_ONLINE", "https://assess.mindengage.ai"),
		CORSOriginsOffline:  csvOr("CORS_ORIGINS_OFFLINE", "http://localhost:3000,http://localhost:3010"),
		ExpirySweepSpec:     envOr("EXPIRY_SWEEP_SPEC", "@every 30s"),
		ScoringPartialMulti: envBool("SCORING_PARTIAL_MULTI", false),
		LogFormat:           envOr("LOG_FORMAT", "text"),
		LogLevel:            envOr("LOG_LEVEL", "info"),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func envInt(k string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(k)))
	if err != nil {
		return def
	}
	return v
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
