package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rolewarden/rolewarden/internal/domain/session"
)

// Config holds service configuration.
type Config struct {
	DatabaseURL       string
	DBMaxConns        int32
	ServerAddr        string
	MigrationsDir     string
	VoteDuration      time.Duration
	DefaultPolicy     session.Policy
	PrivilegedActors  []string
	APITokenHash      string
	AuditSigningKey   string
	ReconcileInterval time.Duration
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "rolewarden")
		pass := getenv("POSTGRES_PASSWORD", "rolewarden_pass")
		db := getenv("POSTGRES_DB", "rolewarden")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	policy := session.Policy{
		ApproveThreshold: parseFloat(getenv("VOTE_APPROVE_THRESHOLD", "0.5"), 0.5),
		MinParticipants:  parseInt(getenv("VOTE_MIN_PARTICIPANTS", "1"), 1),
		CountAbstain:     parseBool(getenv("VOTE_COUNT_ABSTAIN", "false"), false),
		TiesPass:         parseBool(getenv("VOTE_TIES_PASS", "false"), false),
		IgnoreWeights:    parseBool(getenv("VOTE_IGNORE_WEIGHTS", "false"), false),
		RetainBallots:    parseBool(getenv("VOTE_RETAIN_BALLOTS", "false"), false),
		PassCondition:    os.Getenv("VOTE_PASS_CONDITION"),
	}

	return &Config{
		DatabaseURL:       dsn,
		DBMaxConns:        int32(parseInt(getenv("DB_MAX_CONNS", "10"), 10)),
		ServerAddr:        getenv("SERVER_ADDR", "0.0.0.0:8080"),
		MigrationsDir:     getenv("MIGRATIONS_DIR", "internal/migrations"),
		VoteDuration:      parseDuration(getenv("VOTE_DURATION", "168h"), 168*time.Hour),
		DefaultPolicy:     policy,
		PrivilegedActors:  splitList(os.Getenv("PRIVILEGED_ACTORS")),
		APITokenHash:      os.Getenv("API_TOKEN_HASH"),
		AuditSigningKey:   os.Getenv("AUDIT_SIGNING_KEY"),
		ReconcileInterval: parseDuration(getenv("RECONCILE_INTERVAL", "1m"), time.Minute),
	}, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseBool(val string, def bool) bool {
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return i
}

func parseFloat(val string, def float64) float64 {
	if val == "" {
		return def
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return def
	}
	return f
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
