package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// HealthChecker is one dependency probe for the readiness endpoint.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

type CheckResult struct {
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

type RedisHealthChecker struct {
	client *redis.Client
}

func NewRedisHealthChecker(client *redis.Client) *RedisHealthChecker {
	return &RedisHealthChecker{client: client}
}

func (c *RedisHealthChecker) Name() string { return "redis" }

func (c *RedisHealthChecker) Check(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

type PostgresHealthChecker struct {
	db *sql.DB
}

func NewPostgresHealthChecker(db *sql.DB) *PostgresHealthChecker {
	return &PostgresHealthChecker{db: db}
}

func (c *PostgresHealthChecker) Name() string { return "postgres" }

func (c *PostgresHealthChecker) Check(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// HealthHandler runs all checkers in parallel and reports degraded with 503
// when any fails. Mounted at GET /health/ready and GET /health.
func HealthHandler(timeout time.Duration, checkers ...HealthChecker) http.Handler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		var mu sync.Mutex
		var wg sync.WaitGroup
		results := make(map[string]CheckResult, len(checkers))
		healthy := true

		for _, checker := range checkers {
			wg.Add(1)
			go func(c HealthChecker) {
				defer wg.Done()
				start := time.Now()
				err := c.Check(ctx)
				result := CheckResult{Status: "ok", Duration: time.Since(start).String()}
				if err != nil {
					result.Status = "unhealthy"
					result.Error = err.Error()
				}

				mu.Lock()
				results[c.Name()] = result
				if err != nil {
					healthy = false
				}
				mu.Unlock()
			}(checker)
		}
		wg.Wait()

		status := HealthStatus{Status: "healthy", Checks: results}
		code := http.StatusOK
		if !healthy {
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	})
}
