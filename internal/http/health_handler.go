package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"visitly/internal/visits"
)

const healthPingTimeout = 2 * time.Second

// HealthStatus represents the health check response
type HealthStatus struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	StoreStatus string    `json:"store_status"`
}

// HealthIndexAction reports liveness and whether the visit store answers a ping.
// A failed ping degrades the status but still answers 200.
func HealthIndexAction(store visits.Store) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		health := HealthStatus{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			StoreStatus: "ok",
		}

		pingCtx, cancel := context.WithTimeout(ctx.UserContext(), healthPingTimeout)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			ctx.Logger.Error("Visit store ping failed", slog.Any("error", err))
			health.Status = "degraded"
			health.StoreStatus = "error"
		}

		return ctx.JSON(health)
	}
}
