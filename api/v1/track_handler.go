// Package v1 holds the public tracking API used by instrumented pages.
package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"visitly/internal/metrics"
	"visitly/internal/pkg/validation"
	"visitly/internal/tracking"
)

// acceptedEventKey is the fiber.Locals key under which an accepted tracking
// event is handed to the completion hook.
const acceptedEventKey = "visitly.accepted_event"

// TrackHandler accepts a page view event and dispatches its enrichment.
// The response is sent before the visit is written.
func TrackHandler(svc *tracking.Service) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		var ev tracking.Event
		if err := json.Unmarshal(ctx.Body(), &ev); err != nil {
			metrics.TrackEvents.WithLabelValues("invalid").Inc()
			ctx.Logger.Warn("Failed to parse tracking payload", slog.Any("error", err))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"success": false})
		}
		if err := validation.Struct(ev); err != nil {
			metrics.TrackEvents.WithLabelValues("invalid").Inc()
			return validationError(ctx, err)
		}

		meta := tracking.Meta{
			IP:         clientIP(ctx.Ctx),
			UserAgent:  ctx.Get(fiber.HeaderUserAgent),
			ReceivedAt: time.Now().UTC(),
		}
		if !svc.Track(ev, meta) {
			ctx.Logger.Warn("Write queue full, dropping tracking event",
				slog.String("session_id", ev.SessionID),
				slog.String("page", ev.Page))
			return ctx.JSON(fiber.Map{"success": true})
		}

		ctx.Locals(acceptedEventKey, ev)
		return ctx.JSON(fiber.Map{"success": true})
	}
}

// CompletionHook wraps the track route. Once the handler has accepted an event,
// it credits one page view and the visit duration to the (session, page) record.
func CompletionHook(svc *tracking.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		ev, ok := c.Locals(acceptedEventKey).(tracking.Event)
		if !ok {
			return err
		}
		seconds := tracking.CompletionSeconds(ev.Duration, time.Since(start))
		svc.Complete(ev.SessionID, ev.Page, seconds, time.Now())
		return err
	}
}

// ConversionHandler records a conversion label against the session's latest visit.
func ConversionHandler(svc *tracking.Service) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		var ev tracking.ConversionEvent
		if err := json.Unmarshal(ctx.Body(), &ev); err != nil {
			ctx.Logger.Warn("Failed to parse conversion payload", slog.Any("error", err))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"success": false})
		}
		if err := validation.Struct(ev); err != nil {
			return validationError(ctx, err)
		}

		if !svc.Convert(ev) {
			ctx.Logger.Warn("Write queue full, dropping conversion",
				slog.String("session_id", ev.SessionID),
				slog.String("conversion", ev.Conversion))
		}
		return ctx.JSON(fiber.Map{"success": true})
	}
}

// PreflightHandler answers CORS preflight requests.
func PreflightHandler(ctx *cartridge.Context) error {
	return ctx.SendStatus(fiber.StatusNoContent)
}

func validationError(ctx *cartridge.Context, err error) error {
	resp := fiber.Map{"success": false, "error": err.Error()}
	var fe *validation.FieldError
	if errors.As(err, &fe) {
		resp["field"] = fe.Field
	}
	ctx.Logger.Debug("Rejected tracking payload", slog.Any("error", err))
	return ctx.Status(http.StatusBadRequest).JSON(resp)
}
