package notify

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

func RegisterRoutes(r fiber.Router, bus *Bus) {
	r.Get("/ws/threshold", upgradeOnly, websocket.New(func(c *websocket.Conn) {
		serve(c, bus, TopicArchivedThreshold, time.Time{})
	}))

	r.Get("/ws/status", func(c *fiber.Ctx) error {
		var after time.Time
		if raw := c.Query("after"); raw != "" {
			parsed, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "after must be an RFC3339 timestamp")
			}
			after = parsed.UTC()
		}
		c.Locals("after", after)
		return upgradeOnly(c)
	}, websocket.New(func(c *websocket.Conn) {
		after, _ := c.Locals("after").(time.Time)
		serve(c, bus, TopicStatusChanged, after)
	}))
}

func upgradeOnly(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

func serve(c *websocket.Conn, bus *Bus, topic Topic, after time.Time) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := bus.Subscribe(ctx, topic, after)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.C() {
			if err := c.WriteJSON(ev); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
	sub.Close()
	<-done
}
