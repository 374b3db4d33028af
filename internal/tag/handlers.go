package tag

import (
	"strings"

	"backend-tagmap/internal/auth"
	"backend-tagmap/internal/shared/httperr"
	"backend-tagmap/internal/upvote"

	"github.com/gofiber/fiber/v2"
)

const degradedHeader = "X-Notification-Degraded"

// RegisterRoutes mounts the single-tag routes. Listing routes on the same
// group must be registered first so /nearby is not taken for an id.
func RegisterRoutes(r fiber.Router, e *Engine, optional, required fiber.Handler) {
	r.Post("/", required, func(c *fiber.Ctx) error {
		var in CreateInput
		if err := c.BodyParser(&in); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		res, err := e.CreateTag(c.UserContext(), in, auth.CallerFrom(c))
		if err != nil {
			return httperr.From(err)
		}
		markDegraded(c, res.Degraded)
		return c.Status(fiber.StatusCreated).JSON(res)
	})

	r.Get("/:id", optional, func(c *fiber.Ctx) error {
		t, err := e.GetTag(c.UserContext(), c.Params("id"))
		if err != nil {
			return httperr.From(err)
		}
		return c.JSON(t)
	})

	r.Patch("/:id", required, func(c *fiber.Ctx) error {
		var in UpdateInput
		if err := c.BodyParser(&in); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		res, err := e.UpdateTag(c.UserContext(), c.Params("id"), in, auth.CallerFrom(c))
		if err != nil {
			return httperr.From(err)
		}
		return c.JSON(res)
	})

	r.Get("/:id/status", optional, func(c *fiber.Ctx) error {
		rec, err := e.CurrentStatus(c.UserContext(), c.Params("id"))
		if err != nil {
			return httperr.From(err)
		}
		return c.JSON(rec)
	})

	r.Post("/:id/status", required, func(c *fiber.Ctx) error {
		var body struct {
			StatusName        string `json:"statusName"`
			Description       string `json:"description"`
			HasNumberOfUpVote bool   `json:"hasNumberOfUpVote"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		res, err := e.SetStatus(c.UserContext(), c.Params("id"), body.StatusName, body.Description, body.HasNumberOfUpVote, auth.CallerFrom(c))
		if err != nil {
			return httperr.From(err)
		}
		markDegraded(c, res.Degraded)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": res.Record, "degraded": res.Degraded})
	})

	r.Get("/:id/votes", optional, func(c *fiber.Ctx) error {
		state, err := e.VoteState(c.UserContext(), c.Params("id"), auth.CallerFrom(c).UID)
		if err != nil {
			return httperr.From(err)
		}
		return c.JSON(state)
	})

	r.Post("/:id/votes", required, func(c *fiber.Ctx) error {
		var body struct {
			Action string `json:"action"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		action, err := upvote.ParseAction(body.Action)
		if err != nil {
			return httperr.From(err)
		}
		res, err := e.ApplyUpVoteAction(c.UserContext(), c.Params("id"), action, auth.CallerFrom(c))
		if err != nil {
			return httperr.From(err)
		}
		markDegraded(c, res.Degraded)
		return c.JSON(res)
	})

	r.Post("/:id/votes/reset", required, func(c *fiber.Ctx) error {
		removed, err := e.ResetUpVotes(c.UserContext(), c.Params("id"), auth.CallerFrom(c))
		if err != nil {
			return httperr.From(err)
		}
		return c.JSON(fiber.Map{"removed": removed})
	})

	r.Post("/:id/views", optional, func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Params("id"))
		e.IncrementViewCount(c.UserContext(), id, auth.CallerFrom(c))
		return c.SendStatus(fiber.StatusAccepted)
	})
}

func markDegraded(c *fiber.Ctx, degraded bool) {
	if degraded {
		c.Set(degradedHeader, "true")
	}
}
