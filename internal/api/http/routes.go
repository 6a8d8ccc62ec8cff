package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abhinavp13/Ubiquitous/internal/connection"
	"github.com/abhinavp13/Ubiquitous/internal/publisher"
	"github.com/abhinavp13/Ubiquitous/internal/render"
	"github.com/abhinavp13/Ubiquitous/internal/store"
	"github.com/abhinavp13/Ubiquitous/internal/weather"
)

var validate = validator.New()

// StatusSource reports a connection manager's state.
type StatusSource interface {
	Status() connection.Status
}

// SnapshotService is the primary device's snapshot store; *weather.Service implements it.
type SnapshotService interface {
	Save(ctx context.Context, loc weather.Location, snap weather.Snapshot) (weather.Observation, error)
	GetLatest(ctx context.Context, loc weather.Location) (weather.Observation, error)
	GetRange(ctx context.Context, loc weather.Location, from, to time.Time) ([]weather.Observation, error)
}

// Publisher pushes snapshots; *publisher.Publisher implements it.
type Publisher interface {
	Publish(ctx context.Context, snap weather.Snapshot) error
	PublishLatest(ctx context.Context) error
}

// ErrorHandler renders every error as the JSON envelope clients expect.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// RequestID tags every response with an X-Request-ID, reusing the caller's when present.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(fiber.HeaderXRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(fiber.HeaderXRequestID, id)
		return c.Next()
	}
}

// RegisterStatusRoutes wires the routes shared by both roles.
func RegisterStatusRoutes(app *fiber.App, conn StatusSource, reg *prometheus.Registry) {
	if reg != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}

	app.Get("/api/v1/connection", func(c *fiber.Ctx) error {
		return c.JSON(conn.Status())
	})
}

// RegisterPrimaryRoutes wires snapshot ingest, lookup and manual publish.
func RegisterPrimaryRoutes(app *fiber.App, service SnapshotService, pub Publisher, defaultLoc weather.Location) {
	v1 := app.Group("/api/v1")

	v1.Put("/snapshot", func(c *fiber.Ctx) error {
		var req snapshotRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		loc := req.location(defaultLoc)
		snap := req.snapshot()
		obs, err := service.Save(c.UserContext(), loc, snap)
		if err != nil {
			if errors.Is(err, weather.ErrIncompleteSnapshot) {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to store snapshot")
		}

		resp := fiber.Map{"observation": obs, "published": false}
		if loc.Key() == defaultLoc.Key() {
			if perr := pub.Publish(c.UserContext(), snap); perr != nil {
				resp["publishError"] = perr.Error()
			} else {
				resp["published"] = true
			}
		}
		return c.Status(fiber.StatusAccepted).JSON(resp)
	})

	v1.Get("/snapshot/latest", func(c *fiber.Ctx) error {
		loc, err := parseLocationQuery(c, defaultLoc)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		obs, err := service.GetLatest(c.UserContext(), loc)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no snapshot for requested location")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch snapshot")
		}
		return c.JSON(obs)
	})

	v1.Get("/snapshot/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c, defaultLoc); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		observations, err := service.GetRange(c.UserContext(), req.Location, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no snapshot history for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch snapshot history")
		}
		return c.JSON(fiber.Map{
			"location":     req.Location,
			"from":         req.From,
			"to":           req.To,
			"observations": observations,
		})
	})

	v1.Post("/publish", func(c *fiber.Ctx) error {
		err := pub.PublishLatest(c.UserContext())
		var failure *publisher.PublishFailure
		switch {
		case err == nil:
			return c.JSON(fiber.Map{"published": true})
		case errors.Is(err, publisher.ErrNotConnected):
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		case errors.Is(err, publisher.ErrNoSnapshot):
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		case errors.Is(err, publisher.ErrInvalidSnapshot):
			return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
		case errors.As(err, &failure):
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		default:
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
	})
}

// RegisterCompanionRoutes exposes the render state of every consumer loop.
func RegisterCompanionRoutes(app *fiber.App, loops []*render.Loop) {
	byName := make(map[string]*render.Loop, len(loops))
	for _, l := range loops {
		byName[l.Name()] = l
	}
	v1 := app.Group("/api/v1")

	v1.Get("/render", func(c *fiber.Ctx) error {
		out := make(map[string]renderView, len(loops))
		for _, l := range loops {
			out[l.Name()] = newRenderView(l.Current())
		}
		return c.JSON(out)
	})

	v1.Get("/render/:consumer", func(c *fiber.Ctx) error {
		l, ok := byName[c.Params("consumer")]
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "unknown consumer")
		}
		return c.JSON(newRenderView(l.Current()))
	})

	v1.Post("/render/dismiss", func(c *fiber.Ctx) error {
		targets := loops
		if name := c.Query("consumer"); name != "" {
			l, ok := byName[name]
			if !ok {
				return fiber.NewError(fiber.StatusNotFound, "unknown consumer")
			}
			targets = []*render.Loop{l}
		}
		for _, l := range targets {
			if err := l.Dismiss(c.UserContext()); err != nil {
				return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
			}
		}
		return c.SendStatus(fiber.StatusAccepted)
	})
}

// snapshotRequest is the body of PUT /api/v1/snapshot.
type snapshotRequest struct {
	ConditionID int    `json:"conditionId" validate:"required,gt=0"`
	MaxTemp     string `json:"maxTemp" validate:"required"`
	MinTemp     string `json:"minTemp" validate:"required"`
	City        string `json:"city" validate:"required_with=Country"`
	Country     string `json:"country"`
}

func (r snapshotRequest) snapshot() weather.Snapshot {
	return weather.Snapshot{ConditionID: r.ConditionID, MaxTemp: r.MaxTemp, MinTemp: r.MinTemp}
}

func (r snapshotRequest) location(def weather.Location) weather.Location {
	if r.City == "" {
		return def
	}
	return weather.Location{City: r.City, Country: r.Country}
}

type renderView struct {
	render.State
	Placeholders []string `json:"placeholders,omitempty"`
}

func newRenderView(s render.State) renderView {
	return renderView{State: s, Placeholders: (render.AllFields &^ s.Real).Names()}
}

// locationQuery holds query parameters for identifying a location. Without
// any, the primary's configured location is used.
type locationQuery struct {
	City    string `validate:"required"`
	Country string
}

func parseLocationQuery(c *fiber.Ctx, def weather.Location) (weather.Location, error) {
	q := locationQuery{City: c.Query("city"), Country: c.Query("country")}
	if q.City == "" && q.Country == "" {
		return def, nil
	}
	if err := validate.Struct(q); err != nil {
		return weather.Location{}, err
	}
	if q.City == def.City && q.Country == def.Country {
		return def, nil
	}
	return weather.Location{City: q.City, Country: q.Country}, nil
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	Location weather.Location `validate:"-"`
	From     time.Time        `validate:"required"`
	To       time.Time        `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx, def weather.Location) error {
	loc, err := parseLocationQuery(c, def)
	if err != nil {
		return err
	}
	h.Location = loc

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
