package routes

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/image-cache/internal/imagecache"
	"github.com/any-hub/image-cache/internal/logging"
	"github.com/any-hub/image-cache/internal/registry"
	"github.com/any-hub/image-cache/internal/server"
	"github.com/any-hub/image-cache/internal/version"
)

// ImageDeps 汇总诊断接口所需依赖。
type ImageDeps struct {
	Cache           *imagecache.Cache
	Registry        *registry.Registry
	Logger          *logrus.Logger
	WarmConcurrency int
}

// RegisterImageRoutes 暴露 /-/images 诊断接口，供运维查询登记表、触发解析/预热与清空缓存。
func RegisterImageRoutes(app *fiber.App, deps ImageDeps) {
	if app == nil || deps.Cache == nil || deps.Registry == nil {
		return
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	app.Get("/-/images", func(c fiber.Ctx) error {
		entries := deps.Registry.Snapshot()
		if entries == nil {
			entries = []registry.Entry{}
		}
		return c.JSON(snapshotPayload{
			BaseDir:  deps.Cache.BaseDir(),
			Images:   entries,
			Count:    len(entries),
			InFlight: deps.Cache.InFlightCount(),
		})
	})

	app.Get("/-/images/resolve", func(c fiber.Ctx) error {
		source := strings.TrimSpace(c.Query("src"))
		if source == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "source_required"})
		}
		result, err := deps.Cache.Resolve(requestContext(c), source)
		return c.Status(resolveStatus(result, err)).JSON(encodeResult(result, err))
	})

	app.Post("/-/images/warm", func(c fiber.Ctx) error {
		var req warmRequest
		if err := c.Bind().JSON(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
		}
		sources := make([]string, 0, len(req.Sources))
		for _, source := range req.Sources {
			if trimmed := strings.TrimSpace(source); trimmed != "" {
				sources = append(sources, trimmed)
			}
		}
		if len(sources) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "sources_required"})
		}

		results := deps.Cache.Warm(requestContext(c), sources, deps.WarmConcurrency)
		payload := warmPayload{Results: make([]resultPayload, 0, len(results))}
		for _, item := range results {
			encoded := encodeResult(item.Result, item.Err)
			if item.Err != nil {
				payload.Failed++
			} else {
				payload.Succeeded++
			}
			payload.Results = append(payload.Results, encoded)
		}
		logger.WithFields(logrus.Fields{
			"action":     "image_warm",
			"requested":  len(sources),
			"succeeded":  payload.Succeeded,
			"failed":     payload.Failed,
			"request_id": server.RequestID(c),
		}).Info("image_warm_complete")
		return c.JSON(payload)
	})

	app.Delete("/-/images", func(c fiber.Ctx) error {
		if err := deps.Cache.ClearAll(requestContext(c)); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   "cache_clear_failed",
				"message": err.Error(),
			})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Get("/-/version", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"version": version.Version,
			"commit":  version.Commit,
		})
	})
}

type snapshotPayload struct {
	BaseDir  string           `json:"base_dir"`
	Images   []registry.Entry `json:"images"`
	Count    int              `json:"count"`
	InFlight int              `json:"in_flight"`
}

type warmRequest struct {
	Sources []string `json:"sources"`
}

type warmPayload struct {
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Results   []resultPayload `json:"results"`
}

type resultPayload struct {
	imagecache.Result
	Error string `json:"error,omitempty"`
}

func encodeResult(result imagecache.Result, err error) resultPayload {
	payload := resultPayload{Result: result}
	if err != nil {
		payload.Error = err.Error()
		if payload.Status == "" {
			payload.Status = imagecache.StatusFailed
		}
	}
	return payload
}

// resolveStatus 将解析结局映射为 HTTP 状态码：in-flight 视为已受理。
func resolveStatus(result imagecache.Result, err error) int {
	if errors.Is(err, imagecache.ErrEmptySource) {
		return fiber.StatusBadRequest
	}
	switch result.Status {
	case imagecache.StatusInFlight:
		return fiber.StatusAccepted
	case imagecache.StatusLocal, imagecache.StatusFetched, imagecache.StatusCached:
		return fiber.StatusOK
	default:
		return fiber.StatusBadGateway
	}
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
