package rest

import (
	domainOffline "github.com/AzielCF/az-offline/domains/offline"
	"github.com/AzielCF/az-offline/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type Offline struct {
	Service domainOffline.IOfflineUsecase
}

func InitRestOffline(app fiber.Router, service domainOffline.IOfflineUsecase) Offline {
	rest := Offline{Service: service}

	group := app.Group("/offline")
	group.Get("/status", rest.Status)
	group.Post("/install", rest.Install)
	group.Post("/activate", rest.Activate)
	group.Post("/online", rest.Online)
	group.Post("/periodic-sync", rest.PeriodicSync)
	group.Get("/deferred", rest.ListDeferred)
	group.Post("/deferred", rest.EnqueueDeferred)
	group.Post("/push", rest.Push)
	group.Get("/refresh/:name", rest.Latest)
	group.Get("/pool/stats", rest.PoolStats)

	group.All("/*", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "API Endpoint not found",
			"path":  c.Path(),
		})
	})

	return rest
}

func (handler *Offline) Status(c *fiber.Ctx) error {
	status, err := handler.Service.Status(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Offline status retrieved",
		Results: status,
	})
}

func (handler *Offline) Install(c *fiber.Ctx) error {
	var req domainOffline.InstallRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(utils.ResponseData{
			Status:  400,
			Code:    "BAD_REQUEST",
			Message: err.Error(),
		})
	}

	snap, err := handler.Service.Install(c.UserContext(), req)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Version installed and activated",
		Results: snap,
	})
}

func (handler *Offline) Activate(c *fiber.Ctx) error {
	snap, err := handler.Service.Activate(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Activation completed",
		Results: snap,
	})
}

func (handler *Offline) Online(c *fiber.Ctx) error {
	report, err := handler.Service.Online(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Deferred writes replayed",
		Results: report,
	})
}

func (handler *Offline) PeriodicSync(c *fiber.Ctx) error {
	report, err := handler.Service.PeriodicSync(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Periodic refresh completed",
		Results: report,
	})
}

func (handler *Offline) ListDeferred(c *fiber.Ctx) error {
	items, err := handler.Service.ListDeferred(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Deferred writes retrieved",
		Results: items,
	})
}

func (handler *Offline) EnqueueDeferred(c *fiber.Ctx) error {
	var req domainOffline.EnqueueRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(utils.ResponseData{
			Status:  400,
			Code:    "BAD_REQUEST",
			Message: err.Error(),
		})
	}

	res, err := handler.Service.EnqueueDeferred(c.UserContext(), req)
	utils.PanicIfNeeded(err)

	return c.Status(fiber.StatusAccepted).JSON(utils.ResponseData{
		Status:  202,
		Code:    "QUEUED",
		Message: "Write queued for replay",
		Results: res,
	})
}

func (handler *Offline) Push(c *fiber.Ctx) error {
	note, err := handler.Service.Push(c.UserContext(), c.Body())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Notification delivered",
		Results: note,
	})
}

func (handler *Offline) Latest(c *fiber.Ctx) error {
	latest, err := handler.Service.Latest(c.UserContext(), c.Params("name"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Latest refreshed value",
		Results: latest,
	})
}

func (handler *Offline) PoolStats(c *fiber.Ctx) error {
	return c.JSON(handler.Service.PoolStats(c.UserContext()))
}
