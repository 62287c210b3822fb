package handlers

import (
	"time"

	"ridedispatch/internal/models"
	"ridedispatch/internal/services"
	"ridedispatch/internal/utils"
	"ridedispatch/internal/validators"

	"github.com/gin-gonic/gin"
)

type DriverHandler struct {
	driverService services.DriverService
}

func NewDriverHandler(driverService services.DriverService) *DriverHandler {
	return &DriverHandler{driverService: driverService}
}

// Register creates or refreshes the profile of the authenticated driver.
// Availability is left untouched.
func (h *DriverHandler) Register(c *gin.Context) {
	driverID, _, ok := currentUser(c)
	if !ok {
		return
	}

	var req validators.DriverRegisterRequest
	if !bindJSON(c, &req) {
		return
	}

	driver := req.ToDriver()
	driver.ID = driverID

	stored, err := h.driverService.Register(c.Request.Context(), driver)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "Driver registered successfully", stored)
}

// SetStatus toggles whether the driver accepts rides
func (h *DriverHandler) SetStatus(c *gin.Context) {
	driverID, _, ok := currentUser(c)
	if !ok {
		return
	}

	var req validators.DriverStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	var location *models.Location
	if req.Location != nil && req.Location.HasCoordinates() {
		loc := req.Location.ToLocation()
		location = &loc
	}

	driver, err := h.driverService.SetOnline(c.Request.Context(), driverID, *req.Online, location)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "Driver status updated successfully", driver)
}

// UpdateLocation records a position tick sent over HTTP
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	driverID, _, ok := currentUser(c)
	if !ok {
		return
	}

	var req validators.DriverLocationRequest
	if !bindJSON(c, &req) {
		return
	}

	var at time.Time
	if req.Timestamp != nil {
		at = *req.Timestamp
	}

	result, err := h.driverService.UpdateLocation(c.Request.Context(), driverID, req.ToLocation(), at)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "Location updated", result)
}
