package handlers

import (
	"strings"

	"ridedispatch/internal/models"
	"ridedispatch/internal/services"
	"ridedispatch/internal/utils"
	"ridedispatch/internal/validators"

	"github.com/gin-gonic/gin"
)

type RideHandler struct {
	rideService      services.RideService
	lifecycleService services.LifecycleService
}

func NewRideHandler(rideService services.RideService, lifecycleService services.LifecycleService) *RideHandler {
	return &RideHandler{
		rideService:      rideService,
		lifecycleService: lifecycleService,
	}
}

// RequestRide creates a ride for the authenticated rider
func (h *RideHandler) RequestRide(c *gin.Context) {
	riderID, _, ok := currentUser(c)
	if !ok {
		return
	}

	var req validators.RideRequestRequest
	if !bindJSON(c, &req) {
		return
	}

	ride, err := h.rideService.RequestRide(c.Request.Context(), riderID, &services.RideRequest{
		Pickup:      req.Pickup.ToLocation(),
		Destination: req.Destination.ToLocation(),
		RiderPhone:  req.RiderPhone,
		RadiusKM:    req.RadiusKM,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, "Ride requested successfully", ride)
}

// SearchAgain runs another matching pass for a ride still waiting for a driver
func (h *RideHandler) SearchAgain(c *gin.Context) {
	riderID, _, ok := currentUser(c)
	if !ok {
		return
	}
	rideID, ok := pathID(c, "id", "ride")
	if !ok {
		return
	}

	var req validators.RideSearchRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	result, err := h.rideService.SearchAgain(c.Request.Context(), rideID, riderID, req.RadiusKM)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "Search completed", result)
}

// AcceptRide lets the authenticated driver take a requested ride
func (h *RideHandler) AcceptRide(c *gin.Context) {
	driverID, _, ok := currentUser(c)
	if !ok {
		return
	}
	rideID, ok := pathID(c, "id", "ride")
	if !ok {
		return
	}

	var req validators.RideAcceptRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	var location *models.Location
	if req.Location != nil && req.Location.HasCoordinates() {
		loc := req.Location.ToLocation()
		location = &loc
	}

	result, err := h.rideService.AcceptRide(c.Request.Context(), rideID, driverID, location)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "Ride accepted successfully", result)
}

// UpdateStatus moves a ride along its lifecycle
func (h *RideHandler) UpdateStatus(c *gin.Context) {
	userID, userType, ok := currentUser(c)
	if !ok {
		return
	}
	rideID, ok := pathID(c, "id", "ride")
	if !ok {
		return
	}

	var req validators.RideStatusUpdateRequest
	if !bindJSON(c, &req) {
		return
	}

	actor := services.Actor{ID: userID, Role: models.ActorRole(userType)}
	ride, err := h.lifecycleService.Transition(c.Request.Context(), rideID, models.RideStatus(req.Status), actor, services.TransitionOptions{
		OTP:              req.OTP,
		ActualDistanceKM: req.ActualDistanceKM,
		ActualFare:       req.ActualFare,
		Reason:           req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "Ride status updated successfully", ride.ViewFor(userID))
}

// CancelRide cancels a ride on behalf of either participant
func (h *RideHandler) CancelRide(c *gin.Context) {
	userID, userType, ok := currentUser(c)
	if !ok {
		return
	}
	rideID, ok := pathID(c, "id", "ride")
	if !ok {
		return
	}

	var req validators.RideCancelRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	actor := services.Actor{ID: userID, Role: models.ActorRole(userType)}
	ride, err := h.rideService.CancelRide(c.Request.Context(), rideID, actor, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "Ride cancelled successfully", ride)
}

// ActiveRides lists the caller's rides. Without a status filter only
// non-terminal rides are returned.
func (h *RideHandler) ActiveRides(c *gin.Context) {
	userID, userType, ok := currentUser(c)
	if !ok {
		return
	}

	statuses, errs := validators.ParseStatusFilter(strings.Join(c.QueryArray("status"), ","))
	if errs != nil {
		utils.ValidationErrorResponse(c, errs.Details())
		return
	}
	if len(statuses) == 0 {
		statuses = models.ActiveStatuses()
	}

	rides, err := h.rideService.ActiveRides(c.Request.Context(), userID, models.ActorRole(userType), statuses)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponseWithMeta(c, "Rides retrieved successfully", rides, &utils.Meta{Count: len(rides)})
}

// GetRide returns one ride to a participant
func (h *RideHandler) GetRide(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	rideID, ok := pathID(c, "id", "ride")
	if !ok {
		return
	}

	ride, err := h.rideService.GetRide(c.Request.Context(), rideID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "Ride retrieved successfully", ride)
}
