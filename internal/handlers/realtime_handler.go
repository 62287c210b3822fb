package handlers

import (
	"context"

	"ridedispatch/internal/models"
	"ridedispatch/internal/services"
	"ridedispatch/internal/utils"
	"ridedispatch/pkg/logger"
	"ridedispatch/pkg/websocket"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ChannelsFor puts riders on their rider channel and drivers on their
// driver channel.
func ChannelsFor(userID primitive.ObjectID, userType string) []string {
	switch userType {
	case utils.UserTypeRider:
		return []string{models.RiderChannel(userID)}
	case utils.UserTypeDriver:
		return []string{models.DriverChannel(userID)}
	}
	return nil
}

// RealtimeHandler handles frames clients send over the push connection.
// Drivers stream location ticks this way instead of posting them.
type RealtimeHandler struct {
	driverService services.DriverService
	logger        *logger.Logger
}

func NewRealtimeHandler(driverService services.DriverService, log *logger.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		driverService: driverService,
		logger:        log.WithField("component", "realtime"),
	}
}

// HandleInbound is installed as the websocket inbound callback.
func (h *RealtimeHandler) HandleInbound(ctx context.Context, client *websocket.Client, payload []byte) {
	_, event, err := models.DecodeEnvelope(payload)
	if err != nil {
		h.logger.WithField("client_id", client.ID).WithError(err).Debug("Ignoring inbound frame")
		return
	}

	tick, ok := event.(models.LocationUpdateEvent)
	if !ok || client.UserType != utils.UserTypeDriver {
		return
	}

	// The sender is always the connection owner, whatever the frame claims.
	if _, err := h.driverService.UpdateLocation(ctx, client.UserID, tick.Location, tick.LastUpdated); err != nil {
		h.logger.WithDriverID(client.UserID).WithError(err).Warn("Failed to apply location tick")
	}
}
