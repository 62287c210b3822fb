package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ridedispatch/internal/models"
	"ridedispatch/internal/repositories/interfaces"
	"ridedispatch/internal/utils"
	"ridedispatch/pkg/logger"
	"ridedispatch/pkg/push"
	"ridedispatch/pkg/sms"
	"ridedispatch/pkg/websocket"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Notifier is one delivery path for push envelopes.
type Notifier interface {
	Publish(ctx context.Context, envelope models.Envelope) error
}

type NotifierFunc func(ctx context.Context, envelope models.Envelope) error

func (f NotifierFunc) Publish(ctx context.Context, envelope models.Envelope) error {
	return f(ctx, envelope)
}

// NotificationService turns ride changes into push events. Delivery is best
// effort: failures are logged and never returned.
type NotificationService interface {
	RideMatched(ctx context.Context, ride *models.Ride, distanceKM float64)
	RideStatusChanged(ctx context.Context, ride *models.Ride, actor models.ActorRole)
	SearchOutcome(ctx context.Context, ride *models.Ride, outcome string)
	DriverLocation(ctx context.Context, ride *models.Ride, driverID primitive.ObjectID, location models.Location, at time.Time)
}

type notificationService struct {
	sinks   []Notifier
	timeout time.Duration
	logger  *logger.Logger
}

func NewNotificationService(log *logger.Logger, timeout time.Duration, sinks ...Notifier) NotificationService {
	if timeout <= 0 {
		timeout = utils.NotificationTimeout
	}
	return &notificationService{
		sinks:   sinks,
		timeout: timeout,
		logger:  log.WithField("component", "notifications"),
	}
}

func (s *notificationService) RideMatched(ctx context.Context, ride *models.Ride, distanceKM float64) {
	if ride.DriverID == nil {
		return
	}
	driverChannel := models.DriverChannel(*ride.DriverID)
	riderChannel := models.RiderChannel(ride.RiderID)

	s.emit(ctx, driverChannel, models.RideNewEvent{Ride: ride.ViewFor(*ride.DriverID), DistanceKM: utils.RoundTo(distanceKM, 3)})
	s.emit(ctx, driverChannel, models.SoundEvent{Sound: utils.SoundRideRequest, RideID: ride.ID.Hex()})

	event := statusEvent(ride, ride.RiderID, models.ActorSystem)
	if distanceKM > 0 {
		eta := time.Now().Add(time.Duration(utils.EstimateETAMinutes(distanceKM, utils.AverageCitySpeedKMH)) * time.Minute)
		event.EstimatedArrival = &eta
	}
	s.emit(ctx, riderChannel, event)
	s.emit(ctx, riderChannel, models.SoundEvent{Sound: utils.SoundDriverFound, RideID: ride.ID.Hex()})
}

func (s *notificationService) RideStatusChanged(ctx context.Context, ride *models.Ride, actor models.ActorRole) {
	riderChannel := models.RiderChannel(ride.RiderID)
	s.emit(ctx, riderChannel, statusEvent(ride, ride.RiderID, actor))
	if ride.DriverID != nil {
		s.emit(ctx, models.DriverChannel(*ride.DriverID), statusEvent(ride, *ride.DriverID, actor))
	}

	switch ride.Status {
	case models.RideStatusArrived:
		s.emit(ctx, riderChannel, models.SoundEvent{Sound: utils.SoundArrived, RideID: ride.ID.Hex()})
	case models.RideStatusCompleted:
		s.emit(ctx, riderChannel, models.SoundEvent{Sound: utils.SoundCompleted, RideID: ride.ID.Hex()})
	case models.RideStatusCancelled:
		if actor != models.ActorRider {
			s.emit(ctx, riderChannel, models.SoundEvent{Sound: utils.SoundCancelled, RideID: ride.ID.Hex()})
		}
		if ride.DriverID != nil && actor != models.ActorDriver {
			s.emit(ctx, models.DriverChannel(*ride.DriverID), models.SoundEvent{Sound: utils.SoundCancelled, RideID: ride.ID.Hex()})
		}
	}
}

func (s *notificationService) SearchOutcome(ctx context.Context, ride *models.Ride, outcome string) {
	event := statusEvent(ride, ride.RiderID, models.ActorSystem)
	event.SearchOutcome = outcome
	s.emit(ctx, models.RiderChannel(ride.RiderID), event)
}

func (s *notificationService) DriverLocation(ctx context.Context, ride *models.Ride, driverID primitive.ObjectID, location models.Location, at time.Time) {
	event := models.LocationUpdateEvent{
		DriverID:    driverID.Hex(),
		Location:    location.Normalize(),
		LastUpdated: at,
	}
	if ride != nil {
		event.RideID = ride.ID.Hex()
		s.emit(ctx, models.RiderChannel(ride.RiderID), event)
	}
	s.emit(ctx, models.DriverChannel(driverID), event)
}

func statusEvent(ride *models.Ride, viewer primitive.ObjectID, actor models.ActorRole) models.RideStatusEvent {
	return models.RideStatusEvent{
		RideID: ride.ID.Hex(),
		Status: ride.Status,
		Ride:   ride.ViewFor(viewer),
		Actor:  actor,
	}
}

// emit runs detached from the caller's cancellation so a finished HTTP
// request does not abort delivery.
func (s *notificationService) emit(ctx context.Context, channel string, event models.Event) {
	envelope, err := models.NewEnvelope(channel, event)
	if err != nil {
		s.logger.WithError(err).WithField("event", event.EventType()).Error("Failed to build push envelope")
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	for _, sink := range s.sinks {
		if err := sink.Publish(sendCtx, envelope); err != nil {
			s.logger.WithError(err).WithFields(logger.Fields{
				"channel": channel,
				"event":   envelope.Type,
			}).Warn("Notification delivery failed")
		}
	}
}

// NewChannelNotifier writes envelopes to websocket subscribers, locally or
// through the redis relay.
func NewChannelNotifier(publisher websocket.Publisher) Notifier {
	return NotifierFunc(func(ctx context.Context, envelope models.Envelope) error {
		payload, err := json.Marshal(envelope)
		if err != nil {
			return fmt.Errorf("failed to encode envelope: %w", err)
		}
		return publisher.Publish(ctx, envelope.Channel, payload)
	})
}

// DevicePusher sends a push notification through the platform's provider.
type DevicePusher interface {
	Send(ctx context.Context, platform string, request *push.NotificationRequest) (*push.NotificationResponse, error)
}

type devicePushNotifier struct {
	drivers interfaces.DriverRepository
	pusher  DevicePusher
}

// NewDevicePushNotifier wakes the driver app with ride:new offers.
func NewDevicePushNotifier(drivers interfaces.DriverRepository, pusher DevicePusher) Notifier {
	return &devicePushNotifier{drivers: drivers, pusher: pusher}
}

func (n *devicePushNotifier) Publish(ctx context.Context, envelope models.Envelope) error {
	if envelope.Type != models.EventRideNew {
		return nil
	}
	driverID, ok := channelOwner(envelope.Channel, "driver-")
	if !ok {
		return nil
	}

	event, err := envelope.Decode()
	if err != nil {
		return err
	}
	rideNew := event.(models.RideNewEvent)

	driver, err := n.drivers.GetByID(ctx, driverID)
	if err != nil {
		return fmt.Errorf("failed to load driver for push: %w", err)
	}
	if driver.DeviceToken == "" {
		return nil
	}

	_, err = n.pusher.Send(ctx, string(driver.DevicePlatform), &push.NotificationRequest{
		Token: driver.DeviceToken,
		Title: "New ride request",
		Body:  fmt.Sprintf("Pickup %.1f km away: %s", rideNew.DistanceKM, rideNew.Ride.Pickup.Address),
		Data: map[string]string{
			"type":    string(models.EventRideNew),
			"ride_id": rideNew.Ride.ID.Hex(),
		},
		Sound:       utils.SoundRideRequest,
		Priority:    "high",
		TTL:         60,
		CollapseKey: "ride-" + rideNew.Ride.ID.Hex(),
	})
	return err
}

type smsNotifier struct {
	provider sms.SMSProvider
}

// NewSMSNotifier texts the rider the OTP and vehicle once a driver is assigned.
func NewSMSNotifier(provider sms.SMSProvider) Notifier {
	return &smsNotifier{provider: provider}
}

func (n *smsNotifier) Publish(ctx context.Context, envelope models.Envelope) error {
	if envelope.Type != models.EventRideStatusUpdate || !strings.HasPrefix(envelope.Channel, "rider-") {
		return nil
	}

	event, err := envelope.Decode()
	if err != nil {
		return err
	}
	update := event.(models.RideStatusEvent)
	if update.Status != models.RideStatusMatched || update.Ride == nil || update.Ride.RiderPhone == "" {
		return nil
	}

	_, err = n.provider.SendSMS(ctx, &sms.SMSRequest{
		To:      utils.NormalizePhone(update.Ride.RiderPhone),
		Message: matchedSMS(update.Ride),
		Type:    "otp",
	})
	return err
}

func matchedSMS(ride *models.Ride) string {
	msg := fmt.Sprintf("Your ride %s is confirmed. OTP: %s.", ride.PickupCode, ride.OTP)
	if ride.Driver != nil {
		msg += fmt.Sprintf(" Driver %s, %s (%s).", ride.Driver.Name, ride.Driver.Vehicle, ride.Driver.LicensePlate)
	}
	return msg
}

func channelOwner(channel, prefix string) (primitive.ObjectID, bool) {
	if !strings.HasPrefix(channel, prefix) {
		return primitive.NilObjectID, false
	}
	id, err := primitive.ObjectIDFromHex(strings.TrimPrefix(channel, prefix))
	return id, err == nil
}
