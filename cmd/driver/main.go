// Command driver simulates a driver app: it registers, goes online and
// drives every ride it is assigned through to completion.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ridedispatch/internal/config"
	"ridedispatch/internal/models"
	"ridedispatch/internal/utils"
	"ridedispatch/pkg/logger"
	"ridedispatch/pkg/reconcile"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	Reset  = "\033[0m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
	Red    = "\033[31m"
)

type simulator struct {
	driverID primitive.ObjectID
	client   *reconcile.HTTPClient
	session  *reconcile.Session
	position models.Location
	tick     time.Duration
	steps    int
	logger   *logger.Logger
}

func main() {
	driverHex := flag.String("driver", "", "driver id (hex); a new id is generated when empty")
	name := flag.String("name", "Sim Driver", "driver name")
	phone := flag.String("phone", "+15555550100", "driver phone")
	plate := flag.String("plate", "SIM-0001", "license plate")
	lat := flag.Float64("lat", 0, "starting latitude")
	lng := flag.Float64("lng", 0, "starting longitude")
	tick := flag.Duration("tick", 2*time.Second, "interval between location updates")
	steps := flag.Int("steps", 5, "location updates per leg")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	appLogger := logger.NewWithWriter(os.Stderr, logger.LogLevel(cfg.App.LogLevel))

	driverID := primitive.NewObjectID()
	if *driverHex != "" {
		if driverID, err = primitive.ObjectIDFromHex(*driverHex); err != nil {
			log.Fatalf("Invalid driver id: %v", err)
		}
	}

	token, err := utils.GenerateAccessToken(driverID, utils.UserTypeDriver, cfg.Security.JWTSecret, cfg.Security.JWTAccessTokenTTL)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := reconcile.NewHTTPClient(cfg.Client.ServerURL, token.Token, cfg.Client.RequestTimeout)
	if _, err := client.RegisterDriver(ctx, &reconcile.DriverProfile{
		Name:                  *name,
		Phone:                 *phone,
		Vehicle:               reconcile.DriverVehicle{Make: "Toyota", Model: "Prius", LicensePlate: *plate},
		LicenseStatus:         "approved",
		InsuranceStatus:       "approved",
		BackgroundCheckStatus: "approved",
	}); err != nil {
		log.Fatalf("Failed to register: %v", err)
	}

	start := models.NewPoint(*lat, *lng)
	if err := client.SetOnline(ctx, true, &start); err != nil {
		log.Fatalf("Failed to go online: %v", err)
	}
	fmt.Printf("%sDriver %s online at %s%s\n", Green, driverID.Hex(), start, Reset)

	defer func() {
		offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.SetOnline(offCtx, false, nil); err != nil {
			appLogger.WithError(err).Warn("Failed to go offline")
		}
	}()

	source := reconcile.NewWebSocketSource(reconcile.PushURL(cfg.Client.ServerURL), token.Token,
		cfg.Client.ReconnectMin, cfg.Client.ReconnectMax, appLogger)
	session := reconcile.NewSession(reconcile.NewView(), source, client, cfg.Client.PollInterval, appLogger)
	go func() {
		_ = session.Run(ctx)
	}()

	sim := &simulator{
		driverID: driverID,
		client:   client,
		session:  session,
		position: start,
		tick:     *tick,
		steps:    *steps,
		logger:   appLogger.WithDriverID(driverID),
	}
	sim.run(ctx)
}

func (s *simulator) run(ctx context.Context) {
	served := make(map[primitive.ObjectID]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-s.session.Updates():
			ride := update.Ride
			if ride == nil || served[ride.ID] || !update.StatusChanged {
				continue
			}
			switch {
			case ride.Status == models.RideStatusMatched && ride.IsAssignedDriver(s.driverID):
			case ride.Status == models.RideStatusRequested && ride.DriverID == nil:
				accepted, err := s.client.AcceptRide(ctx, ride.ID, &s.position)
				if err != nil {
					fmt.Printf("%sRide %s not accepted: %v%s\n", Red, ride.ID.Hex(), err, Reset)
					continue
				}
				ride = accepted.Ride
				ride.OTP = accepted.OTP
			default:
				continue
			}

			served[ride.ID] = true
			fmt.Printf("%sAssigned %s: %s -> %s, pickup code %s%s\n", Cyan, ride.ID.Hex(), ride.Pickup, ride.Destination, ride.PickupCode, Reset)
			if err := s.serve(ctx, ride); err != nil {
				fmt.Printf("%sRide %s: %v%s\n", Red, ride.ID.Hex(), err, Reset)
			}
		}
	}
}

// serve walks an assigned ride through every driver-side transition.
func (s *simulator) serve(ctx context.Context, ride *models.Ride) error {
	if err := s.transition(ctx, ride.ID, &reconcile.StatusRequest{Status: models.RideStatusDriverEnRoute}); err != nil {
		return err
	}
	if err := s.drive(ctx, ride.Pickup); err != nil {
		return err
	}
	if err := s.transition(ctx, ride.ID, &reconcile.StatusRequest{Status: models.RideStatusArrived}); err != nil {
		return err
	}
	if err := s.transition(ctx, ride.ID, &reconcile.StatusRequest{Status: models.RideStatusInProgress, OTP: ride.OTP}); err != nil {
		return err
	}

	from := s.position
	if err := s.drive(ctx, ride.Destination); err != nil {
		return err
	}
	distance := utils.RoundTo(utils.CalculateDistance(from.Latitude(), from.Longitude(), s.position.Latitude(), s.position.Longitude()), 2)
	return s.transition(ctx, ride.ID, &reconcile.StatusRequest{Status: models.RideStatusCompleted, ActualDistanceKM: &distance})
}

func (s *simulator) transition(ctx context.Context, rideID primitive.ObjectID, req *reconcile.StatusRequest) error {
	ride, err := s.client.UpdateStatus(ctx, rideID, req)
	if err != nil {
		return fmt.Errorf("%s: %w", req.Status, err)
	}
	fmt.Printf("%sRide %s: %s%s\n", Yellow, ride.PickupCode, ride.Status, Reset)
	return nil
}

// drive moves in a straight line to target, reporting each step.
func (s *simulator) drive(ctx context.Context, target models.Location) error {
	if !target.HasCoordinates() {
		return nil
	}
	steps := int(math.Max(1, float64(s.steps)))
	fromLat, fromLng := s.position.Latitude(), s.position.Longitude()
	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.tick):
		}
		f := float64(i) / float64(steps)
		s.position = models.NewPoint(
			fromLat+(target.Latitude()-fromLat)*f,
			fromLng+(target.Longitude()-fromLng)*f,
		)
		if err := s.client.UpdateLocation(ctx, s.position, time.Now()); err != nil {
			s.logger.WithError(err).Warn("Location update rejected")
		}
	}
	return nil
}
