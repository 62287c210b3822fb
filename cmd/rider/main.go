// Command rider requests a ride from the dispatch API and follows it until it
// ends, printing every change it observes over push or poll.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"ridedispatch/internal/config"
	"ridedispatch/internal/models"
	"ridedispatch/internal/utils"
	"ridedispatch/pkg/logger"
	"ridedispatch/pkg/reconcile"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func main() {
	riderHex := flag.String("rider", "", "rider id (hex); a new id is generated when empty")
	pickup := flag.String("pickup", "", "pickup as lat,lng or an address")
	destination := flag.String("destination", "", "destination as lat,lng or an address")
	phone := flag.String("phone", "", "rider phone for SMS confirmation")
	radius := flag.Float64("radius", 0, "search radius in km")
	flag.Parse()

	if *pickup == "" || *destination == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	appLogger := logger.NewWithWriter(os.Stderr, logger.LogLevel(cfg.App.LogLevel))

	riderID := primitive.NewObjectID()
	if *riderHex != "" {
		if riderID, err = primitive.ObjectIDFromHex(*riderHex); err != nil {
			log.Fatalf("Invalid rider id: %v", err)
		}
	}

	token, err := utils.GenerateAccessToken(riderID, utils.UserTypeRider, cfg.Security.JWTSecret, cfg.Security.JWTAccessTokenTTL)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := reconcile.NewHTTPClient(cfg.Client.ServerURL, token.Token, cfg.Client.RequestTimeout)
	source := reconcile.NewWebSocketSource(reconcile.PushURL(cfg.Client.ServerURL), token.Token,
		cfg.Client.ReconnectMin, cfg.Client.ReconnectMax, appLogger)
	view := reconcile.NewView()
	session := reconcile.NewSession(view, source, client, cfg.Client.PollInterval, appLogger)

	go func() {
		_ = session.Run(ctx)
	}()

	searcher := reconcile.NewSearcher(client, view, cfg.Client.SearchTimeout, cfg.Client.MaxSearchAttempts, appLogger)
	searcher.OnAttempt(func(o reconcile.SearchOutcome) {
		fmt.Printf("Searching for a driver (attempt %d, %s)...\n", o.Attempt, o.Remaining)
	})

	ride, err := searcher.Search(ctx, &reconcile.RideRequest{
		Pickup:      parseLocation(*pickup),
		Destination: parseLocation(*destination),
		RiderPhone:  *phone,
		RadiusKM:    *radius,
	})
	switch {
	case errors.Is(err, reconcile.ErrSearchExhausted):
		fmt.Println("No driver found. Run again to keep searching, or cancel the ride.")
		os.Exit(1)
	case err != nil:
		log.Fatalf("Ride request failed: %v", err)
	}

	printRide(ride)
	follow(ctx, session, ride.ID)
}

// follow prints changes to the ride until it reaches a terminal status.
func follow(ctx context.Context, session *reconcile.Session, rideID primitive.ObjectID) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-session.Updates():
			if update.Ride == nil || update.Ride.ID != rideID {
				continue
			}
			if update.StatusChanged {
				printRide(update.Ride)
			}
			if update.LocationChanged && update.Ride.DriverLocation != nil {
				loc := update.Ride.DriverLocation
				fmt.Printf("  driver at %.5f,%.5f (%s)\n", loc.Location.Latitude(), loc.Location.Longitude(), loc.LastUpdated.Format("15:04:05"))
			}
			if update.Ride.Status.IsTerminal() {
				return
			}
		}
	}
}

func printRide(ride *models.Ride) {
	fmt.Printf("Ride %s: %s\n", ride.PickupCode, ride.Status)
	switch ride.Status {
	case models.RideStatusMatched:
		if ride.Driver != nil {
			fmt.Printf("  driver %s, %s (%s)\n", ride.Driver.Name, ride.Driver.Vehicle, ride.Driver.LicensePlate)
		}
		if ride.OTP != "" {
			fmt.Printf("  share this code with your driver: %s\n", ride.OTP)
		}
	case models.RideStatusCompleted:
		if ride.Pricing.TotalActual != nil {
			fmt.Printf("  fare %s\n", utils.FormatCurrency(*ride.Pricing.TotalActual, ride.Pricing.Currency))
		}
		if ride.CarbonFootprint.ActualSaved != nil {
			fmt.Printf("  CO2 saved %.3f kg\n", *ride.CarbonFootprint.ActualSaved)
		}
	case models.RideStatusCancelled:
		if ride.Cancellation != nil {
			fmt.Printf("  cancelled by %s: %s\n", ride.Cancellation.CancelledBy, ride.Cancellation.Reason)
		}
	}
}

// parseLocation reads "lat,lng"; anything else is treated as an address.
func parseLocation(raw string) models.Location {
	parts := strings.Split(raw, ",")
	if len(parts) == 2 {
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lng, errLng := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if errLat == nil && errLng == nil {
			return models.NewPoint(lat, lng)
		}
	}
	return models.Location{Type: "Point", Address: strings.TrimSpace(raw)}
}
