package routes

import (
	"ridedispatch/internal/handlers"
	"ridedispatch/internal/middleware"
	"ridedispatch/pkg/websocket"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Rides     *handlers.RideHandler
	Drivers   *handlers.DriverHandler
	Health    *handlers.HealthHandler
	WebSocket *websocket.Handler
}

// SetupDispatchRoutes mounts the ride, driver and push endpoints.
func SetupDispatchRoutes(r *gin.Engine, h Handlers, jwtSecret string) {
	r.GET("/health", h.Health.Health)

	auth := middleware.AuthRequired(jwtSecret)

	// Push connection; the token may come as a query parameter here.
	r.GET("/ws", auth, h.WebSocket.HandleWebSocket)

	v1 := r.Group("/api/v1")
	v1.Use(auth)

	rides := v1.Group("/rides")
	{
		rides.POST("", middleware.RiderRequired(), h.Rides.RequestRide)
		rides.GET("/active", h.Rides.ActiveRides)
		rides.GET("/:id", h.Rides.GetRide)
		rides.POST("/:id/search", middleware.RiderRequired(), h.Rides.SearchAgain)
		rides.POST("/:id/accept", middleware.DriverRequired(), h.Rides.AcceptRide)
		rides.PUT("/:id/status", h.Rides.UpdateStatus)
		rides.POST("/:id/cancel", h.Rides.CancelRide)
	}

	drivers := v1.Group("/drivers")
	drivers.Use(middleware.DriverRequired())
	{
		drivers.POST("/register", h.Drivers.Register)
		drivers.POST("/status", h.Drivers.SetStatus)
		drivers.POST("/location", h.Drivers.UpdateLocation)
	}
}
