package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"forecast-card/internal/dispatcher"
	"forecast-card/internal/forecast"
	"forecast-card/internal/log"
	"forecast-card/internal/mqtt"
	"forecast-card/internal/render"
	"forecast-card/internal/storage"
	"forecast-card/internal/weather"
)

// UserHeader carries the caller's user id.
const UserHeader = "X-User-ID"

const helpText = `PUT  /api/v1/admin                              assign the admin ({"user_id": "..."}, empty means you)
PUT  /api/v1/destinations/:chat/coords          set coordinates and location name (admin only)
POST /api/v1/destinations/:chat/start           resume scheduled cards (admin only)
POST /api/v1/destinations/:chat/stop            pause scheduled cards (admin only)
GET  /api/v1/destinations/:chat                 show stored settings
GET  /api/v1/destinations/:chat/forecast        daily aggregates as JSON
GET  /api/v1/destinations/:chat/forecast.png    forecast card
POST /api/v1/destinations/:chat/send            send the card now
GET  /api/v1/destinations/:chat/deliveries      recent deliveries
GET  /api/v1/forecast.png?lat=&lon=&label=      card for any location
GET  /help                                      this text
`

type Server struct {
	router     *gin.Engine
	server     *http.Server
	service    *forecast.Service
	dispatcher *dispatcher.Dispatcher
	db         *storage.Database
	publisher  *mqtt.Publisher
	port       int
}

type ServerConfig struct {
	Port       int
	Service    *forecast.Service
	Dispatcher *dispatcher.Dispatcher
	Database   *storage.Database
	Publisher  *mqtt.Publisher
}

func NewServer(cfg ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	s := &Server{
		router:     router,
		service:    cfg.Service,
		dispatcher: cfg.Dispatcher,
		db:         cfg.Database,
		publisher:  cfg.Publisher,
		port:       cfg.Port,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/help", s.helpHandler)

	api := s.router.Group("/api/v1")
	{
		api.PUT("/admin", s.setAdminHandler)
		api.GET("/forecast.png", s.adhocImageHandler)

		dest := api.Group("/destinations/:chat")
		dest.GET("", s.getDestinationHandler)
		dest.GET("/forecast", s.forecastHandler)
		dest.GET("/forecast.png", s.forecastImageHandler)
		dest.POST("/send", s.sendHandler)
		dest.GET("/deliveries", s.deliveriesHandler)

		admin := dest.Group("", s.requireAdmin)
		admin.PUT("/coords", s.setCoordsHandler)
		admin.POST("/start", s.startHandler)
		admin.POST("/stop", s.stopHandler)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Infof("API server starting on port %d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) healthHandler(c *gin.Context) {
	resp := gin.H{
		"status":         "healthy",
		"mqtt_connected": s.publisher != nil && s.publisher.IsConnected(),
		"timestamp":      time.Now(),
	}
	if s.dispatcher != nil {
		now := time.Now()
		resp["sending"] = s.dispatcher.IsRunning()
		resp["next_run"] = s.dispatcher.NextRun(now)
		if last := s.dispatcher.LastRun(); !last.IsZero() {
			resp["last_run"] = last
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) helpHandler(c *gin.Context) {
	c.String(http.StatusOK, helpText)
}

func callerID(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(UserHeader))
}

func (s *Server) requireAdmin(c *gin.Context) {
	ok, err := s.db.IsAdmin(callerID(c))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Only the admin can do this"})
		return
	}
	c.Next()
}

type AdminRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) setAdminHandler(c *gin.Context) {
	var req AdminRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	caller := callerID(c)
	target := strings.TrimSpace(req.UserID)
	if target == "" {
		target = caller
	}
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No user id given"})
		return
	}

	current, err := s.db.GetAdmin()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if current != "" && current != caller {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the current admin can reassign"})
		return
	}

	if err := s.db.SetAdmin(target); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	log.Infow("admin assigned", "admin_id", target, "by", caller)
	c.JSON(http.StatusOK, gin.H{"admin_id": target})
}

type CoordsRequest struct {
	Latitude     *float64 `json:"latitude" binding:"required,min=-90,max=90"`
	Longitude    *float64 `json:"longitude" binding:"required,min=-180,max=180"`
	LocationName string   `json:"location_name" binding:"max=64"`
}

func (s *Server) setCoordsHandler(c *gin.Context) {
	var req CoordsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dest := &storage.Destination{
		ChatID:       c.Param("chat"),
		Latitude:     *req.Latitude,
		Longitude:    *req.Longitude,
		LocationName: strings.TrimSpace(req.LocationName),
		Enabled:      true,
	}
	if err := s.db.SaveDestination(dest); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if s.publisher != nil {
		if err := s.publisher.PublishHomeAssistantDiscovery(dest.ChatID, dest.LocationName); err != nil {
			log.Warnf("Failed to publish discovery for %s: %v", dest.ChatID, err)
		}
	}

	log.Infow("destination saved", "chat_id", dest.ChatID, "lat", dest.Latitude, "lon", dest.Longitude)
	c.JSON(http.StatusOK, dest)
}

func (s *Server) startHandler(c *gin.Context) {
	s.setEnabled(c, true)
}

func (s *Server) stopHandler(c *gin.Context) {
	s.setEnabled(c, false)
}

func (s *Server) setEnabled(c *gin.Context, enabled bool) {
	chatID := c.Param("chat")
	if err := s.db.SetEnabled(chatID, enabled); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_id": chatID, "enabled": enabled})
}

func (s *Server) destination(c *gin.Context) (*storage.Destination, bool) {
	dest, err := s.db.GetDestination(c.Param("chat"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Coordinates are not set for this chat"})
			return nil, false
		}
		writeError(c, err)
		return nil, false
	}
	return dest, true
}

func (s *Server) getDestinationHandler(c *gin.Context) {
	dest, ok := s.destination(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dest)
}

func destinationRequest(dest *storage.Destination) forecast.Request {
	return forecast.Request{
		Coordinates: weather.Coordinates{Latitude: dest.Latitude, Longitude: dest.Longitude},
		Label:       dest.LocationName,
	}
}

func (s *Server) forecastHandler(c *gin.Context) {
	dest, ok := s.destination(c)
	if !ok {
		return
	}

	req := destinationRequest(dest)
	days, err := s.service.Forecast(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chat_id":  dest.ChatID,
		"label":    dest.LocationName,
		"timezone": s.service.Location().String(),
		"days":     days,
	})
}

func (s *Server) forecastImageHandler(c *gin.Context) {
	dest, ok := s.destination(c)
	if !ok {
		return
	}
	s.writeCard(c, destinationRequest(dest))
}

type AdhocRequest struct {
	Latitude  *float64 `form:"lat" binding:"required,min=-90,max=90"`
	Longitude *float64 `form:"lon" binding:"required,min=-180,max=180"`
	Label     string   `form:"label" binding:"max=64"`
}

func (s *Server) adhocImageHandler(c *gin.Context) {
	var req AdhocRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.writeCard(c, forecast.Request{
		Coordinates: weather.Coordinates{Latitude: *req.Latitude, Longitude: *req.Longitude},
		Label:       req.Label,
	})
}

func (s *Server) writeCard(c *gin.Context, req forecast.Request) {
	card, err := s.service.Build(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", card.PNG)
}

func (s *Server) sendHandler(c *gin.Context) {
	dest, ok := s.destination(c)
	if !ok {
		return
	}

	card, err := s.dispatcher.SendOne(c.Request.Context(), *dest)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chat_id": dest.ChatID,
		"status":  storage.DeliverySent,
		"rows":    len(card.Days),
	})
}

func (s *Server) deliveriesHandler(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 20
	}

	deliveries, err := s.db.ListDeliveries(c.Param("chat"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": deliveries, "count": len(deliveries)})
}

// writeError maps domain errors onto HTTP statuses. Missing upstream data and
// empty tables are a bad gateway, a disabled publisher is unavailable.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, forecast.ErrNoForecast), errors.Is(err, render.ErrNoRows):
		status = http.StatusBadGateway
	case errors.Is(err, mqtt.ErrDisabled):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		log.Errorw("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
