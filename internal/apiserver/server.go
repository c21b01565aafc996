package apiserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/echobridge/alexaremote/internal/connection"
	"github.com/echobridge/alexaremote/internal/connection/jsons"
	"github.com/echobridge/alexaremote/pkg/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Controller is the slice of the connection engine the API needs.
type Controller interface {
	IsLoggedIn() bool
	AmazonSite() string
	GetDevices(ctx context.Context) ([]jsons.Device, error)
	Speak(device jsons.Device, text string, ttsVolume, standardVolume *int)
	Announce(device jsons.Device, speak, body, title string, ttsVolume, standardVolume *int)
	ExecuteSequenceCommand(device *jsons.Device, command string, parameters map[string]any)
	StartRoutine(ctx context.Context, device jsons.Device, utterance string) error
}

var _ Controller = (*connection.Connection)(nil)

// Server exposes the connection engine over a small local HTTP API so other
// home-automation processes can push commands without embedding the client.
type Server struct {
	logger  *zap.Logger
	conn    Controller
	metrics *metrics.Metrics
	router  *gin.Engine
	srv     *http.Server
	addr    string
}

type speakRequest struct {
	Device         string `json:"device" binding:"required"`
	Text           string `json:"text" binding:"required"`
	TTSVolume      *int   `json:"ttsVolume"`
	StandardVolume *int   `json:"standardVolume"`
}

type announceRequest struct {
	Devices        []string `json:"devices" binding:"required"`
	Speak          string   `json:"speak" binding:"required"`
	Body           string   `json:"body"`
	Title          string   `json:"title"`
	TTSVolume      *int     `json:"ttsVolume"`
	StandardVolume *int     `json:"standardVolume"`
}

type commandRequest struct {
	Device     string         `json:"device" binding:"required"`
	Command    string         `json:"command" binding:"required"`
	Parameters map[string]any `json:"parameters"`
}

type routineRequest struct {
	Device    string `json:"device" binding:"required"`
	Utterance string `json:"utterance" binding:"required"`
}

func New(logger *zap.Logger, conn Controller, m *metrics.Metrics, addr string) *Server {
	s := &Server{
		logger:  logger.Named("apiserver"),
		conn:    conn,
		metrics: m,
		router:  gin.New(),
		addr:    addr,
	}
	s.router.Use(gin.Recovery())

	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(m.Handler()))
	s.router.GET("/api/devices", s.handleDevices)
	s.router.POST("/api/speak", s.handleSpeak)
	s.router.POST("/api/announce", s.handleAnnounce)
	s.router.POST("/api/command", s.handleCommand)
	s.router.POST("/api/routine", s.handleRoutine)
	return s
}

// Start blocks serving until the context is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{Addr: s.addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", zap.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"loggedIn": s.conn.IsLoggedIn(),
		"site":     s.conn.AmazonSite(),
	})
}

func (s *Server) handleDevices(c *gin.Context) {
	devices, err := s.conn.GetDevices(c.Request.Context())
	if err != nil {
		s.logger.Error("listing devices failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (s *Server) handleSpeak(c *gin.Context) {
	var req speakRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	device, err := s.findDevice(c.Request.Context(), req.Device)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.conn.Speak(*device, req.Text, req.TTSVolume, req.StandardVolume)
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

func (s *Server) handleAnnounce(c *gin.Context) {
	var req announceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, name := range req.Devices {
		device, err := s.findDevice(c.Request.Context(), name)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.conn.Announce(*device, req.Speak, req.Body, req.Title, req.TTSVolume, req.StandardVolume)
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

func (s *Server) handleCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	device, err := s.findDevice(c.Request.Context(), req.Device)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.conn.ExecuteSequenceCommand(device, req.Command, req.Parameters)
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

func (s *Server) handleRoutine(c *gin.Context) {
	var req routineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	device, err := s.findDevice(c.Request.Context(), req.Device)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := s.conn.StartRoutine(c.Request.Context(), *device, req.Utterance); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

// findDevice resolves a device by serial number or account name.
func (s *Server) findDevice(ctx context.Context, nameOrSerial string) (*jsons.Device, error) {
	devices, err := s.conn.GetDevices(ctx)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].SerialNumber == nameOrSerial || strings.EqualFold(devices[i].AccountName, nameOrSerial) {
			return &devices[i], nil
		}
	}
	return nil, errors.New("no such device: " + nameOrSerial)
}
