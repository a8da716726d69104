package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shineum/inkpost/internal/fault"
	"github.com/shineum/inkpost/internal/store"
)

type codeRequest struct {
	OneTimeCode string `json:"oneTimeCode"`
}

type deviceResponse struct {
	ID      int64  `json:"id"`
	EmailID string `json:"emailId"`
}

// deviceView is a device as listed to its owner. The token is never exposed.
type deviceView struct {
	ID         int64     `json:"id"`
	EmailID    string    `json:"emailId"`
	Registered bool      `json:"registered"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}

	dev, err := s.devices.Register(c.Request.Context(), accountFrom(c).ID, req.OneTimeCode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, deviceResponse{ID: dev.ID, EmailID: dev.Address})
}

func (s *Server) handleReconnect(c *gin.Context) {
	id, ok := deviceID(c)
	if !ok {
		return
	}

	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}

	dev, err := s.devices.Reconnect(c.Request.Context(), accountFrom(c).ID, id, req.OneTimeCode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, deviceResponse{ID: dev.ID, EmailID: dev.Address})
}

func (s *Server) handleDelete(c *gin.Context) {
	id, ok := deviceID(c)
	if !ok {
		return
	}

	if err := s.devices.Delete(c.Request.Context(), accountFrom(c).ID, id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleList(c *gin.Context) {
	devices, err := s.devices.List(c.Request.Context(), accountFrom(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, deviceViews(devices))
}

func deviceViews(devices []store.Device) []deviceView {
	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, deviceView{
			ID:         d.ID,
			EmailID:    d.Address,
			Registered: d.Registered,
			CreatedAt:  d.CreatedAt,
		})
	}
	return views
}

// deviceID parses the :id path parameter. A malformed id cannot name an
// existing device and is answered as device_not_found.
func deviceID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, fault.New(fault.DeviceNotFound, "device %q not found", c.Param("id")))
		return 0, false
	}
	return id, true
}
