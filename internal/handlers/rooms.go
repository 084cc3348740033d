package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classlive/classroom-rtc/internal/registry"
)

// The HTTP room surface is read-only introspection over the live registry;
// rooms themselves are created and destroyed implicitly by joins and leaves.

// ListRooms returns every active room with its membership (requires JWT).
func ListRooms(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		rooms := reg.Rooms()
		c.JSON(http.StatusOK, gin.H{
			"rooms": rooms,
			"count": len(rooms),
		})
	}
}

// GetRoom returns the membership detail for one room (public).
func GetRoom(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")
		room, ok := reg.Room(roomID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		c.JSON(http.StatusOK, room)
	}
}

// Health reports liveness with active-room and active-session counts.
func Health(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		rooms, sessions := reg.Counts()
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"rooms":    rooms,
			"sessions": sessions,
		})
	}
}
