package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ICEConfig publishes the STUN servers clients should dial with, in the
// shape of an RTCConfiguration fragment so browser clients can pass it
// straight to the PeerConnection constructor.
func ICEConfig(stunURLs []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"iceServers": []gin.H{
				{"urls": stunURLs},
			},
		})
	}
}
