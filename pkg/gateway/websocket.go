package gateway

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// websocketHandler upgrades the request to a WebSocket and hands it to the
// event bus, which owns the connection's lifecycle from here on.
//
// InsecureSkipVerify accepts connections from any origin. This mediator sits
// behind the caller's own reverse proxy, which is expected to own origin
// allowlisting; revisit if the Gateway Facade is ever exposed directly.
func (g *Gateway) websocketHandler(c *gin.Context) {
	if g.bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event bus not available"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}

	g.bus.HandleConnection(c.Request.Context(), conn, uuid.NewString())
}
