package web

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/teslashibe/go-haarcam/pkg/history"
	"github.com/teslashibe/go-haarcam/pkg/hub"
)

const indexHTML = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>HAAR Classifier Object Detection</title></head>
<body style="background:#111;color:#ddd;font-family:sans-serif">
<h3>HAAR Classifier Object Detection</h3>
<img id="frame" alt="waiting for frames">
<pre id="status"></pre>
<script>
const base = (location.protocol === "https:" ? "wss://" : "ws://") + location.host;
const img = document.getElementById("frame");
const frames = new WebSocket(base + "/ws/frames");
frames.binaryType = "blob";
frames.onmessage = (e) => {
  const url = URL.createObjectURL(e.data);
  img.onload = () => URL.revokeObjectURL(url);
  img.src = url;
};
const status = new WebSocket(base + "/ws/status");
status.onmessage = (e) => {
  document.getElementById("status").textContent = JSON.stringify(JSON.parse(e.data), null, 2);
};
</script>
</body>
</html>
`

// handleIndex serves the viewer page
func (s *Server) handleIndex(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(indexHTML)
}

// handleStatus returns the current session status
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.CurrentStatus())
}

// handleHistory returns recent sessions, newest first
func (s *Server) handleHistory(c *fiber.Ctx) error {
	if s.history == nil {
		return c.JSON([]history.SessionRecord{})
	}

	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 500 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and 500",
		})
	}

	recs, err := s.history.Recent(c.UserContext(), limit)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(recs)
}

// handleFramesWS streams JPEG frames
func (s *Server) handleFramesWS(c *websocket.Conn) {
	client := hub.NewClient(s.frameHub, c)
	if client == nil {
		return
	}
	client.Run()
}

// handleStatusWS sends the current status, then streams updates
func (s *Server) handleStatusWS(c *websocket.Conn) {
	if err := c.WriteJSON(s.CurrentStatus()); err != nil {
		return
	}
	client := hub.NewClient(s.statusHub, c)
	if client == nil {
		return
	}
	client.Run()
}
