package main

import (
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gopkg.in/yaml.v2"

	"github.com/bullen/bullend/pkg/logging"
)

// handleHome serves the main web interface
func (d *ConsoleDaemon) handleHome(c *gin.Context) {
	c.File("./web/static/index.html")
}

// handleGetStatus returns daemon status via socket
func (d *ConsoleDaemon) handleGetStatus(c *gin.Context) {
	status, err := d.socketClient.GetStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "running",
		"version":   Version,
		"transport": status.Transport,
		"degraded":  status.Degraded,
		"uptime":    status.Uptime,
	})
}

// handleGetState returns the full console state
func (d *ConsoleDaemon) handleGetState(c *gin.Context) {
	state, err := d.socketClient.GetState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, state)
}

// handleSelect routes a channel to the monitor output
func (d *ConsoleDaemon) handleSelect(c *gin.Context) {
	ch, err := strconv.Atoi(c.Param("channel"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel"})
		return
	}

	if err := d.socketClient.Select(ch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"selected_channel": ch})
}

// handleSetGain sets a channel's gain
func (d *ConsoleDaemon) handleSetGain(c *gin.Context) {
	ch, err := strconv.Atoi(c.Param("channel"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel"})
		return
	}

	var body struct {
		GainDB     *float64 `json:"gain_db"`
		GainLinear *float64 `json:"gain_linear"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	switch {
	case body.GainLinear != nil:
		err = d.socketClient.SetGainLinear(ch, *body.GainLinear)
	case body.GainDB != nil:
		err = d.socketClient.SetGainDB(ch, *body.GainDB)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "gain_db or gain_linear required"})
		return
	}

	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"channel": ch})
}

// handleSetMute sets a channel's mute state
func (d *ConsoleDaemon) handleSetMute(c *gin.Context) {
	ch, err := strconv.Atoi(c.Param("channel"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel"})
		return
	}

	var body struct {
		Mute bool `json:"mute"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := d.socketClient.SetMute(ch, body.Mute); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"channel": ch, "mute": body.Mute})
}

// handleGetDevices lists the discovered sound cards
func (d *ConsoleDaemon) handleGetDevices(c *gin.Context) {
	devices, err := d.socketClient.GetDevices()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// handleGetTransport returns the live acquisition outcome
func (d *ConsoleDaemon) handleGetTransport(c *gin.Context) {
	data, err := d.socketClient.GetTransport()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, data)
}

// handleGetAttempts returns the persisted attempt history
func (d *ConsoleDaemon) handleGetAttempts(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	attempts, err := d.socketClient.GetAttempts(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}

// handleRecord starts or stops recording
func (d *ConsoleDaemon) handleRecord(c *gin.Context) {
	var body struct {
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	start := body.Action == "start"
	if !start && body.Action != "stop" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be start or stop"})
		return
	}

	if err := d.socketClient.Record(start); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"recording": start})
}

// handleGetRecordings lists past recording sessions
func (d *ConsoleDaemon) handleGetRecordings(c *gin.Context) {
	sessions, err := d.attemptStore.RecentSessions(20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// handleGetConfig returns the active configuration
func (d *ConsoleDaemon) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"audio":     d.config.Audio,
		"transport": d.config.Transport,
		"recording": d.config.Recording,
		"web":       d.config.Web,
	})
}

// handleSaveConfig merges a YAML body over the active configuration and
// persists it. Most changes only take effect after a restart.
func (d *ConsoleDaemon) handleSaveConfig(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	updated := *d.config
	if err := yaml.Unmarshal(body, &updated); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid YAML: " + err.Error()})
		return
	}
	if err := updated.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	data, err := yaml.Marshal(&updated)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := os.WriteFile(d.configPath, data, 0644); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to write config: " + err.Error()})
		return
	}

	*d.config = updated
	logging.Infof("web", "configuration saved to %s", d.configPath)
	c.JSON(http.StatusOK, gin.H{"saved": true, "restart_required": true})
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// handleVUWebSocket streams meter frames to the browser at meter rate
func (d *ConsoleDaemon) handleVUWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warnf("web", "websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	logging.Debug("web", "VU websocket client connected")

	meters := d.consoleEng.Meters()

	// 20 Hz matches the engine's snapshot rate
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	// Drain client messages so pings and closes are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			levels := meters.Levels()
			state := d.consoleEng.State()
			frame := gin.H{
				"vu_peak":          levels.Peak,
				"vu_rms":           levels.RMS,
				"clipping":         levels.Clipping,
				"selected_channel": state.SelectedChannel,
				"mutes":            state.Mutes,
				"gains_db":         state.GainsDB,
				"spectrum":         meters.Spectrum(),
			}
			if err := conn.WriteJSON(frame); err != nil {
				logging.Debugf("web", "VU websocket client gone: %v", err)
				return
			}
		}
	}
}
