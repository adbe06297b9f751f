package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"shen/internal/utils/sse"
)

func startSSE(logger *zap.Logger) {
	r := gin.New()
	r.GET("/sse/session", SSESessionStream)

	sseAddr := fmt.Sprintf(":%s", viper.GetString("server.sseport"))

	// Start the SSE server on its own port
	go func() {
		logger.Info("Starting SSE server", zap.String("addr", sseAddr))
		if err := r.Run(sseAddr); err != nil {
			logger.Error("Failed to start SSE server", zap.Error(err))
		}
	}()
}

// SSESessionStream streams countdown ticks, proctoring prompts and the
// completion notice for one session.
func SSESessionStream(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(400, gin.H{"error": "session_id is required"})
		return
	}

	// Set SSE headers
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.Writer.Header().Set("Access-Control-Allow-Headers", "Cache-Control")

	// Create a channel for this session if not exists
	ch := make(chan map[string]interface{}, 10)
	sse.RegisterChannel(sessionID, ch)

	// Send initial connection confirmation
	initialMsg := map[string]interface{}{
		"type":       "connection_established",
		"session_id": sessionID,
		"timestamp":  time.Now().Unix(),
	}

	if jsonData, err := json.Marshal(initialMsg); err == nil {
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(jsonData))
		c.Writer.Flush()
	}

	// Keep connection alive and listen for messages
	clientGone := make(chan bool)
	go func() {
		<-c.Request.Context().Done()
		clientGone <- true
	}()

	// Heartbeat ticker to keep connection alive
	heartbeat := time.NewTicker(60 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-clientGone:
			// Client disconnected, clean up
			sse.UnregisterChannel(sessionID)
			return

		case <-heartbeat.C:
			// Send heartbeat
			heartbeatMsg := map[string]interface{}{
				"type":      "heartbeat",
				"timestamp": time.Now().Unix(),
			}
			if jsonData, err := json.Marshal(heartbeatMsg); err == nil {
				fmt.Fprintf(c.Writer, "data: %s\n\n", string(jsonData))
				c.Writer.Flush()
			}

		case notification := <-ch:
			// Send notification to client
			if jsonData, err := json.Marshal(notification); err == nil {
				fmt.Fprintf(c.Writer, "data: %s\n\n", string(jsonData))
				c.Writer.Flush()
			}
		}
	}
}
