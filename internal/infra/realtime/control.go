package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
	"github.com/bryanwahyu/vendor-compliance/internal/domain/progress"
)

// JobController starts and cancels analysis runs.
type JobController interface {
	Start(ctx context.Context, sessionID string, id analysis.ID) (bool, error)
	Cancel(ctx context.Context, sessionID string, id analysis.ID) error
}

// ChatResponder answers one chat message, streaming chunks as they arrive.
type ChatResponder interface {
	Reply(ctx context.Context, sessionID, message string, onChunk func(string) error) (string, error)
}

type controlMessage struct {
	Action     string `json:"action"`
	AnalysisID string `json:"analysis_id"`
}

type chatMessage struct {
	Message string `json:"message"`
}

// Control interprets client frames on the live channels.
type Control struct {
	Hub    *Hub
	Jobs   JobController
	Chat   ChatResponder
	Logger *log.Logger
}

func (c *Control) logger() *log.Logger {
	if c.Logger == nil {
		return log.Default()
	}
	return c.Logger
}

func (c *Control) reply(ctx context.Context, id ConnID, t progress.EventType, message string, data map[string]any) {
	c.Hub.SendToConnection(ctx, id, progress.New(t, message, data))
}

// Greet confirms a new subscription.
func (c *Control) Greet(ctx context.Context, id ConnID, sessionID, stream string) {
	c.reply(ctx, id, progress.ConnectionStatus, "Connected to "+stream+" stream", map[string]any{"session_id": sessionID})
}

// HandleAnalysis processes one frame from the analysis channel. Protocol
// errors are reported back; the channel stays open.
func (c *Control) HandleAnalysis(ctx context.Context, id ConnID, sessionID string, raw []byte) {
	var msg controlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.reply(ctx, id, progress.AnalysisError, "Invalid message format", map[string]any{"error": err.Error()})
		return
	}

	switch msg.Action {
	case "ping":
		c.reply(ctx, id, progress.ConnectionStatus, "pong", nil)

	case "start":
		aid := analysis.ID(strings.TrimSpace(msg.AnalysisID))
		if aid == "" {
			c.reply(ctx, id, progress.AnalysisError, "Invalid analysis ID", map[string]any{"error": "Analysis not found"})
			return
		}
		launched, err := c.Jobs.Start(ctx, sessionID, aid)
		if err != nil {
			if errors.Is(err, analysis.ErrNotFound) {
				c.reply(ctx, id, progress.AnalysisError, "Invalid analysis ID", map[string]any{"error": "Analysis not found"})
				return
			}
			c.logger().Printf("session_id=%s analysis_id=%s msg=start failed err=%v", sessionID, aid, err)
			c.reply(ctx, id, progress.AnalysisError, "Could not start analysis", map[string]any{"error": err.Error()})
			return
		}
		if !launched {
			c.logger().Printf("session_id=%s analysis_id=%s msg=start ignored, already started", sessionID, aid)
		}

	case "cancel":
		aid := analysis.ID(strings.TrimSpace(msg.AnalysisID))
		if err := c.Jobs.Cancel(ctx, sessionID, aid); err != nil {
			c.reply(ctx, id, progress.AnalysisError, "Could not cancel analysis", map[string]any{"error": err.Error()})
			return
		}
		c.reply(ctx, id, progress.ConnectionStatus, "cancel requested", map[string]any{"analysis_id": string(aid)})

	default:
		c.reply(ctx, id, progress.AnalysisError, "Unknown action", map[string]any{"action": msg.Action})
	}
}

// HandleChat processes one frame from the chat channel.
func (c *Control) HandleChat(ctx context.Context, id ConnID, sessionID string, raw []byte) {
	var msg chatMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.reply(ctx, id, progress.ChatResponseComplete, "Invalid message format", map[string]any{"error": "Could not parse message"})
		return
	}
	text := strings.TrimSpace(msg.Message)
	if text == "" || c.Chat == nil {
		return
	}

	c.reply(ctx, id, progress.ChatTyping, "Assistant is typing...", map[string]any{"is_typing": true})
	full, err := c.Chat.Reply(ctx, sessionID, text, func(chunk string) error {
		c.reply(ctx, id, progress.ChatResponseChunk, chunk, map[string]any{"chunk": chunk})
		return nil
	})
	if err != nil {
		c.logger().Printf("session_id=%s msg=chat reply failed err=%v", sessionID, err)
		c.reply(ctx, id, progress.ChatResponseComplete, "Error: "+err.Error(), map[string]any{"error": err.Error()})
		return
	}
	c.reply(ctx, id, progress.ChatResponseComplete, "Response complete", map[string]any{"full_response": full})
}

// DuplexConn is a live connection that can also be read from.
type DuplexConn interface {
	Conn
	ReadMessage() ([]byte, error)
}

// Serve registers conn, greets it and feeds frames to handle until the
// client goes away. The connection is unregistered on return.
func (c *Control) Serve(ctx context.Context, conn DuplexConn, sessionID, stream string, handle func(ctx context.Context, id ConnID, sessionID string, raw []byte)) {
	id := c.Hub.Connect(conn, sessionID)
	defer c.Hub.Disconnect(id)

	c.Greet(ctx, id, sessionID, stream)
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		handle(ctx, id, sessionID, raw)
	}
}
