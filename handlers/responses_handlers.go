package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tas-llm-gateway/models"
	"github.com/tas-llm-gateway/services"
)

// Responses handles POST /v1/responses, the surface Codex-style CLIs speak.
// Streaming is selected by the stream flag or an Accept: text/event-stream
// header.
func (h *ChatHandlers) Responses(c *gin.Context) {
	var req models.ResponsesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	msgs, err := req.InputMessages()
	if err != nil {
		bindError(c, err)
		return
	}
	if len(msgs) == 0 {
		bindError(c, fmt.Errorf("input resolved to no messages"))
		return
	}

	in := services.RouteInput{
		Messages:   msgs,
		PreferCode: sniffCodeIntent(msgs),
	}
	applyVirtualModel(&in, req.Model)

	if req.Stream || strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		h.streamResponse(c, req, in)
		return
	}

	outcome, err := h.gateway.Route(c.Request.Context(), in)
	if err != nil {
		writeRouteError(c, h.logger, err)
		return
	}

	setRouterHeaders(c, outcome.Usage)

	item := completedOutputItem(newItemID(), outcome.Output)
	usage := models.NewChatUsage(outcome.Usage)
	c.JSON(http.StatusOK, models.ResponsesResponse{
		ID:        newResponseID(),
		Object:    "response",
		CreatedAt: time.Now().Unix(),
		Status:    "completed",
		Model:     outcome.Usage.ResolvedBackendID,
		Output:    []models.ResponsesOutputItem{item},
		Usage:     &usage,
	})
}

// streamResponse plays the full event sequence for one request. The output
// arrives from the cascade in one piece, so the text is delivered as a
// single delta.
func (h *ChatHandlers) streamResponse(c *gin.Context, req models.ResponsesRequest, in services.RouteInput) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	w := &sseWriter{c: c}
	responseID := newResponseID()
	itemID := newItemID()
	createdAt := time.Now().Unix()

	requestedModel := req.Model
	if requestedModel == "" {
		requestedModel = VirtualModelAuto
	}

	w.emit("response.created", gin.H{
		"type": "response.created",
		"response": models.ResponsesResponse{
			ID:        responseID,
			Object:    "response",
			CreatedAt: createdAt,
			Status:    "in_progress",
			Model:     requestedModel,
			Output:    []models.ResponsesOutputItem{},
		},
	})
	w.emit("response.output_item.added", gin.H{
		"type":         "response.output_item.added",
		"output_index": 0,
		"item": models.ResponsesOutputItem{
			ID:      itemID,
			Type:    "message",
			Status:  "in_progress",
			Role:    "assistant",
			Content: []models.ResponsesContentPart{},
		},
	})
	w.emit("response.content_part.added", gin.H{
		"type":          "response.content_part.added",
		"item_id":       itemID,
		"output_index":  0,
		"content_index": 0,
		"part":          models.ResponsesContentPart{Type: "output_text", Text: ""},
	})

	outcome, err := h.gateway.Route(c.Request.Context(), in)
	if err != nil {
		status, body := routeErrorStatus(err)
		if status >= 500 {
			h.logger.WithError(err).Error("Streaming request failed")
		}
		w.emit("error", gin.H{
			"type":    "error",
			"code":    body.Error.Code,
			"message": body.Error.Message,
		})
		return
	}

	for _, chunk := range chunkRunes(outcome.Output, streamChunkRunes) {
		w.emit("response.output_text.delta", gin.H{
			"type":          "response.output_text.delta",
			"item_id":       itemID,
			"output_index":  0,
			"content_index": 0,
			"delta":         chunk,
		})
	}
	w.emit("response.output_text.done", gin.H{
		"type":          "response.output_text.done",
		"item_id":       itemID,
		"output_index":  0,
		"content_index": 0,
		"text":          outcome.Output,
	})
	w.emit("response.content_part.done", gin.H{
		"type":          "response.content_part.done",
		"item_id":       itemID,
		"output_index":  0,
		"content_index": 0,
		"part":          models.ResponsesContentPart{Type: "output_text", Text: outcome.Output},
	})

	item := completedOutputItem(itemID, outcome.Output)
	w.emit("response.output_item.done", gin.H{
		"type":         "response.output_item.done",
		"output_index": 0,
		"item":         item,
	})

	usage := models.NewChatUsage(outcome.Usage)
	w.emit("response.completed", gin.H{
		"type": "response.completed",
		"response": models.ResponsesResponse{
			ID:        responseID,
			Object:    "response",
			CreatedAt: createdAt,
			Status:    "completed",
			Model:     outcome.Usage.ResolvedBackendID,
			Output:    []models.ResponsesOutputItem{item},
			Usage:     &usage,
		},
	})
}

// sseWriter numbers and flushes stream events in order.
type sseWriter struct {
	c   *gin.Context
	seq int
}

func (w *sseWriter) emit(event string, payload gin.H) {
	payload["sequence_number"] = w.seq
	w.seq++

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w.c.Writer, "event: %s\ndata: %s\n\n", event, data)
	w.c.Writer.Flush()
}

// streamChunkRunes is the delta size for streamed output text.
const streamChunkRunes = 64

// chunkRunes splits s into rune-aligned pieces of at most size runes.
func chunkRunes(s string, size int) []string {
	runes := []rune(s)
	chunks := make([]string, 0, len(runes)/size+1)
	for len(runes) > size {
		chunks = append(chunks, string(runes[:size]))
		runes = runes[size:]
	}
	return append(chunks, string(runes))
}

func completedOutputItem(itemID, text string) models.ResponsesOutputItem {
	return models.ResponsesOutputItem{
		ID:      itemID,
		Type:    "message",
		Status:  "completed",
		Role:    "assistant",
		Content: []models.ResponsesContentPart{{Type: "output_text", Text: text}},
	}
}

func newResponseID() string {
	return "resp_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

func newItemID() string {
	return "msg_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}
