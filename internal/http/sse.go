package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/minutes/internal/logging"
	"github.com/fyrsmithlabs/minutes/internal/stream"
)

// handleTasksStream relays a streaming session as Server-Sent Events:
//
//	data: {"stage":"retrieving","progress":5}
//
//	data: {"stage":"extracting","progress":11,"chunks":1}
//
//	data: {"stage":"done","progress":100,"tasks":[...],"mode":"structured"}
//
// The session is canceled when the client disconnects.
func (s *Server) handleTasksStream(c echo.Context) error {
	var req TasksRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	session := stream.NewSession(s.svc.Orchestrator,
		stream.Request{CorpusID: req.CorpusID, Query: req.Query, K: req.K},
		stream.WithSink(s.svc.Sink),
		stream.WithLogger(s.logger),
	)
	log := logging.For(logging.WithSessionID(ctx, session.ID()), s.logger)

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Session-ID", session.ID())
	w.WriteHeader(http.StatusOK)
	w.Flush()

	for ev := range session.Run(ctx) {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Error("encoding stream event", zap.Error(err))
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			log.Debug("client went away", zap.Error(err))
			return nil
		}
		w.Flush()
	}
	return nil
}
