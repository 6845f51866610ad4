package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"computemesh/internal/domain"
	"computemesh/internal/infra/dispatch"
	"computemesh/internal/infra/streamproxy"
	"computemesh/internal/infra/telemetry"
)

type sendCommandResponse struct {
	Message  string          `json:"message"`
	Response json.RawMessage `json:"response"`
}

type broadcastResponse struct {
	Audience dispatch.Audience                   `json:"audience"`
	Results  map[domain.Identity]json.RawMessage `json:"results"`
}

type modelListResponse struct {
	Data       []json.RawMessage `json:"data"`
	ProviderID domain.Identity   `json:"provider_id"`
}

type modelPullRequest struct {
	Model string `json:"model"`
}

type publicStats struct {
	ActiveNodes int `json:"active_nodes"`
	Connected   int `json:"connected"`
}

func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	logger := telemetry.LoggerWithRequest(r.Context(), s.logger)
	if principal, ok := principalFrom(r.Context()); ok {
		logger = logger.With(zap.String("caller", principal.Identity.String()))
	}
	return logger
}

func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	logger := s.requestLogger(r)
	target := domain.Identity(strings.TrimSpace(r.PathValue("identity")))
	if target == "" {
		s.writeError(w, logger, fmt.Errorf("%w: identity is required", domain.ErrInvalidRequest))
		return
	}
	if s.directory != nil {
		if _, err := s.directory.Get(target); err != nil {
			s.writeError(w, logger, err)
			return
		}
	}

	var cmd domain.Command
	if err := s.decodeBody(w, r, &cmd); err != nil {
		s.writeError(w, logger, err)
		return
	}

	logger.Info("direct command", telemetry.IdentityField(target), zap.String("url", cmd.URL))
	reply, err := s.dispatcher.SendCommand(r.Context(), target, cmd, s.timeouts.Timeouts().Command())
	if err != nil {
		s.writeError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sendCommandResponse{
		Message:  fmt.Sprintf("command delivered to %s", target),
		Response: reply.Body(),
	})
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	logger := s.requestLogger(r)
	audience, err := dispatch.ParseAudience(r.URL.Query().Get("audience"))
	if err != nil {
		s.writeError(w, logger, err)
		return
	}
	var cmd domain.Command
	if err := s.decodeBody(w, r, &cmd); err != nil {
		s.writeError(w, logger, err)
		return
	}

	results, err := s.dispatcher.BroadcastCommand(r.Context(), cmd, s.timeouts.Timeouts().Broadcast(), audience)
	if err != nil {
		s.writeError(w, logger, err)
		return
	}

	body := broadcastResponse{Audience: audience, Results: make(map[domain.Identity]json.RawMessage, len(results))}
	for id, result := range results {
		if result.Err != nil {
			encoded, _ := json.Marshal(map[string]string{"error": errorDetail(result.Err)})
			body.Results[id] = encoded
			continue
		}
		body.Results[id] = result.Reply.Body()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	s.listModels(w, r, s.timeouts.Timeouts().List())
}

func (s *Server) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	s.listModels(w, r, s.timeouts.Timeouts().Status())
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request, timeout time.Duration) {
	logger := s.requestLogger(r)
	cmd := domain.Command{Method: http.MethodGet, URL: "/v1/models"}
	provider, reply, err := s.dispatcher.SendToProvider(r.Context(), cmd, timeout)
	if err != nil {
		s.writeError(w, logger, err)
		return
	}

	var listing struct {
		Data json.RawMessage `json:"data"`
	}
	models := []json.RawMessage{}
	if err := json.Unmarshal(reply.Body(), &listing); err != nil || len(listing.Data) == 0 {
		logger.Warn("unexpected model list format", telemetry.IdentityField(provider))
	} else if err := json.Unmarshal(listing.Data, &models); err != nil {
		logger.Warn("model list data is not an array", telemetry.IdentityField(provider))
		models = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, modelListResponse{Data: models, ProviderID: provider})
}

func (s *Server) handlePullModel(w http.ResponseWriter, r *http.Request) {
	logger := s.requestLogger(r)
	var req modelPullRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeError(w, logger, err)
		return
	}
	modelID, err := ExtractModelID(req.Model)
	if err != nil {
		s.writeError(w, logger, err)
		return
	}

	data, _ := json.Marshal(modelPullRequest{Model: modelID})
	cmd := domain.Command{Method: http.MethodPost, URL: "/v1/models/pull", Data: data}
	provider, reply, err := s.dispatcher.SendToProvider(r.Context(), cmd, s.timeouts.Timeouts().Pull())
	if err != nil {
		s.writeError(w, logger, err)
		return
	}
	logger.Info("model pull relayed", telemetry.IdentityField(provider), zap.String("model", modelID))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(reply.Body())
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	logger := s.requestLogger(r)
	body, err := s.readBody(w, r)
	if err != nil {
		s.writeError(w, logger, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeouts.Timeouts().Stream())
	defer cancel()
	if err := s.streamer.Stream(ctx, w, streamproxy.DefaultPath, body); err != nil {
		s.writeError(w, logger, err)
	}
}

func (s *Server) handlePublicStats(w http.ResponseWriter, _ *http.Request) {
	var stats publicStats
	if s.membership != nil {
		snapshot := s.membership.Snapshot()
		stats = publicStats{ActiveNodes: snapshot.Providers, Connected: snapshot.Connections}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrInvalidRequest, err)
	}
	return body, nil
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := s.readBody(w, r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("%w: request body is required", domain.ErrInvalidRequest)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: decode body: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}
