package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/duckgate/duckgate/internal/events"
	"github.com/duckgate/duckgate/internal/guardrail"
)

// guardRequest is the payload for POST /v1/guard/request.
type guardRequest struct {
	RequestID string              `json:"request_id,omitempty"`
	Prompt    string              `json:"prompt"`
	Messages  []guardrail.Message `json:"messages,omitempty"`
	ClientKey string              `json:"client_key,omitempty"`
}

// guardToolInput is the payload for POST /v1/guard/tool/input.
type guardToolInput struct {
	RequestID string          `json:"request_id"`
	ToolName  string          `json:"tool_name"`
	ToolArgs  json.RawMessage `json:"tool_args"`
}

// guardToolOutput is the payload for POST /v1/guard/tool/output.
type guardToolOutput struct {
	RequestID  string          `json:"request_id"`
	ToolResult json.RawMessage `json:"tool_result"`
}

// guardResponseBody is the payload for POST /v1/guard/response.
type guardResponseBody struct {
	RequestID string `json:"request_id"`
	Response  string `json:"response"`
}

// guardResult is the common reply shape for the guard endpoints.
type guardResult struct {
	RequestID     string                   `json:"request_id"`
	Action        guardrail.Action         `json:"action"`
	Prompt        string                   `json:"prompt,omitempty"`
	Messages      []guardrail.Message      `json:"messages,omitempty"`
	ToolArgs      any                      `json:"tool_args,omitempty"`
	ToolResult    any                      `json:"tool_result,omitempty"`
	Response      string                   `json:"response,omitempty"`
	BlockedBy     string                   `json:"blocked_by,omitempty"`
	Reason        string                   `json:"reason,omitempty"`
	Modifications []guardrail.Modification `json:"modifications,omitempty"`
}

// handleGuardRequest runs the pre_request phase for an agent-driven request
// and parks the context for the rest of the round trip.
func (s *Server) handleGuardRequest(w http.ResponseWriter, r *http.Request) {
	var body guardRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	requestID := body.RequestID
	if requestID == "" {
		requestID = requestIDFrom(r.Context())
	}

	req := guardrail.NewContext(requestID)
	req.Messages = body.Messages
	req.Prompt = body.Prompt
	if req.Prompt == "" && len(req.Messages) > 0 {
		req.Prompt = req.Messages[len(req.Messages)-1].Content
	}
	req.ClientKey = body.ClientKey
	if req.ClientKey == "" {
		req.ClientKey = clientIP(r)
	}

	s.totalRequests.Add(1)
	result := s.pipeline.Run(r.Context(), guardrail.PhasePreRequest, req)
	if result.Action == guardrail.ActionBlock {
		s.blocked(w, req, guardrail.PhasePreRequest, result)
		return
	}

	s.registry.Put(req)
	s.writeJSON(w, http.StatusOK, guardResult{
		RequestID:     req.RequestID,
		Action:        result.Action,
		Prompt:        req.Prompt,
		Messages:      req.Messages,
		Modifications: req.Modifications,
	})
}

// handleGuardToolInput runs pre_tool_input against an in-flight request.
func (s *Server) handleGuardToolInput(w http.ResponseWriter, r *http.Request) {
	var body guardToolInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, ok := s.registry.Get(body.RequestID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown or expired request id")
		return
	}

	req.ToolName = body.ToolName
	req.ToolArgs = decodeRaw(body.ToolArgs)

	result := s.pipeline.Run(r.Context(), guardrail.PhasePreToolInput, req)
	if result.Action == guardrail.ActionBlock {
		s.blocked(w, req, guardrail.PhasePreToolInput, result)
		return
	}

	s.writeJSON(w, http.StatusOK, guardResult{
		RequestID:     req.RequestID,
		Action:        result.Action,
		ToolArgs:      req.ToolArgs,
		Modifications: req.Modifications,
	})
}

// handleGuardToolOutput runs post_tool_output against an in-flight request.
func (s *Server) handleGuardToolOutput(w http.ResponseWriter, r *http.Request) {
	var body guardToolOutput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, ok := s.registry.Get(body.RequestID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown or expired request id")
		return
	}

	req.ToolResult = decodeRaw(body.ToolResult)

	result := s.pipeline.Run(r.Context(), guardrail.PhasePostToolOutput, req)
	if result.Action == guardrail.ActionBlock {
		s.blocked(w, req, guardrail.PhasePostToolOutput, result)
		return
	}

	s.writeJSON(w, http.StatusOK, guardResult{
		RequestID:     req.RequestID,
		Action:        result.Action,
		ToolResult:    req.ToolResult,
		Modifications: req.Modifications,
	})
}

// handleGuardResponse runs post_response and finishes the request.
func (s *Server) handleGuardResponse(w http.ResponseWriter, r *http.Request) {
	var body guardResponseBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, ok := s.registry.Get(body.RequestID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown or expired request id")
		return
	}

	req.Response = body.Response
	result := s.pipeline.Run(r.Context(), guardrail.PhasePostResponse, req)

	s.registry.Remove(req.RequestID)
	s.recordAudit(req)

	if result.Action == guardrail.ActionBlock {
		s.blocked(w, req, guardrail.PhasePostResponse, result)
		return
	}

	s.writeJSON(w, http.StatusOK, guardResult{
		RequestID:     req.RequestID,
		Action:        result.Action,
		Response:      req.Response,
		Modifications: req.Modifications,
	})
}

// handleUpstream proxies a request to the named backend, applying
// pre_request to the outbound body and post_response to the returned one.
func (s *Server) handleUpstream(prefix, targetURL, provider string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := requestIDFrom(r.Context())
		log := s.logger.WithRequestID(requestID)

		target, err := url.Parse(targetURL)
		if err != nil {
			log.Error("Failed to parse upstream URL",
				zap.String("provider", provider),
				zap.Error(err),
			)
			s.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		rawBody, err := io.ReadAll(r.Body)
		if err != nil {
			log.Error("Failed to read request body", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to read request")
			return
		}
		r.Body.Close()

		req := guardrail.NewContext(requestID)
		req.Prompt = string(rawBody)
		req.ClientKey = clientIP(r)

		s.totalRequests.Add(1)
		result := s.pipeline.Run(r.Context(), guardrail.PhasePreRequest, req)
		if result.Action == guardrail.ActionBlock {
			s.blocked(w, req, guardrail.PhasePreRequest, result)
			return
		}

		outBody := []byte(req.Prompt)
		r.Body = io.NopCloser(bytes.NewReader(outBody))
		r.ContentLength = int64(len(outBody))
		r.Header.Set("Content-Length", strconv.Itoa(len(outBody)))

		r.URL.Path = strings.TrimPrefix(r.URL.Path, prefix)
		if r.URL.Path == "" {
			r.URL.Path = "/"
		}

		s.proxyRequest(w, r, target, provider, req)
	}
}

// proxyRequest forwards to the upstream and rewrites the response body
// through the post_response phase.
func (s *Server) proxyRequest(w http.ResponseWriter, r *http.Request, target *url.URL, provider string, req *guardrail.Context) {
	log := s.logger.WithRequestID(req.RequestID)

	proxy := httputil.NewSingleHostReverseProxy(target)

	proxy.Director = func(out *http.Request) {
		out.URL.Scheme = target.Scheme
		out.URL.Host = target.Host
		out.Host = target.Host
		// Keep the response body a plain byte stream for the post phase.
		out.Header.Del("Accept-Encoding")
		if _, ok := out.Header["User-Agent"]; !ok {
			out.Header.Set("User-Agent", "duckgate/"+Version)
		}
	}

	proxy.ModifyResponse = func(resp *http.Response) error {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		resp.Body.Close()

		req.Response = string(body)
		result := s.pipeline.Run(r.Context(), guardrail.PhasePostResponse, req)
		s.recordAudit(req)

		if result.Action == guardrail.ActionBlock {
			s.countBlock(req, guardrail.PhasePostResponse, result)
			blocked, _ := json.Marshal(guardResult{
				RequestID: req.RequestID,
				Action:    guardrail.ActionBlock,
				BlockedBy: result.BlockedBy,
				Reason:    result.Reason,
			})
			resp.StatusCode = http.StatusForbidden
			resp.Status = http.StatusText(http.StatusForbidden)
			resp.Header.Set("Content-Type", "application/json")
			resp.Body = io.NopCloser(bytes.NewReader(blocked))
			resp.ContentLength = int64(len(blocked))
			resp.Header.Set("Content-Length", strconv.Itoa(len(blocked)))
			return nil
		}

		rewritten := []byte(req.Response)
		resp.Body = io.NopCloser(bytes.NewReader(rewritten))
		resp.ContentLength = int64(len(rewritten))
		resp.Header.Set("Content-Length", strconv.Itoa(len(rewritten)))
		return nil
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Error("Proxy error",
			zap.String("provider", provider),
			zap.Error(err),
		)
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("upstream error: %v", err))
	}

	proxy.Transport = &http.Transport{
		ResponseHeaderTimeout: s.cfg.Upstream.Timeout,
	}

	start := time.Now()
	proxy.ServeHTTP(w, r)
	log.Info("Request proxied",
		zap.String("provider", provider),
		zap.Duration("upstream_duration", time.Since(start)),
	)
}

// blocked writes the 403 reply for a blocked request and publishes the
// block event.
func (s *Server) blocked(w http.ResponseWriter, req *guardrail.Context, phase guardrail.Phase, result guardrail.Result) {
	s.countBlock(req, phase, result)
	s.writeJSON(w, http.StatusForbidden, guardResult{
		RequestID: req.RequestID,
		Action:    guardrail.ActionBlock,
		BlockedBy: result.BlockedBy,
		Reason:    result.Reason,
	})
}

func (s *Server) countBlock(req *guardrail.Context, phase guardrail.Phase, result guardrail.Result) {
	s.totalBlocks.Add(1)
	s.hub.Publish(events.Event{
		Type:      events.EventTypeBlock,
		RequestID: req.RequestID,
		Data: events.BlockEvent{
			RequestID: req.RequestID,
			Phase:     string(phase),
			Module:    result.BlockedBy,
			Reason:    result.Reason,
		},
	})
}

// handleAuditRecent returns the persisted audit trail for one request.
// Registered only when the audit sink is configured.
func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["request_id"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := s.audit.Recent(r.Context(), requestID, limit)
	if err != nil {
		s.logger.Error("Failed to query audit entries",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "failed to query audit entries")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"request_id": requestID,
		"entries":    entries,
	})
}

func (s *Server) recordAudit(req *guardrail.Context) {
	if s.audit == nil || len(req.Modifications) == 0 {
		return
	}
	s.audit.RecordRequest(req, "pipeline")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// decodeRaw turns a raw JSON payload into the value the tool phases expect:
// structured data stays structured, JSON strings become plain text.
func decodeRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
