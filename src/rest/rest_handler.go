package rest

import (
	"encoding/json"
	"fmt"
	"net/http"

	"event-ingestor/src/bridge"
	"event-ingestor/src/logger"
)

// -----------------------------------------------------------------------------
// APIHandler exposes the bridge's control operations over HTTP.
// -----------------------------------------------------------------------------

type APIHandler struct {
	name   string
	logger *logger.Logger
	bridge *bridge.Bridge
}

// -----------------------------------------------------------------------------

// NewAPIHandler creates a new REST API handler bound to a running bridge.
func NewAPIHandler(bridge *bridge.Bridge, logger *logger.Logger) *APIHandler {
	return &APIHandler{
		name:   "APIHandler",
		logger: logger,
		bridge: bridge,
	}
}

// -----------------------------------------------------------------------------

// RegisterRoutes attaches all handler endpoints to the given mux.
func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/rest/health", h.HealthCheck)
	mux.HandleFunc("/rest/feeds/add", h.AddFeed)
	mux.HandleFunc("/rest/feeds/remove", h.RemoveFeed)
	mux.HandleFunc("/rest/feeds/list", h.ListFeeds)
	mux.HandleFunc("/rest/feeds/status", h.GetFeedStatus)
	mux.HandleFunc("/rest/feeds/status/all", h.GetAllFeedStatuses)
	mux.HandleFunc("/rest/channels/subscribe", h.SubscribeChannel)
	mux.HandleFunc("/rest/channels/unsubscribe", h.UnsubscribeChannel)
}

// -----------------------------------------------------------------------------
// Request/Response payloads
// -----------------------------------------------------------------------------

type feedRequest struct {
	Feed string `json:"feed"`
}

type channelRequest struct {
	Feed    string   `json:"feed"`
	Channel string   `json:"channel"`
	Events  []string `json:"events,omitempty"`
}

type apiResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// -----------------------------------------------------------------------------
// Endpoint handlers
// -----------------------------------------------------------------------------

// HealthCheck reports bridge and publisher health.
func (h *APIHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"publisher_connected": h.bridge.IsPublisherConnected(),
		"feeds":               len(h.bridge.ListFeeds()),
	}
	h.writeJSON(w, http.StatusOK, &apiResponse{Success: true, Data: health})
}

// -----------------------------------------------------------------------------

// AddFeed creates and starts a feed defined in the configuration.
func (h *APIHandler) AddFeed(w http.ResponseWriter, r *http.Request) {
	var req feedRequest
	if !h.decodePost(w, r, &req) {
		return
	}

	if err := h.bridge.AddFeed(req.Feed); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.writeJSON(w, http.StatusOK, &apiResponse{Success: true, Message: fmt.Sprintf("feed '%s' added", req.Feed)})
}

// -----------------------------------------------------------------------------

// RemoveFeed disconnects and removes a running feed.
func (h *APIHandler) RemoveFeed(w http.ResponseWriter, r *http.Request) {
	var req feedRequest
	if !h.decodePost(w, r, &req) {
		return
	}

	if err := h.bridge.RemoveFeed(req.Feed); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.writeJSON(w, http.StatusOK, &apiResponse{Success: true, Message: fmt.Sprintf("feed '%s' removed", req.Feed)})
}

// -----------------------------------------------------------------------------

// ListFeeds returns the names of all managed feeds.
func (h *APIHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, &apiResponse{Success: true, Data: h.bridge.ListFeeds()})
}

// -----------------------------------------------------------------------------

// GetFeedStatus returns the status of one feed (?feed=<name>).
func (h *APIHandler) GetFeedStatus(w http.ResponseWriter, r *http.Request) {
	feedName := r.URL.Query().Get("feed")
	if feedName == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("missing 'feed' query parameter"))
		return
	}

	status, err := h.bridge.GetFeedStatus(feedName)
	if err != nil {
		h.writeError(w, http.StatusNotFound, err)
		return
	}
	h.writeJSON(w, http.StatusOK, &apiResponse{Success: true, Data: status})
}

// -----------------------------------------------------------------------------

// GetAllFeedStatuses returns the status of every managed feed.
func (h *APIHandler) GetAllFeedStatuses(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, &apiResponse{Success: true, Data: h.bridge.GetAllFeedStatuses()})
}

// -----------------------------------------------------------------------------

// SubscribeChannel subscribes a feed to an additional channel at runtime.
func (h *APIHandler) SubscribeChannel(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if !h.decodePost(w, r, &req) {
		return
	}

	if err := h.bridge.SubscribeChannel(req.Feed, req.Channel, req.Events); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.writeJSON(w, http.StatusOK, &apiResponse{
		Success: true,
		Message: fmt.Sprintf("feed '%s' subscribed to channel '%s'", req.Feed, req.Channel),
	})
}

// -----------------------------------------------------------------------------

// UnsubscribeChannel drops a channel subscription from a feed.
func (h *APIHandler) UnsubscribeChannel(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if !h.decodePost(w, r, &req) {
		return
	}

	if err := h.bridge.UnsubscribeChannel(req.Feed, req.Channel); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.writeJSON(w, http.StatusOK, &apiResponse{
		Success: true,
		Message: fmt.Sprintf("feed '%s' unsubscribed from channel '%s'", req.Feed, req.Channel),
	})
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// decodePost enforces the POST method and decodes the JSON body. Writes the
// error response itself and returns false when the request is unusable.
func (h *APIHandler) decodePost(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed, use POST", r.Method))
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

// -----------------------------------------------------------------------------

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("%s : failed to encode response: %v", h.name, err)
	}
}

// -----------------------------------------------------------------------------

func (h *APIHandler) writeError(w http.ResponseWriter, status int, err error) {
	h.logger.Warning("%s : request failed: %v", h.name, err)
	h.writeJSON(w, status, &apiResponse{Success: false, Message: err.Error()})
}
