package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-fcm-devices/internal/devices"
	"github.com/tinywideclouds/go-fcm-devices/pkg/device"
	"github.com/tinywideclouds/go-fcm-devices/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// Registrar is the registry operation the API exposes.
type Registrar interface {
	RegisterOrUpdate(ctx context.Context, user urn.URN, token string, active bool, platform device.Platform, name string) (device.Device, bool, error)
}

// Sender delivers a single push and applies failure side effects.
type Sender interface {
	Send(ctx context.Context, d *device.Device, msg dispatch.Message) (*dispatch.Result, error)
}

// DeviceLister lists a user's active devices.
type DeviceLister interface {
	ListActive(ctx context.Context, user urn.URN) ([]device.Device, error)
}

// TestMessage is what the test-send endpoint pushes.
var TestMessage = dispatch.Message{
	Title: "Testing 123",
	Body:  "A test notification",
}

type DeviceAPI struct {
	Registry Registrar
	Sender   Sender
	Devices  DeviceLister
	Logger   *slog.Logger
}

func NewDeviceAPI(registry Registrar, sender Sender, lister DeviceLister, logger *slog.Logger) *DeviceAPI {
	return &DeviceAPI{
		Registry: registry,
		Sender:   sender,
		Devices:  lister,
		Logger:   logger.With("component", "DeviceAPI"),
	}
}

// RegisterDeviceRequest is the body of POST /api/v1/devices.
// Active defaults to true when omitted.
type RegisterDeviceRequest struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Token  string `json:"token"`
	Active *bool  `json:"active,omitempty"`
}

// DeviceResponse echoes the stored registration.
type DeviceResponse struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
	Type   string `json:"type"`
	Token  string `json:"token"`
}

// TestSendResponse aggregates the outcome of a test send across devices.
type TestSendResponse struct {
	Success     int            `json:"success"`
	Errors      int            `json:"errors"`
	ErrorCounts map[string]int `json:"error_counts"`
}

func (api *DeviceAPI) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userURN, ok := api.userFromRequest(w, r)
	if !ok {
		return
	}

	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	platform, err := device.ParsePlatform(req.Type)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "type must be one of ios, android, web")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	d, created, err := api.Registry.RegisterOrUpdate(ctx, userURN, req.Token, active, platform, req.Name)
	switch {
	case errors.Is(err, devices.ErrInvalidToken):
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	case errors.Is(err, devices.ErrNameTooLong), errors.Is(err, device.ErrUnknownPlatform):
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		api.Logger.Error("Device registration failed", "user", userURN.String(), "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, DeviceResponse{
		Name:   d.Name,
		Active: d.Active,
		Type:   string(d.Type),
		Token:  d.Token,
	})
}

// SendTest pushes TestMessage to each of the caller's active devices and
// reports how many succeeded, keyed by error code for the rest.
func (api *DeviceAPI) SendTest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userURN, ok := api.userFromRequest(w, r)
	if !ok {
		return
	}

	list, err := api.Devices.ListActive(ctx, userURN)
	if err != nil {
		api.Logger.Error("Failed to list devices for test send", "user", userURN.String(), "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	resp := TestSendResponse{ErrorCounts: map[string]int{}}
	for i := range list {
		result, err := api.Sender.Send(ctx, &list[i], TestMessage)
		if errors.Is(err, dispatch.ErrConfiguration) {
			api.Logger.Error("Test send hit a configuration error", "user", userURN.String(), "err", err)
			response.WriteJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err != nil && result == nil {
			resp.Errors++
			resp.ErrorCounts["transport"]++
			continue
		}
		resp.Success += result.Success
		for _, entry := range result.Results {
			if entry.Error != "" {
				resp.Errors++
				resp.ErrorCounts[entry.Error]++
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (api *DeviceAPI) userFromRequest(w http.ResponseWriter, r *http.Request) (user urn.URN, ok bool) {
	userID, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return user, false
	}
	user, err := urn.Parse(userID)
	if err != nil {
		api.Logger.Warn("Rejecting request with malformed identity", "user", userID, "err", err)
		response.WriteJSONError(w, http.StatusUnauthorized, "invalid identity")
		return user, false
	}
	return user, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
