// Package platform selects the push backend for a deployment. Backends are
// registered by name; the configured name picks one at startup.
package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	firebase "firebase.google.com/go/v4"
	"github.com/tinywideclouds/go-fcm-devices/internal/platform/apns"
	"github.com/tinywideclouds/go-fcm-devices/internal/platform/console"
	"github.com/tinywideclouds/go-fcm-devices/internal/platform/fcm"
	"github.com/tinywideclouds/go-fcm-devices/internal/platform/fcmlegacy"
	"github.com/tinywideclouds/go-fcm-devices/internal/platform/web"
	"github.com/tinywideclouds/go-fcm-devices/notificationservice/config"
	"github.com/tinywideclouds/go-fcm-devices/pkg/dispatch"
)

// Built-in backend names.
const (
	Console   = "console"
	FCMLegacy = "fcm-legacy"
	FCM       = "fcm"
	APNS      = "apns"
	Web       = "web"
)

var (
	ErrUnknownBackend    = errors.New("unknown push backend")
	ErrMissingCredential = errors.New("push backend credential missing")
)

// Factory builds a Backend from configuration.
type Factory func(ctx context.Context, cfg config.PushConfig, logger *slog.Logger) (dispatch.Backend, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

func init() {
	Register(Console, newConsole)
	Register(FCMLegacy, newFCMLegacy)
	Register(FCM, newFCM)
	Register(APNS, newAPNS)
	Register(Web, newWeb)
}

// Register makes a factory available under name, replacing any previous one.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
}

// Names lists the registered backend names in order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewBackend builds the configured backend. An empty name selects the
// console backend.
func NewBackend(ctx context.Context, cfg config.PushConfig, logger *slog.Logger) (dispatch.Backend, error) {
	name := strings.TrimSpace(cfg.Backend)
	if name == "" {
		name = Console
	}

	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %s)", ErrUnknownBackend, name, strings.Join(Names(), ", "))
	}

	backend, err := f(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", name, err)
	}
	logger.Info("Push backend selected", "backend", name)
	return backend, nil
}

func newConsole(_ context.Context, _ config.PushConfig, logger *slog.Logger) (dispatch.Backend, error) {
	return console.NewBackend(logger), nil
}

func newFCMLegacy(_ context.Context, cfg config.PushConfig, logger *slog.Logger) (dispatch.Backend, error) {
	if cfg.FCMAPIKey == "" {
		return nil, fmt.Errorf("%w: fcm_api_key", ErrMissingCredential)
	}
	return fcmlegacy.NewBackend(cfg.FCMAPIKey, cfg.FCMEndpoint, cfg.Timeout, logger), nil
}

func newFCM(ctx context.Context, cfg config.PushConfig, logger *slog.Logger) (dispatch.Backend, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("%w: project_id", ErrMissingCredential)
	}
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase App: %w", err)
	}
	client, err := fbApp.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create FCM messaging client: %w", err)
	}
	return fcm.NewBackend(client, logger), nil
}

func newAPNS(_ context.Context, cfg config.PushConfig, logger *slog.Logger) (dispatch.Backend, error) {
	if cfg.APNS.P8KeyContent == "" || cfg.APNS.KeyID == "" || cfg.APNS.TeamID == "" {
		return nil, fmt.Errorf("%w: apns key_id, team_id and p8_key", ErrMissingCredential)
	}
	return apns.NewBackend(cfg.APNS, logger)
}

func newWeb(_ context.Context, cfg config.PushConfig, logger *slog.Logger) (dispatch.Backend, error) {
	if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
		return nil, fmt.Errorf("%w: vapid public_key and private_key", ErrMissingCredential)
	}
	return web.NewBackend(cfg.Vapid, cfg.Timeout, logger), nil
}
