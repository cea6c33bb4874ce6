package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pogo-ws/bridge/internal/broadcast"
	"github.com/pogo-ws/bridge/store"
)

const (
	// hasIdent makes wrap resolve the caller's session into an Identity.
	hasIdent = 1 << iota
)

// Signature header on transport-originated webhooks.
const headerSignature = "X-Pusher-Signature"

// reqCtx is the context injected into every request. ident is nil for
// unauthenticated callers.
type reqCtx struct {
	app   *App
	ident *broadcast.Identity
}

// jsonResp is the envelope for all JSON API responses.
type jsonResp struct {
	Error *string     `json:"error"`
	Data  interface{} `json:"data"`
}

type reqTrigger struct {
	Channels []string               `json:"channels"`
	Event    string                 `json:"event"`
	Data     map[string]interface{} `json:"data"`
}

// handleAuth authorizes a channel join and returns the signed
// AuthResponse the client forwards to the transport.
func handleAuth(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	channelName, socketID, err := readAuthReq(r)
	if err != nil {
		respondJSON(w, nil, errors.New("error parsing request"), http.StatusBadRequest)
		return
	}
	if channelName == "" || socketID == "" {
		respondJSON(w, nil, errors.New("channel_name and socket_id are required"), http.StatusBadRequest)
		return
	}

	out, err := app.bcast.Authorize(r.Context(), socketID, channelName, ctx.ident)
	if err != nil {
		if errors.Is(err, broadcast.ErrAccessDenied) {
			app.metrics.AuthzRequests.WithLabelValues("denied").Inc()
			respondJSON(w, nil, errors.New("access denied"), http.StatusForbidden)
			return
		}
		app.metrics.AuthzRequests.WithLabelValues("error").Inc()
		app.log.Error("error authorizing channel",
			zap.String("channel", channelName), zap.Error(err))
		respondJSON(w, nil, errors.New("error authorizing channel"), http.StatusInternalServerError)
		return
	}

	app.metrics.AuthzRequests.WithLabelValues("granted").Inc()
	writeJSON(w, out, http.StatusOK)
}

// handleUserAuth binds a socket connection to the authenticated user.
func handleUserAuth(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	_, socketID, err := readAuthReq(r)
	if err != nil || socketID == "" {
		respondJSON(w, nil, errors.New("socket_id is required"), http.StatusBadRequest)
		return
	}

	out, err := app.bcast.AuthenticateUser(socketID, ctx.ident)
	if err != nil {
		app.metrics.UserAuthRequests.WithLabelValues("denied").Inc()
		respondJSON(w, nil, errors.New("user not authenticated"), http.StatusForbidden)
		return
	}

	app.metrics.UserAuthRequests.WithLabelValues("granted").Inc()
	writeJSON(w, out, http.StatusOK)
}

// handleWebhook validates transport lifecycle callbacks and applies them
// to the occupancy set.
func handleWebhook(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondJSON(w, nil, errors.New("error reading request body"), http.StatusBadRequest)
		return
	}

	events, err := broadcast.VerifyWebhook([]byte(app.cfg.Secret), body, r.Header.Get(headerSignature))
	if err != nil {
		if errors.Is(err, broadcast.ErrSignatureMismatch) {
			app.metrics.WebhookRejected.Inc()
			app.log.Warn("webhook signature mismatch", zap.String("remote", r.RemoteAddr))
			respondJSON(w, nil, errors.New("invalid signature"), http.StatusUnauthorized)
			return
		}
		respondJSON(w, nil, errors.New("error parsing webhook body"), http.StatusBadRequest)
		return
	}

	for _, ev := range events {
		switch ev.Name {
		case broadcast.EventChannelOccupied:
			app.metrics.WebhookEvents.WithLabelValues(ev.Name).Inc()
			if err := app.store.MarkOccupied(ev.Channel); err != nil {
				app.log.Error("error marking channel occupied",
					zap.String("channel", ev.Channel), zap.Error(err))
			}
		case broadcast.EventChannelVacated:
			app.metrics.WebhookEvents.WithLabelValues(ev.Name).Inc()
			if err := app.store.MarkVacated(ev.Channel); err != nil {
				app.log.Error("error marking channel vacated",
					zap.String("channel", ev.Channel), zap.Error(err))
			}
		default:
			app.metrics.WebhookEvents.WithLabelValues("other").Inc()
			app.log.Info("webhook event",
				zap.String("name", ev.Name), zap.String("channel", ev.Channel))
		}
	}

	respondJSON(w, true, nil, http.StatusOK)
}

// handleTrigger lets the host application broadcast an event over HTTP
// instead of importing the dispatcher directly.
func handleTrigger(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if app.cfg.APIKey == "" ||
		subtle.ConstantTimeCompare([]byte(key), []byte(app.cfg.APIKey)) != 1 {
		respondJSON(w, nil, errors.New("invalid api key"), http.StatusForbidden)
		return
	}

	var req reqTrigger
	if err := readJSONReq(r, &req); err != nil {
		respondJSON(w, nil, errors.New("error parsing JSON request"), http.StatusBadRequest)
		return
	}
	if req.Event == "" {
		respondJSON(w, nil, errors.New("event is required"), http.StatusBadRequest)
		return
	}

	// Best-effort, synchronous. Failures are absorbed by the dispatcher.
	app.bcast.Broadcast(r.Context(), req.Channels, req.Event, req.Data)
	respondJSON(w, true, nil, http.StatusOK)
}

// handleChannels lists the channels the transport reported as occupied.
func handleChannels(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	channels, err := app.store.ListOccupied()
	if err != nil {
		app.log.Error("error listing occupied channels", zap.Error(err))
		respondJSON(w, nil, errors.New("error listing channels"), http.StatusInternalServerError)
		return
	}

	respondJSON(w, struct {
		Channels []string `json:"channels"`
	}{channels}, nil, http.StatusOK)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, true, nil, http.StatusOK)
}

// wrap is a middleware that attaches the app context to handlers and,
// when asked, resolves the caller's session into an Identity.
func wrap(next http.HandlerFunc, app *App, opts uint8) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := &reqCtx{app: app}

		if opts&hasIdent != 0 {
			token := sessionToken(r, app.cfg.SessionCookie)
			if token != "" {
				s, err := app.store.GetSession(token)
				switch {
				case err == nil:
					req.ident = &broadcast.Identity{ID: s.UserID, Info: s.Info}
				case errors.Is(err, store.ErrSessionNotFound):
					// Proceed unauthenticated; private channels will be denied.
				default:
					app.log.Error("error checking session", zap.Error(err))
					respondJSON(w, nil, errors.New("error checking session"), http.StatusInternalServerError)
					return
				}
			}
		}

		// Attach the request context.
		ctx := context.WithValue(r.Context(), "ctx", req)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionToken extracts the session token from the Authorization header
// or, failing that, the session cookie.
func sessionToken(r *http.Request, cookieName string) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if ck, _ := r.Cookie(cookieName); ck != nil {
		return ck.Value
	}
	return ""
}

// readAuthReq reads channel_name and socket_id from an auth request. The
// source is picked explicitly by Content-Type: JSON bodies and HTML-form
// bodies are both accepted, but never mixed.
func readAuthReq(r *http.Request) (channelName, socketID string, err error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			ChannelName string `json:"channel_name"`
			SocketID    string `json:"socket_id"`
		}
		if err := readJSONReq(r, &req); err != nil {
			return "", "", err
		}
		return req.ChannelName, req.SocketID, nil
	}

	if err := r.ParseForm(); err != nil {
		return "", "", err
	}
	return r.PostFormValue("channel_name"), r.PostFormValue("socket_id"), nil
}

// respondJSON responds to an HTTP request with a generic payload or an
// error wrapped in the jsonResp envelope.
func respondJSON(w http.ResponseWriter, data interface{}, err error, statusCode int) {
	out := jsonResp{Data: data}
	if err != nil {
		e := err.Error()
		out.Error = &e
	}
	writeJSON(w, out, statusCode)
}

// writeJSON writes a payload as-is. Auth responses use this directly as
// the transport client libraries expect top-level auth fields, not an
// envelope.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	b, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	w.Write(b)
}

// readJSONReq reads the JSON body from a request and unmarshals it to the
// given target.
func readJSONReq(r *http.Request, o interface{}) error {
	defer r.Body.Close()
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, o)
}
