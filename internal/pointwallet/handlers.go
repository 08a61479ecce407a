package pointwallet

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	walletinterfaces "github.com/kaigoh/pointwallet/wallet_interfaces"
	"github.com/rs/cors"
	"github.com/twitchtv/twirp"
)

const maxCommandBody = 64 << 10

func (s *Server) Handler() http.Handler {
	m := chi.NewMux()
	m.Use(middleware.Recoverer)
	m.Use(middleware.RealIP)
	m.Use(middleware.Logger)
	m.Use(middleware.Heartbeat("/hc"))
	m.Use(cors.AllowAll().Handler)

	m.Get("/healthz", HealthHandler(s.coord))

	m.Group(func(r chi.Router) {
		r.Use(handleAuth(s.store))
		r.With(s.limiter.middleware).Post("/commands/{command}", s.handleCommand)
		r.Get("/events", s.handleEvents)
	})

	return m
}

func renderJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	_ = json.NewEncoder(w).Encode(v)
}

func renderErr(w http.ResponseWriter, err error) {
	_ = twirp.WriteError(w, toTwirpError(err))
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	cmd := Command(chi.URLParam(r, "command"))
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		renderErr(w, twirp.Malformed.Error(err.Error()))
		return
	}

	slog.Debug("command received", "command", cmd, "transport", "http")
	out, err := s.surface.Dispatch(r.Context(), cmd, body)
	if err != nil {
		logCommandError(cmd, err)
		renderErr(w, err)
		return
	}
	renderJSON(w, out)
}

func logCommandError(cmd Command, err error) {
	if walletinterfaces.IsBackendError(err) {
		slog.Error("command failed", "command", cmd, "error", err)
		return
	}
	slog.Warn("command rejected", "command", cmd, "error", err)
}

// toTwirpError maps wallet errors onto twirp codes. The wallet error type is
// carried in the "type" meta key so hosts can branch on it.
func toTwirpError(err error) twirp.Error {
	var te twirp.Error
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, ErrUnknownCommand) {
		return twirp.NotFound.Error(err.Error())
	}
	if errors.Is(err, ErrInvalidArguments) {
		return twirp.InvalidArgumentError("args", err.Error())
	}

	var be *walletinterfaces.BackendError
	if errors.As(err, &be) {
		out := twirp.NewError(twirp.Unavailable, err.Error()).
			WithMeta("type", string(WalletErrorBackend)).
			WithMeta("op", be.Op)
		if be.Payload != "" {
			out = out.WithMeta("payload", be.Payload)
		}
		if be.Status != 0 {
			out = out.WithMeta("status", strconv.Itoa(be.Status))
		}
		return out
	}

	var we *WalletError
	if errors.As(err, &we) {
		code := twirp.Internal
		switch we.Type {
		case WalletErrorNotEnoughFunds, WalletErrorInvalidAmount:
			code = twirp.InvalidArgument
		case WalletErrorNotReady, WalletErrorConfirmationPresent:
			code = twirp.Unavailable
		case WalletErrorSubmissionInFlight:
			code = twirp.Aborted
		case WalletErrorStaleConfirmation:
			code = twirp.FailedPrecondition
		}
		return twirp.NewError(code, err.Error()).WithMeta("type", string(we.Type))
	}

	return twirp.InternalErrorWith(err)
}
