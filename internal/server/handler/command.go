package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// Dispatcher runs an operator command.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, args []string) (string, error)
}

// CommandHandler exposes the command registry over HTTP.
type CommandHandler struct {
	commands Dispatcher
	logger   *slog.Logger
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(commands Dispatcher, logger *slog.Logger) *CommandHandler {
	return &CommandHandler{commands: commands, logger: logger}
}

type commandRequest struct {
	Args []string `json:"args"`
}

type commandResponse struct {
	Command string `json:"command"`
	Reply   string `json:"reply"`
}

// Run dispatches the named command. The JSON body {"args": [...]} is
// optional.
// POST /api/commands/{name}
func (h *CommandHandler) Run(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req commandRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.commands.Dispatch(r.Context(), name, req.Args)
	switch {
	case errors.Is(err, domain.ErrUnknownCommand):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, domain.ErrMalformed):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "handler: command failed",
			slog.String("command", name),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Command: name, Reply: reply})
}
