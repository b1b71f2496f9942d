package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/dgnsrekt/titlebot/internal/rename"
	"github.com/dgnsrekt/titlebot/internal/state"
)

// TokenVerifier checks a token and returns the member id it belongs to.
type TokenVerifier interface {
	Verify(tokenString string) (string, error)
}

// Renamer runs the full rename workflow.
type Renamer interface {
	Rename(ctx context.Context, tokenString, requested string) (rename.Result, error)
}

type Server struct {
	store   *state.Store
	tokens  TokenVerifier
	renamer Renamer
	prefix  string
	logger  *zap.Logger
}

func NewServer(store *state.Store, tokens TokenVerifier, renamer Renamer, prefix string, logger *zap.Logger) *Server {
	return &Server{
		store:   store,
		tokens:  tokens,
		renamer: renamer,
		prefix:  prefix,
		logger:  logger,
	}
}

// handleTitle serves both reads and renames:
//
//	GET /title?t=<token>              -> current title
//	GET /title?t=<token>&n=<newTitle> -> rename
func (s *Server) handleTitle(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// An empty t= is as good as none.
	tok := query.Get("t")
	if tok == "" {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "token not specified"})
		return
	}

	if newTitle := query.Get("n"); newTitle != "" {
		s.handleRename(w, r, tok, newTitle)
		return
	}

	if _, err := s.tokens.Verify(tok); err != nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid token"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"title":  s.displayTitle(),
		"prefix": s.prefix,
	})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request, tok, requested string) {
	result, err := s.renamer.Rename(r.Context(), tok, requested)

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{
			"result": result.Remote.Status,
			"title":  result.Title,
			"prefix": result.Prefix,
		})

	case errors.Is(err, rename.ErrInvalidToken):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid token"})

	case errors.Is(err, rename.ErrTitleTooLong):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":  "title too long",
			"title":  s.displayTitle(),
			"prefix": s.prefix,
		})

	case errors.Is(err, rename.ErrRenameRejected):
		writeJSON(w, http.StatusNotAcceptable, map[string]string{
			"result": result.Remote.Status,
			"title":  s.displayTitle(),
			"prefix": s.prefix,
		})

	default:
		s.logger.Warn("rename failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":  "rename failed",
			"title":  s.displayTitle(),
			"prefix": s.prefix,
		})
	}
}

// handleMembers dumps the membership snapshot keyed by stringified
// member id.
func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	_, members := s.store.Snapshot()
	writeJSON(w, http.StatusOK, members)
}

// displayTitle is the stored title with the prefix stripped.
func (s *Server) displayTitle() string {
	return strings.TrimPrefix(s.store.Title(), s.prefix)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
