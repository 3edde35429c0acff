package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// writeJSON writes v with status. A value that cannot be encoded becomes a
// 500 with the standard error body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		status, data = http.StatusInternalServerError, []byte(`{"error":"internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts reads limit (default 50, capped at 500), offset and the
// RFC 3339 since/until window. Malformed values are rejected.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: defaultListLimit}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, fmt.Errorf("limit must be a positive integer, got %q", v)
		}
		opts.Limit = min(n, maxListLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("offset must be a non-negative integer, got %q", v)
		}
		opts.Offset = n
	}
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, fmt.Errorf("%s must be RFC 3339, got %q", name, v)
		}
		*dst = &t
	}
	if opts.Since != nil && opts.Until != nil && opts.Until.Before(*opts.Since) {
		return opts, errors.New("until must not be before since")
	}
	return opts, nil
}

// accountRequest names one (wallet, mode) account. It is read from a JSON
// body or, failing that, the wallet and mode query parameters.
type accountRequest struct {
	WalletID string `json:"wallet_id"`
	Mode     string `json:"mode"`
}

var errAccountRequired = errors.New("wallet_id and mode are required")

// parseAccount resolves the target account of a request.
func parseAccount(r *http.Request) (string, domain.TradingMode, error) {
	var req accountRequest
	if r.Body != nil && r.ContentLength != 0 && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
			return "", "", errors.New("invalid JSON body")
		}
	}
	q := r.URL.Query()
	if req.WalletID == "" {
		req.WalletID = q.Get("wallet")
	}
	if req.Mode == "" {
		req.Mode = q.Get("mode")
	}

	wallet := strings.TrimSpace(req.WalletID)
	if wallet == "" || req.Mode == "" {
		return "", "", errAccountRequired
	}
	mode, err := domain.ParseTradingMode(req.Mode)
	if err != nil {
		return "", "", err
	}
	return wallet, mode, nil
}

func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
