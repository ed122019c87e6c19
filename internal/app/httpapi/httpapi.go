package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"sketchboard/internal/app/boards"
	"sketchboard/internal/app/export"
	"sketchboard/pkg/canvas/coordinator"
	"sketchboard/pkg/canvas/hub"
)

const requestTimeout = 3 * time.Second

type Settings struct {
	PublicWSURL string
	Canvas      export.Canvas
}

type HubManager interface {
	HubForBoard(code string) *hub.Hub
	Close(code string)
}

// Deps are the collaborators the router serves.
type Deps struct {
	Settings  Settings
	Boards    boards.Store
	Hubs      HubManager
	StaticDir string
	Logger    *slog.Logger
}

// NewRouter wires every HTTP route of the server.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := mux.NewRouter()
	r.Use(requestLogger(logger))

	r.Methods(http.MethodGet).Path("/ws").Handler(WSHandler(d.Hubs, d.Boards, logger))
	r.Methods(http.MethodGet).Path("/healthz").Handler(HealthHandler())
	r.Methods(http.MethodGet).Path("/api/settings").Handler(SettingsHandler(d.Settings, logger))

	r.Methods(http.MethodPost).Path("/api/boards").Handler(CreateBoardHandler(d.Boards, logger))

	api := r.PathPrefix("/api/boards").Subrouter()
	api.Methods(http.MethodGet).Path("/{code}").Handler(BoardLookupHandler(d.Boards, logger))
	api.Methods(http.MethodDelete).Path("/{code}").Handler(DeleteBoardHandler(d.Boards, d.Hubs, logger))
	api.Methods(http.MethodGet).Path("/{code}/history").Handler(HistoryHandler(d.Boards, d.Hubs, logger))
	api.Methods(http.MethodGet).Path("/{code}/participants").Handler(ParticipantsHandler(d.Boards, d.Hubs, logger))
	api.Methods(http.MethodGet).Path("/{code}/export.pdf").Handler(ExportHandler(d.Boards, d.Hubs, d.Settings.Canvas, "pdf", logger))
	api.Methods(http.MethodGet).Path("/{code}/export.png").Handler(ExportHandler(d.Boards, d.Hubs, d.Settings.Canvas, "png", logger))

	r.PathPrefix("/").Handler(SPAHandler(d.StaticDir))
	return r
}

func requestLogger(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)
			logger.Debug("handled", "method", r.Method, "url", r.URL.String(), "duration", m.Duration, "status", m.Code, "bytes", m.Written)
		})
	}
}

func SPAHandler(staticDir string) http.Handler {
	fs := http.FileServer(http.Dir(staticDir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" || strings.HasPrefix(r.URL.Path, "/api/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		path := filepath.Join(staticDir, filepath.Clean(r.URL.Path))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			fs.ServeHTTP(w, r)
			return
		}

		index := filepath.Join(staticDir, "index.html")
		http.ServeFile(w, r, index)
	})
}

func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, nil)
	})
}

func SettingsHandler(settings Settings, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]interface{}{
			"wsURL":        resolveWSURL(settings, r),
			"canvasWidth":  settings.Canvas.Width,
			"canvasHeight": settings.Canvas.Height,
		}
		writeJSON(w, http.StatusOK, payload, logger)
	})
}

func resolveWSURL(settings Settings, r *http.Request) string {
	if settings.PublicWSURL != "" {
		return settings.PublicWSURL
	}

	proto := "ws"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		proto = "wss"
	}

	host := r.Host
	if host == "" {
		host = "localhost:8080"
	}

	return fmt.Sprintf("%s://%s/ws", proto, host)
}

func WSHandler(hubs HubManager, store boards.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := strings.TrimSpace(r.URL.Query().Get("board"))
		if code == "" {
			code = boards.Lobby
		}
		board, ok := lookupBoard(w, r, store, code, logger)
		if !ok {
			return
		}

		h := hubs.HubForBoard(board.Code)
		if h == nil {
			http.Error(w, "board not available", http.StatusServiceUnavailable)
			return
		}

		h.HTTPHandler().ServeHTTP(w, r)
	})
}

func CreateBoardHandler(store boards.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		board, err := store.Create(ctx)
		if err != nil {
			logger.Error("board create error", "err", err)
			http.Error(w, "failed to create board", http.StatusInternalServerError)
			return
		}

		payload := map[string]interface{}{
			"code":      board.Code,
			"createdAt": board.CreatedAt,
			"url":       boardURL(r, board.Code),
		}
		writeJSON(w, http.StatusCreated, payload, logger)
	})
}

func BoardLookupHandler(store boards.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		board, ok := lookupBoard(w, r, store, mux.Vars(r)["code"], logger)
		if !ok {
			return
		}
		payload := map[string]interface{}{
			"code":      board.Code,
			"createdAt": board.CreatedAt,
			"url":       boardURL(r, board.Code),
		}
		writeJSON(w, http.StatusOK, payload, logger)
	})
}

func DeleteBoardHandler(store boards.Store, hubs HubManager, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := boards.CanonicalCode(mux.Vars(r)["code"])
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		if err := store.Delete(ctx, code); err != nil {
			switch {
			case errors.Is(err, boards.ErrNotFound):
				http.NotFound(w, r)
			case errors.Is(err, boards.ErrReserved):
				http.Error(w, "board cannot be deleted", http.StatusConflict)
			default:
				logger.Error("board delete error", "board", code, "err", err)
				http.Error(w, "failed to delete board", http.StatusInternalServerError)
			}
			return
		}
		hubs.Close(code)
		w.WriteHeader(http.StatusNoContent)
	})
}

func HistoryHandler(store boards.Store, hubs HubManager, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, ok := boardState(w, r, store, hubs, logger)
		if !ok {
			return
		}
		payload := map[string]interface{}{
			"strokes":   st.History,
			"redoDepth": st.RedoDepth,
		}
		writeJSON(w, http.StatusOK, payload, logger)
	})
}

func ParticipantsHandler(store boards.Store, hubs HubManager, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, ok := boardState(w, r, store, hubs, logger)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, st.Participants, logger)
	})
}

func ExportHandler(store boards.Store, hubs HubManager, canvas export.Canvas, format string, logger *slog.Logger) http.Handler {
	render, contentType := export.PNG, "image/png"
	if format == "pdf" {
		render, contentType = export.PDF, "application/pdf"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, ok := boardState(w, r, store, hubs, logger)
		if !ok {
			return
		}

		var buf bytes.Buffer
		if err := render(&buf, canvas, st.History); err != nil {
			logger.Error("export error", "format", format, "err", err)
			http.Error(w, "failed to export board", http.StatusInternalServerError)
			return
		}
		code := boards.CanonicalCode(mux.Vars(r)["code"])
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, code, format))
		_, _ = buf.WriteTo(w)
	})
}

func lookupBoard(w http.ResponseWriter, r *http.Request, store boards.Store, code string, logger *slog.Logger) (*boards.Board, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	board, err := store.Get(ctx, code)
	if err != nil {
		if errors.Is(err, boards.ErrNotFound) {
			http.Error(w, "board not found", http.StatusNotFound)
			return nil, false
		}
		logger.Error("board lookup error", "board", code, "err", err)
		http.Error(w, "board lookup failed", http.StatusInternalServerError)
		return nil, false
	}
	return board, true
}

func boardState(w http.ResponseWriter, r *http.Request, store boards.Store, hubs HubManager, logger *slog.Logger) (coordinator.State, bool) {
	board, ok := lookupBoard(w, r, store, mux.Vars(r)["code"], logger)
	if !ok {
		return coordinator.State{}, false
	}
	code := board.Code
	h := hubs.HubForBoard(code)
	if h == nil {
		http.Error(w, "board not available", http.StatusServiceUnavailable)
		return coordinator.State{}, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	st, err := h.Coordinator().Snapshot(ctx)
	if err != nil {
		logger.Warn("board snapshot error", "board", code, "err", err)
		http.Error(w, "board not available", http.StatusServiceUnavailable)
		return coordinator.State{}, false
	}
	return st, true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && logger != nil {
		logger.Warn("encode response", "err", err)
	}
}

func boardURL(r *http.Request, code string) string {
	proto := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		proto = "https"
	}
	host := r.Host
	if host == "" {
		host = "localhost:8080"
	}
	return fmt.Sprintf("%s://%s/boards/%s", proto, host, code)
}
