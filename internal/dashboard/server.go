// Package dashboard exposes a read-only monitoring surface: REST endpoints
// over the ledger and risk state plus a websocket event stream.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dmarchetti/trident/internal/ledger"
	"github.com/dmarchetti/trident/internal/models"
	"github.com/dmarchetti/trident/internal/risk"
)

// Config holds the dashboard server settings.
type Config struct {
	Listen    string
	AuthToken string
}

// Server is the monitoring HTTP server. It only reads; no endpoint mutates
// trading state except the explicit risk-halt acknowledgment.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	book      *ledger.Ledger
	risk      *risk.Manager
	hub       *Hub
	logger    *logrus.Logger
	listen    string
	authToken string
}

// PositionView is the wire shape for one position.
type PositionView struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Strategy    string    `json:"strategy"`
	State       string    `json:"state"`
	OpenedAt    time.Time `json:"opened_at"`
	DTE         int       `json:"dte"`
	EntryDebit  string    `json:"entry_debit"`
	LastMark    float64   `json:"last_mark"`
	PnLPercent  float64   `json:"pnl_percent"`
	ExitReason  string    `json:"exit_reason,omitempty"`
	RealizedPnL string    `json:"realized_pnl,omitempty"`
}

// Statistics summarizes closed-trade performance.
type Statistics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      string  `json:"total_pnl"`
	CurrentOpen   int     `json:"current_open"`
}

// NewServer creates the dashboard server and wires its routes.
func NewServer(cfg Config, book *ledger.Ledger, rm *risk.Manager, hub *Hub, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:    chi.NewRouter(),
		book:      book,
		risk:      rm,
		hub:       hub,
		logger:    logger,
		listen:    cfg.Listen,
		authToken: cfg.AuthToken,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/positions", s.handlePositions)
	s.router.Get("/api/positions/{id}", s.handlePosition)
	s.router.Get("/api/archive", s.handleArchive)
	s.router.Get("/api/stats", s.handleStats)
	s.router.Get("/api/events", s.handleEvents)
	s.router.Get("/api/risk", s.handleRisk)
	s.router.Post("/api/risk/acknowledge", s.handleAcknowledge)
	s.router.Get("/ws", s.hub.HandleWS)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.listen,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.WithField("listen", s.listen).Info("dashboard server starting")
	return s.server.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	positions := s.book.SnapshotAll()
	views := make([]PositionView, len(positions))
	for i := range positions {
		views[i] = toView(&positions[i])
	}
	s.writeJSON(w, views)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := s.book.Get(id)
	if !ok {
		http.Error(w, "position not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, toView(&p))
}

func (s *Server) handleArchive(w http.ResponseWriter, _ *http.Request) {
	archive := s.book.Archive()
	views := make([]PositionView, len(archive))
	for i := range archive {
		views[i] = toView(&archive[i])
	}
	s.writeJSON(w, views)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	archive := s.book.Archive()
	stats := Statistics{
		TotalTrades: len(archive),
		CurrentOpen: s.book.ActiveCount(),
	}
	total := decimal.Zero
	for i := range archive {
		pnl := archive[i].RealizedPnL
		total = total.Add(pnl)
		if pnl.IsNegative() {
			stats.LosingTrades++
		} else {
			stats.WinningTrades++
		}
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	}
	stats.TotalPnL = total.StringFixed(2)
	s.writeJSON(w, stats)
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.hub.Recent())
}

func (s *Server) handleRisk(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.risk.Status())
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, _ *http.Request) {
	s.risk.Acknowledge()
	s.writeJSON(w, map[string]any{"acknowledged": true})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("encoding dashboard response")
	}
}

func toView(p *models.Position) PositionView {
	v := PositionView{
		ID:         p.ID,
		Symbol:     p.Symbol,
		Strategy:   string(p.Strategy),
		State:      string(p.State),
		OpenedAt:   p.OpenedAt,
		DTE:        p.DTE(),
		EntryDebit: p.EntryDebit.StringFixed(2),
		LastMark:   p.LastMark,
		PnLPercent: p.ProfitPercent(p.LastMark),
		ExitReason: p.ExitReason,
	}
	if p.State == models.StateClosed {
		v.RealizedPnL = p.RealizedPnL.StringFixed(2)
	}
	return v
}
