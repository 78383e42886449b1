package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"flash-buyer/internal/purchase"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Server struct {
	router     *mux.Router
	buyer      *purchase.Buyer
	hub        *Hub
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	opts       Options
	log        *zap.Logger

	// runCtx outlives requests and ends on Shutdown.
	runCtx    context.Context
	cancelRun context.CancelFunc
}

type Options struct {
	Addr        string
	DefaultMode string
	// RunTimeout bounds each purchase run started over HTTP.
	RunTimeout time.Duration
}

type PurchaseRequest struct {
	Product string `json:"product"`
	Mode    string `json:"mode"`
}

type ActionResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func NewServer(buyer *purchase.Buyer, hub *Hub, opts Options, log *zap.Logger) *Server {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 10 * time.Minute
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		router: mux.NewRouter(),
		buyer:  buyer,
		hub:    hub,
		opts:   opts,
		log:    log,
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
		runCtx:    runCtx,
		cancelRun: cancel,
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/purchase", s.handlePurchase).Methods("POST")
	s.router.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/screenshot", s.handleScreenshot).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Product == "" {
		s.sendError(w, "product is required", http.StatusBadRequest)
		return
	}
	if req.Mode == "" {
		req.Mode = s.opts.DefaultMode
	}
	profile, err := purchase.ProfileByName(req.Mode)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(s.runCtx, s.opts.RunTimeout)
	runID, err := s.buyer.Start(ctx, req.Product, profile, func(report *purchase.Report, err error) {
		defer cancel()
		if err != nil {
			s.log.Error("purchase run aborted", zap.String("product", req.Product), zap.Error(err))
			return
		}
		s.log.Info("purchase run finished",
			zap.String("run_id", report.RunID),
			zap.Bool("success", report.Success),
			zap.Duration("elapsed", report.Elapsed))
	})
	if errors.Is(err, purchase.ErrBusy) {
		cancel()
		s.sendError(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		cancel()
		s.sendError(w, fmt.Sprintf("Purchase failed to start: %v", err), http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, http.StatusAccepted, ActionResponse{
		Success: true,
		Message: "Purchase started",
		Data: map[string]string{
			"run_id":  runID,
			"product": req.Product,
			"mode":    profile.Name,
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.buyer.Status()
	data := map[string]interface{}{
		"running": st.Running,
		"session": st.Session,
	}
	if st.LastReport != nil {
		data["last_report"] = st.LastReport
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if url, err := s.buyer.CurrentLocation(ctx); err == nil {
		data["url"] = url
	}

	s.sendSuccess(w, "Status retrieved", data)
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	buf, err := s.buyer.Screenshot(ctx)
	if errors.Is(err, purchase.ErrNoSession) {
		s.sendError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		s.sendError(w, fmt.Sprintf("Screenshot failed: %v", err), http.StatusInternalServerError)
		return
	}

	encoded := base64.StdEncoding.EncodeToString(buf)
	s.sendSuccess(w, "Screenshot captured", map[string]string{
		"image": encoded,
	})
}

// handleWebSocket streams purchase events until the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events := s.hub.subscribe()
	defer s.hub.unsubscribe(events)
	s.log.Debug("websocket client connected", zap.String("remote", r.RemoteAddr))

	// Clients only listen; reading detects the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-events:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-gone:
			s.log.Debug("websocket client disconnected", zap.String("remote", r.RemoteAddr))
			return
		case <-s.runCtx.Done():
			return
		}
	}
}

func (s *Server) sendSuccess(w http.ResponseWriter, message string, data interface{}) {
	s.sendJSON(w, http.StatusOK, ActionResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	s.sendJSON(w, statusCode, ActionResponse{
		Success: false,
		Message: message,
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, resp ActionResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) Start() error {
	s.log.Info("server starting", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests and cancels any active run, which
// releases its browser.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")
	s.cancelRun()
	return s.httpServer.Shutdown(ctx)
}
