package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"lendpool/core"
	"lendpool/crypto"
	nativecommon "lendpool/native/common"
	"lendpool/native/lending"
	"lendpool/observability/logging"
	telemetry "lendpool/observability/otel"
	"lendpool/services/lendingd/journal"
)

const maxAdminBody = 64 << 10

// ReceiptJournal persists committed receipts for later lookup.
type ReceiptJournal interface {
	Record(ctx context.Context, receipt core.Receipt) error
	ListByParticipant(ctx context.Context, participant crypto.Address, limit int) ([]journal.Entry, error)
}

// RequestMetrics records API level outcomes.
type RequestMetrics interface {
	ObserveRequest(route string, status int)
	RecordThrottle(reason string)
}

// Config wires the server collaborators. Host and Signatures are required.
type Config struct {
	Host           *core.Host
	Journal        ReceiptJournal
	Hub            *Hub
	Signatures     *SignatureAuthenticator
	Admin          *AdminAuthenticator
	RateLimiter    *RateLimiter
	Metrics        RequestMetrics
	MetricsHandler http.Handler
	Pauses         *nativecommon.PauseSwitch
	Logger         *slog.Logger
	OriginPatterns []string
}

// Server exposes the pool over HTTP.
type Server struct {
	host           *core.Host
	journal        ReceiptJournal
	hub            *Hub
	signatures     *SignatureAuthenticator
	admin          *AdminAuthenticator
	limiter        *RateLimiter
	metrics        RequestMetrics
	metricsHandler http.Handler
	pauses         *nativecommon.PauseSwitch
	logger         *slog.Logger
	originPatterns []string
}

// New validates cfg and constructs a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Host == nil {
		return nil, fmt.Errorf("server: host required")
	}
	if cfg.Signatures == nil {
		return nil, fmt.Errorf("server: signature authenticator required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub()
	}
	return &Server{
		host:           cfg.Host,
		journal:        cfg.Journal,
		hub:            hub,
		signatures:     cfg.Signatures,
		admin:          cfg.Admin,
		limiter:        cfg.RateLimiter,
		metrics:        cfg.Metrics,
		metricsHandler: cfg.MetricsHandler,
		pauses:         cfg.Pauses,
		logger:         logger,
		originPatterns: cfg.OriginPatterns,
	}, nil
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.Routes(), "lendingd",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

// Routes builds the chi router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observeRequests)

	r.Get("/healthz", s.handleHealth)
	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.limitByClient)
			r.Get("/pool", s.handlePool)
			r.Get("/lenders/{participant}", s.handleLenders)
			r.Get("/loans/{participant}", s.handleLoans)
			r.Get("/receipts/{participant}", s.handleReceipts)
			r.Get("/balances/{account}", s.handleBalances)
			r.Get("/events", s.handleEvents)
		})

		r.Post("/lend", s.signed(core.OpLend, s.lend))
		r.Post("/borrow", s.signed(core.OpBorrow, s.borrow))
		r.Post("/withdraw", s.signed(core.OpWithdraw, s.withdraw))
		r.Post("/repay", s.signed(core.OpRepay, s.repay))

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/initialize", s.handleInitialize)
			r.Post("/wallets", s.handleOpenWallet)
			r.Post("/mint", s.handleMint)
			r.Post("/pause", s.handlePause)
		})
	})
	return r
}

func (s *Server) observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if s.metrics == nil {
			return
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveRequest(route, status)
	})
}

// limitByClient throttles anonymous reads per client address. Keys are
// prefixed so they never share a bucket with a participant.
func (s *Server) limitByClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow("ip:" + clientID(r)) {
			if s.metrics != nil {
				s.metrics.RecordThrottle("client")
			}
			writeErrorBody(w, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type signedCall func(ctx context.Context, participant crypto.Address, body []byte) (core.Receipt, error)

// signed authenticates the caller, applies the participant's rate limit and
// runs call on the host. The participant is always the recovered signer.
func (s *Server) signed(op string, call signedCall) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, int64(MaxBodyForSignature)+1))
		if err != nil {
			writeErrorBody(w, http.StatusBadRequest, codeBadRequest, "read body")
			return
		}
		participant, err := s.signatures.Authenticate(r, body)
		if err != nil {
			s.logger.Warn("signature rejected",
				slog.String("op", op),
				logging.MaskField("signature", r.Header.Get(HeaderSignature)),
				slog.Any("error", err))
			writeErrorBody(w, http.StatusUnauthorized, codeUnauthenticated, err.Error())
			return
		}
		if !s.limiter.Allow(participant.String()) {
			if s.metrics != nil {
				s.metrics.RecordThrottle("rate_limit")
			}
			writeErrorBody(w, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
			return
		}

		ctx, span := telemetry.Tracer().Start(r.Context(), "lending."+op)
		span.SetAttributes(attribute.String("lending.participant", participant.String()))
		defer span.End()

		receipt, err := call(ctx, participant, body)
		if err != nil {
			var bad *badRequestError
			if errors.As(err, &bad) {
				writeErrorBody(w, http.StatusBadRequest, codeBadRequest, bad.Error())
				return
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, lending.CodeOf(err))
			writeError(w, err)
			return
		}
		span.SetAttributes(attribute.String("lending.receipt", receipt.ID))
		s.journalReceipt(ctx, receipt)
		writeJSON(w, http.StatusOK, receipt)
	}
}

func (s *Server) journalReceipt(ctx context.Context, receipt core.Receipt) {
	if s.journal == nil {
		return
	}
	// The call is already committed; a journal failure must not fail it.
	if err := s.journal.Record(context.WithoutCancel(ctx), receipt); err != nil {
		s.logger.Error("journal receipt failed",
			slog.String("op", receipt.Op),
			slog.String("receipt", receipt.ID),
			slog.Any("error", err))
	}
}

type badRequestError struct{ err error }

func (e *badRequestError) Error() string { return e.err.Error() }

func decodeBody(body []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &badRequestError{err: fmt.Errorf("decode request: %w", err)}
	}
	return nil
}

type lendRequest struct {
	Token  crypto.Address `json:"token"`
	Amount uint64         `json:"amount"`
}

type borrowRequest struct {
	BorrowToken      crypto.Address `json:"borrowToken"`
	BorrowAmount     uint64         `json:"borrowAmount"`
	CollateralToken  crypto.Address `json:"collateralToken"`
	CollateralAmount uint64         `json:"collateralAmount"`
}

type withdrawRequest struct {
	Token crypto.Address `json:"token"`
}

type repayRequest struct {
	BorrowToken crypto.Address `json:"borrowToken"`
}

func (s *Server) lend(ctx context.Context, participant crypto.Address, body []byte) (core.Receipt, error) {
	var req lendRequest
	if err := decodeBody(body, &req); err != nil {
		return core.Receipt{}, err
	}
	return s.host.Lend(ctx, participant, req.Token, req.Amount)
}

func (s *Server) borrow(ctx context.Context, participant crypto.Address, body []byte) (core.Receipt, error) {
	var req borrowRequest
	if err := decodeBody(body, &req); err != nil {
		return core.Receipt{}, err
	}
	return s.host.Borrow(ctx, participant, lending.BorrowRequest{
		BorrowToken:      req.BorrowToken,
		BorrowAmount:     req.BorrowAmount,
		CollateralToken:  req.CollateralToken,
		CollateralAmount: req.CollateralAmount,
	})
}

func (s *Server) withdraw(ctx context.Context, participant crypto.Address, body []byte) (core.Receipt, error) {
	var req withdrawRequest
	if err := decodeBody(body, &req); err != nil {
		return core.Receipt{}, err
	}
	return s.host.Withdraw(ctx, participant, req.Token)
}

func (s *Server) repay(ctx context.Context, participant crypto.Address, body []byte) (core.Receipt, error) {
	var req repayRequest
	if err := decodeBody(body, &req); err != nil {
		return core.Receipt{}, err
	}
	return s.host.Repay(ctx, participant, req.BorrowToken)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	pool := s.host.Pool()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"initialized": pool.Initialized,
		"subscribers": s.hub.Subscribers(),
	})
}

type tokenAmount struct {
	Token  crypto.Address `json:"token"`
	Amount uint64         `json:"amount"`
}

type poolStatsView struct {
	Lenders      int                       `json:"lenders"`
	Loans        int                       `json:"loans"`
	ActiveLoans  int                       `json:"activeLoans"`
	Tokens       int                       `json:"tokens"`
	OpenBorrowed map[crypto.Address]uint64 `json:"openBorrowed"`
}

type poolView struct {
	Pool   *lending.Pool `json:"pool"`
	Stats  poolStatsView `json:"stats"`
	Paused bool          `json:"paused"`
}

func (s *Server) handlePool(w http.ResponseWriter, _ *http.Request) {
	pool := s.host.Pool()
	stats := pool.Stats()
	writeJSON(w, http.StatusOK, poolView{
		Pool: pool,
		Stats: poolStatsView{
			Lenders:      stats.Lenders,
			Loans:        stats.Loans,
			ActiveLoans:  stats.ActiveLoans,
			Tokens:       stats.Tokens,
			OpenBorrowed: stats.OpenBorrowed,
		},
		Paused: s.pauses.IsPaused(lending.ModuleName),
	})
}

func (s *Server) handleLenders(w http.ResponseWriter, r *http.Request) {
	participant, ok := pathAddress(w, r, "participant")
	if !ok {
		return
	}
	positions := make([]tokenAmount, 0)
	for _, entry := range s.host.Pool().Lenders() {
		if entry.Key.Participant == participant {
			positions = append(positions, tokenAmount{Token: entry.Key.Token, Amount: entry.Amount})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"participant": participant, "positions": positions})
}

func (s *Server) handleLoans(w http.ResponseWriter, r *http.Request) {
	participant, ok := pathAddress(w, r, "participant")
	if !ok {
		return
	}
	loans := s.host.Pool().LoansOf(participant)
	if loans == nil {
		loans = []lending.LoanEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"participant": participant, "loans": loans})
}

func (s *Server) handleReceipts(w http.ResponseWriter, r *http.Request) {
	participant, ok := pathAddress(w, r, "participant")
	if !ok {
		return
	}
	if s.journal == nil {
		writeErrorBody(w, http.StatusNotFound, codeNotFound, "receipt journal disabled")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeErrorBody(w, http.StatusBadRequest, codeBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	entries, err := s.journal.ListByParticipant(r.Context(), participant, limit)
	if err != nil {
		s.logger.Error("list receipts failed", slog.Any("error", err))
		writeErrorBody(w, http.StatusInternalServerError, codeInternal, "list receipts failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"participant": participant, "receipts": entries})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	account, ok := pathAddress(w, r, "account")
	if !ok {
		return
	}
	for _, wallet := range s.host.Wallets() {
		if wallet.Account == account {
			writeJSON(w, http.StatusOK, wallet)
			return
		}
	}
	writeErrorBody(w, http.StatusNotFound, codeNotFound, "wallet not found")
}

func pathAddress(w http.ResponseWriter, r *http.Request, param string) (crypto.Address, bool) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, param))
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, codeBadRequest, fmt.Sprintf("invalid %s: %v", param, err))
		return crypto.Address{}, false
	}
	return addr, true
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.admin == nil {
			writeErrorBody(w, http.StatusNotFound, codeNotFound, "admin api disabled")
			return
		}
		subject, err := s.admin.Authenticate(r)
		if err != nil {
			s.logger.Warn("admin token rejected",
				logging.MaskField("authorization", r.Header.Get("Authorization")),
				slog.Any("error", err))
			writeErrorBody(w, http.StatusUnauthorized, codeUnauthenticated, "invalid admin token")
			return
		}
		s.logger.Info("admin call", slog.String("subject", subject), slog.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

type initializeRequest struct {
	CustodyAccount   crypto.Address   `json:"custodyAccount"`
	CollateralTokens []crypto.Address `json:"collateralTokens"`
	BorrowTokens     []crypto.Address `json:"borrowTokens"`
}

type walletRequest struct {
	Account crypto.Address   `json:"account"`
	Owner   crypto.Address   `json:"owner"`
	Tokens  []crypto.Address `json:"tokens"`
}

type mintRequest struct {
	Account crypto.Address `json:"account"`
	Token   crypto.Address `json:"token"`
	Amount  uint64         `json:"amount"`
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

func readAdminBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAdminBody))
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, codeBadRequest, "read body")
		return false
	}
	if err := decodeBody(body, dst); err != nil {
		writeErrorBody(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return false
	}
	return true
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if !readAdminBody(w, r, &req) {
		return
	}
	receipt, err := s.host.Initialize(r.Context(), lending.InitParams{
		CustodyAccount:   req.CustodyAccount,
		CollateralTokens: req.CollateralTokens,
		BorrowTokens:     req.BorrowTokens,
	})
	s.respondAdmin(w, r, receipt, err)
}

func (s *Server) handleOpenWallet(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if !readAdminBody(w, r, &req) {
		return
	}
	owner := req.Owner
	if owner.IsZero() {
		owner = req.Account
	}
	receipt, err := s.host.OpenWallet(r.Context(), req.Account, owner, req.Tokens...)
	s.respondAdmin(w, r, receipt, err)
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if !readAdminBody(w, r, &req) {
		return
	}
	receipt, err := s.host.Mint(r.Context(), req.Account, req.Token, req.Amount)
	s.respondAdmin(w, r, receipt, err)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if !readAdminBody(w, r, &req) {
		return
	}
	if s.pauses == nil {
		writeErrorBody(w, http.StatusNotFound, codeNotFound, "pause switch not configured")
		return
	}
	s.pauses.Set(lending.ModuleName, req.Paused)
	s.logger.Warn("lending pause toggled", slog.Bool("paused", req.Paused))
	writeJSON(w, http.StatusOK, map[string]any{"module": lending.ModuleName, "paused": req.Paused})
}

func (s *Server) respondAdmin(w http.ResponseWriter, r *http.Request, receipt core.Receipt, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	s.journalReceipt(r.Context(), receipt)
	writeJSON(w, http.StatusOK, receipt)
}

// Close ends every event stream. Hijacked websocket connections are not
// tracked by http.Server.Shutdown.
func (s *Server) Close() {
	s.hub.Close()
}
