// Package httpserver exposes the gateway's REST and streaming surface.
package httpserver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"broker-gateway/internal/credpool"
	"broker-gateway/internal/errors"
	"broker-gateway/internal/logging"
	"broker-gateway/internal/metrics"
	"broker-gateway/internal/models"
	"broker-gateway/internal/resilience"
	"broker-gateway/internal/router"
	"broker-gateway/internal/stream"
	"broker-gateway/pkg/utils"
)

// LoginFunc exchanges interactive credentials for a session token. Only
// Angel One supports this; the other brokers issue tokens out of band.
type LoginFunc func(ctx context.Context, clientCode, pin, totpSecret string) (models.Credential, error)

// Options wires the server's collaborators.
type Options struct {
	Router     *router.Router
	Streams    *stream.Manager
	Metrics    *metrics.Metrics
	Breakers   *resilience.Set
	Sessions   *credpool.Pool
	AngelLogin LoginFunc
	Retry      utils.RetryConfig
	APITokens  []string
	// RequestTimeout bounds each REST request's context. Zero disables the
	// bound. Stream requests are exempt since they live for the client's
	// whole watch.
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

// Server is the HTTP front of the gateway. Broker credentials arrive per
// request in the Authorization header and are never stored.
type Server struct {
	router     *router.Router
	streams    *stream.Manager
	metrics    *metrics.Metrics
	breakers   *resilience.Set
	sessions   *credpool.Pool
	angelLogin LoginFunc
	retry      utils.RetryConfig
	tokens     map[string]bool
	timeout    time.Duration
	log        zerolog.Logger
	upgrader   websocket.Upgrader
}

// New creates a server from options.
func New(opts Options) *Server {
	tokens := make(map[string]bool, len(opts.APITokens))
	for _, t := range opts.APITokens {
		tokens[t] = true
	}
	return &Server{
		router:     opts.Router,
		streams:    opts.Streams,
		metrics:    opts.Metrics,
		breakers:   opts.Breakers,
		sessions:   opts.Sessions,
		angelLogin: opts.AngelLogin,
		retry:      opts.Retry,
		tokens:     tokens,
		timeout:    opts.RequestTimeout,
		log:        opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.health)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireAPIToken)
		r.Get("/brokers", s.listBrokers)

		r.With(s.bindTimeout).Post("/brokers/{broker}/login", s.login)

		r.Route("/brokers/{broker}", func(r chi.Router) {
			r.Use(s.requireCredential)
			// The stream endpoint lives outside the timeout group: its
			// request lasts as long as the client watches the feed.
			r.Get("/stream", s.streamTicks)

			r.Group(func(r chi.Router) {
				r.Use(s.bindTimeout)
				r.Post("/orders", s.placeOrder)
				r.Put("/orders/{orderID}", s.modifyOrder)
				r.Delete("/orders/{orderID}", s.cancelOrder)
				r.Get("/orders", s.orderBook)
				r.Get("/positions", s.positions)
				r.Get("/holdings", s.holdings)
				r.Get("/profile", s.profile)
				r.Get("/funds", s.funds)
				r.Get("/candles", s.historical)
			})
		})
	})

	return r
}

// orderRequest is the wire shape of the canonical order schema.
type orderRequest struct {
	Symbol            string           `json:"symbol"`
	Exchange          string           `json:"exchange"`
	Side              string           `json:"side"`
	OrderType         string           `json:"orderType"`
	ProductType       string           `json:"productType"`
	Quantity          int              `json:"quantity"`
	Price             *decimal.Decimal `json:"price,omitempty"`
	TriggerPrice      *decimal.Decimal `json:"triggerPrice,omitempty"`
	DisclosedQuantity int              `json:"disclosedQuantity,omitempty"`
	Validity          string           `json:"validity"`
	Tag               string           `json:"tag,omitempty"`
}

func (o orderRequest) toModel(id models.BrokerID) models.NormalizedOrder {
	return models.NormalizedOrder{
		Broker:            id,
		Symbol:            o.Symbol,
		Exchange:          models.Exchange(o.Exchange),
		Side:              models.OrderSide(o.Side),
		Type:              models.OrderType(o.OrderType),
		Product:           models.ProductType(o.ProductType),
		Quantity:          o.Quantity,
		Price:             o.Price,
		TriggerPrice:      o.TriggerPrice,
		DisclosedQuantity: o.DisclosedQuantity,
		Validity:          models.Validity(o.Validity),
		Tag:               o.Tag,
	}
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	id := brokerParam(r)
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeResult(w, models.Fail(errors.Newf(errors.KindValidationFailed, "malformed order body: %v", err), nil))
		return
	}
	res := s.router.PlaceOrder(r.Context(), credential(r, id), req.toModel(id))
	s.writeResult(w, res)
}

func (s *Server) modifyOrder(w http.ResponseWriter, r *http.Request) {
	id := brokerParam(r)
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeResult(w, models.Fail(errors.Newf(errors.KindValidationFailed, "malformed order body: %v", err), nil))
		return
	}
	orderID := chi.URLParam(r, "orderID")
	res := s.router.ModifyOrder(r.Context(), credential(r, id), id, orderID, req.toModel(id))
	s.writeResult(w, res)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id := brokerParam(r)
	res := s.router.CancelOrder(r.Context(), credential(r, id), id, chi.URLParam(r, "orderID"))
	s.writeResult(w, res)
}

func (s *Server) orderBook(w http.ResponseWriter, r *http.Request) {
	id := brokerParam(r)
	s.readWithPolicy(w, r, id, func(ctx context.Context) models.NormalizedResult {
		return s.router.GetOrderBook(ctx, credential(r, id), id)
	})
}

func (s *Server) positions(w http.ResponseWriter, r *http.Request) {
	id := brokerParam(r)
	s.readWithPolicy(w, r, id, func(ctx context.Context) models.NormalizedResult {
		return s.router.GetPositions(ctx, credential(r, id), id)
	})
}

func (s *Server) holdings(w http.ResponseWriter, r *http.Request) {
	id := brokerParam(r)
	s.readWithPolicy(w, r, id, func(ctx context.Context) models.NormalizedResult {
		return s.router.GetHoldings(ctx, credential(r, id), id)
	})
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	id := brokerParam(r)
	s.readWithPolicy(w, r, id, func(ctx context.Context) models.NormalizedResult {
		return s.router.GetProfile(ctx, credential(r, id), id)
	})
}

func (s *Server) funds(w http.ResponseWriter, r *http.Request) {
	id := brokerParam(r)
	s.readWithPolicy(w, r, id, func(ctx context.Context) models.NormalizedResult {
		return s.router.GetFunds(ctx, credential(r, id), id)
	})
}

func (s *Server) historical(w http.ResponseWriter, r *http.Request) {
	id := brokerParam(r)
	q := r.URL.Query()
	from, errFrom := time.Parse(time.RFC3339, q.Get("from"))
	to, errTo := time.Parse(time.RFC3339, q.Get("to"))
	if errFrom != nil || errTo != nil {
		s.writeResult(w, models.Fail(errors.New(errors.KindValidationFailed, "from and to must be RFC3339 timestamps"), nil))
		return
	}
	req := models.HistoricalRequest{
		InstrumentKey: q.Get("instrumentKey"),
		Resolution:    q.Get("resolution"),
		From:          from,
		To:            to,
		Exchange:      models.Exchange(q.Get("exchange")),
	}
	s.readWithPolicy(w, r, id, func(ctx context.Context) models.NormalizedResult {
		return s.router.GetHistoricalData(ctx, credential(r, id), id, req)
	})
}

// readWithPolicy runs an idempotent read behind the broker's circuit breaker
// and retries transient failures. Writes never come through here.
func (s *Server) readWithPolicy(w http.ResponseWriter, r *http.Request, id models.BrokerID, read func(context.Context) models.NormalizedResult) {
	var breaker *resilience.Breaker
	if s.breakers != nil {
		breaker = s.breakers.For(string(id))
		if !breaker.Allow() {
			s.writeResult(w, models.Fail(errors.Newf(errors.KindTransportError, "%s is unavailable, circuit open", id), nil))
			return
		}
	}

	res, _ := utils.RetryWithResult(r.Context(), s.retry, func() (models.NormalizedResult, error) {
		return read(r.Context()), nil
	}, func(res models.NormalizedResult, _ error) bool {
		return res.Error != nil && res.Error.Retryable
	})

	if breaker != nil {
		if res.Error != nil && transportClass(res.Error.Kind) {
			breaker.RecordFailure()
		} else {
			breaker.RecordSuccess()
		}
	}
	s.writeResult(w, res)
}

func transportClass(kind errors.ErrorKind) bool {
	return kind == errors.KindTransportError || kind == errors.KindTimeout
}

type loginRequest struct {
	ClientCode string `json:"clientCode"`
	PIN        string `json:"pin"`
	TOTPSecret string `json:"totpSecret"`
}

// login exchanges interactive credentials for a session token. Tokens are
// cached per client code so repeated logins within the session's lifetime
// don't hit the broker's rate-limited TOTP endpoint.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	id := brokerParam(r)
	if id != models.BrokerAngel || s.angelLogin == nil {
		s.writeResult(w, models.Fail(errors.Unsupported(string(id), "login"), nil))
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeResult(w, models.Fail(errors.Newf(errors.KindValidationFailed, "malformed login body: %v", err), nil))
		return
	}
	if req.ClientCode == "" || req.PIN == "" || req.TOTPSecret == "" {
		s.writeResult(w, models.Fail(errors.New(errors.KindValidationFailed, "clientCode, pin and totpSecret are required"), nil))
		return
	}

	key := sessionKey(id, req)
	if s.sessions != nil {
		if cred, ok := s.sessions.Get(key); ok {
			writeJSON(w, http.StatusOK, map[string]string{"broker": string(id), "token": cred.Token})
			return
		}
	}

	cred, err := s.angelLogin(r.Context(), req.ClientCode, req.PIN, req.TOTPSecret)
	if err != nil {
		s.writeResult(w, models.Fail(errors.Normalize(err), nil))
		return
	}
	if s.sessions != nil {
		s.sessions.Put(key, cred)
	}
	writeJSON(w, http.StatusOK, map[string]string{"broker": string(id), "token": cred.Token})
}

// sessionKey folds a digest of the secret material into the cache key so a
// login with a wrong PIN or TOTP secret can never be answered from another
// login's cached token.
func sessionKey(id models.BrokerID, req loginRequest) string {
	sum := sha256.Sum256([]byte(req.PIN + "\x00" + req.TOTPSecret))
	return string(id) + "|" + req.ClientCode + "|" + hex.EncodeToString(sum[:8])
}

func (s *Server) listBrokers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"brokers": s.router.Brokers()})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// streamTicks upgrades the request and relays the broker's feed to the
// client. Symbols come from the query string; the broker credential from the
// same Authorization header the REST calls use.
func (s *Server) streamTicks(w http.ResponseWriter, r *http.Request) {
	id := brokerParam(r)
	if s.streams == nil {
		s.writeResult(w, models.Fail(errors.Unsupported(string(id), "stream"), nil))
		return
	}
	symbols := splitSymbols(r.URL.Query().Get("symbols"))
	if len(symbols) == 0 {
		s.writeResult(w, models.Fail(errors.New(errors.KindValidationFailed, "symbols query parameter is required"), nil))
		return
	}

	session, nerr := s.streams.Session(credential(r, id), id)
	if nerr != nil {
		s.writeResult(w, models.Fail(nerr, nil))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.streams.Hub().Subscribe(id, middleware.GetReqID(r.Context()))
	defer s.streams.Hub().Unsubscribe(id, sub)

	ctx := r.Context()
	if err := session.Subscribe(ctx, symbols); err != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().Err(err).Str("broker", string(id)).Msg("feed subscribe failed")
		return
	}
	defer func() {
		unsubCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		session.Unsubscribe(unsubCtx, symbols)
	}()

	// Surface client disconnects to the relay loop.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-clientGone:
			return
		case tick, ok := <-sub.Channel:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, tick.Payload); err != nil {
				return
			}
		}
	}
}

// requireAPIToken gates the API surface when gateway tokens are configured.
func (s *Server) requireAPIToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.tokens) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !s.tokens[r.Header.Get("X-API-Key")] {
			s.writeResult(w, models.Fail(errors.New(errors.KindAuthenticationFailed, "missing or unknown API key"), nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireCredential checks the broker route and the bearer token the request
// must carry for the broker call.
func (s *Server) requireCredential(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bearerToken(r) == "" {
			s.writeResult(w, models.Fail(errors.New(errors.KindAuthenticationFailed, "Authorization bearer token is required"), nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bindTimeout caps how long a REST handler may hold its request context.
func (s *Server) bindTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.timeout <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// logRequests stamps a request-scoped logger into the context so handlers
// downstream log with the request id attached, then records the request once
// it completes.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log := s.log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		r = r.WithContext(logging.WithLogger(r.Context(), log))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

func brokerParam(r *http.Request) models.BrokerID {
	// Unknown identifiers pass through so the router can answer with its
	// UnknownBroker error instead of a bare 404.
	return models.BrokerID(strings.ToUpper(chi.URLParam(r, "broker")))
}

func credential(r *http.Request, id models.BrokerID) models.Credential {
	return models.Credential{Broker: id, Token: bearerToken(r)}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

func splitSymbols(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	symbols := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			symbols = append(symbols, p)
		}
	}
	return symbols
}

// statusFor maps error kinds onto HTTP status codes for the gateway's own
// responses.
func statusFor(kind errors.ErrorKind) int {
	switch kind {
	case errors.KindValidationFailed:
		return http.StatusBadRequest
	case errors.KindUnknownBroker:
		return http.StatusNotFound
	case errors.KindUnsupportedOperation:
		return http.StatusBadRequest
	case errors.KindAuthenticationFailed:
		return http.StatusUnauthorized
	case errors.KindRateLimited:
		return http.StatusTooManyRequests
	case errors.KindBrokerRejected:
		return http.StatusUnprocessableEntity
	case errors.KindTransportError:
		return http.StatusBadGateway
	case errors.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeResult(w http.ResponseWriter, res models.NormalizedResult) {
	status := http.StatusOK
	if !res.Success {
		status = statusFor(res.Error.Kind)
	}
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
