package server

import (
	"VaultLedger/internal/observability"
	"VaultLedger/internal/query"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
)

const maxCommandBody = 64 << 10

// HTTPGateway exposes LedgerService as HTTP/JSON. Routes call the service
// in-process instead of proxying through the gRPC listener.
type HTTPGateway struct {
	svc        LedgerAPI
	health     *observability.HealthChecker
	httpServer *http.Server
	logger     zerolog.Logger
}

func NewHTTPGateway(httpAddr string, svc LedgerAPI, health *observability.HealthChecker, logger zerolog.Logger) (*HTTPGateway, error) {
	gw := &HTTPGateway{svc: svc, health: health, logger: logger}

	handler, err := gw.routes()
	if err != nil {
		return nil, err
	}
	gw.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return gw, nil
}

// Handler returns the gateway's root handler.
func (gw *HTTPGateway) Handler() http.Handler {
	return gw.httpServer.Handler
}

func (gw *HTTPGateway) routes() (http.Handler, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		{"POST", "/v1/commands/{type}", gw.submit},
		{"GET", "/v1/vaults/{owner}", gw.getVault},
		{"GET", "/v1/vaults/{owner}/ratio", gw.getRatio},
		{"GET", "/v1/pool", gw.getPoolSummary},
		{"GET", "/v1/shares/{owner}", gw.getShareRecord},
		{"GET", "/v1/balances/{owner}/{asset}", gw.getBalance},
		{"GET", "/v1/nonces/{owner}", gw.getNextNonce},
		{"GET", "/v1/state", gw.getState},
		{"GET", "/v1/journals", gw.listJournals},
		{"GET", "/v1/admin/integrity", gw.verifyIntegrity},
		{"GET", "/v1/admin/eventlog", gw.eventLogInfo},
		{"POST", "/v1/admin/snapshots", gw.takeSnapshot},
		{"POST", "/v1/admin/projections/rebuild", gw.rebuildProjections},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.h); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if gw.health != nil {
		httpMux.HandleFunc("/healthz", gw.health.LivenessHandler)
		httpMux.HandleFunc("/readyz", gw.health.ReadinessHandler)
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

// StartHTTPGateway serves HTTP until ctx is cancelled (blocking). After
// cancellation it returns once in-flight requests have finished or the
// shutdown timeout has passed.
func (gw *HTTPGateway) StartHTTPGateway(ctx context.Context) error {
	stopped := make(chan struct{})
	go func() {
		<-ctx.Done()
		gw.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		gw.httpServer.Shutdown(shutdownCtx)
		close(stopped)
	}()

	gw.logger.Info().Str("addr", gw.httpServer.Addr).Msg("HTTP gateway listening")
	err := gw.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		<-stopped
		return nil
	}
	return err
}

// ============================================================================
// Handlers
// ============================================================================

func (gw *HTTPGateway) submit(w http.ResponseWriter, r *http.Request, p map[string]string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody+1))
	if err != nil {
		writeError(w, fmt.Errorf("%w: read body: %v", query.ErrInvalidArgument, err))
		return
	}
	if len(body) > maxCommandBody {
		writeError(w, fmt.Errorf("%w: body exceeds %d bytes", query.ErrInvalidArgument, maxCommandBody))
		return
	}
	resp, err := gw.svc.Submit(r.Context(), &SubmitRequest{Type: p["type"], Command: body})
	respond(w, resp, err)
}

func (gw *HTTPGateway) getVault(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := gw.svc.GetVault(r.Context(), &OwnerRequest{Owner: p["owner"]})
	respond(w, resp, err)
}

func (gw *HTTPGateway) getRatio(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := gw.svc.GetRatio(r.Context(), &OwnerRequest{Owner: p["owner"]})
	respond(w, resp, err)
}

func (gw *HTTPGateway) getPoolSummary(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := gw.svc.GetPoolSummary(r.Context(), &Empty{})
	respond(w, resp, err)
}

func (gw *HTTPGateway) getShareRecord(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := gw.svc.GetShareRecord(r.Context(), &OwnerRequest{Owner: p["owner"]})
	respond(w, resp, err)
}

func (gw *HTTPGateway) getBalance(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := gw.svc.GetBalance(r.Context(), &BalanceRequest{Owner: p["owner"], Asset: p["asset"]})
	respond(w, resp, err)
}

func (gw *HTTPGateway) getNextNonce(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := gw.svc.GetNextNonce(r.Context(), &OwnerRequest{Owner: p["owner"]})
	respond(w, resp, err)
}

func (gw *HTTPGateway) getState(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := gw.svc.GetState(r.Context(), &Empty{})
	respond(w, resp, err)
}

// listJournals takes ?account=<path>&limit=N&before=<cursor>.
func (gw *HTTPGateway) listJournals(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	req := &ListJournalsRequest{Account: q.Get("account")}

	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, fmt.Errorf("%w: limit: %v", query.ErrInvalidArgument, err))
			return
		}
		req.Limit = n
	}
	if s := q.Get("before"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, fmt.Errorf("%w: before: %v", query.ErrInvalidArgument, err))
			return
		}
		req.Before = &n
	}

	resp, err := gw.svc.ListJournals(r.Context(), req)
	respond(w, resp, err)
}

func (gw *HTTPGateway) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := gw.svc.VerifyIntegrity(r.Context(), &Empty{})
	respond(w, resp, err)
}

func (gw *HTTPGateway) eventLogInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := gw.svc.GetEventLogInfo(r.Context(), &Empty{})
	respond(w, resp, err)
}

func (gw *HTTPGateway) takeSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := gw.svc.TakeSnapshot(r.Context(), &Empty{})
	respond(w, resp, err)
}

func (gw *HTTPGateway) rebuildProjections(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := gw.svc.RebuildProjections(r.Context(), &Empty{})
	respond(w, resp, err)
}

// respond writes either the response or the error from a service call.
func respond(w http.ResponseWriter, resp any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
