package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opencardata/cardata-bridge/internal/upstream"
	"github.com/opencardata/cardata-bridge/pkg/log"
	"github.com/opencardata/cardata-bridge/pkg/options"
)

// opsServer exposes metrics, probes and a session snapshot. It is off by
// default and enabled with OPS_ADDR or the ops.addr flag.
type opsServer struct {
	server          *http.Server
	shutdownTimeout time.Duration
	st              *upstream.State
	tr              *tracker
}

func newOpsServer(opts *options.HTTPOptions, st *upstream.State, tr *tracker) *opsServer {
	o := &opsServer{shutdownTimeout: opts.ShutdownTimeout, st: st, tr: tr}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", o.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", o.handleReadyz).Methods(http.MethodGet)
	r.HandleFunc("/status", o.handleStatus).Methods(http.MethodGet)

	o.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      r,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return o
}

func (o *opsServer) Run(ctx context.Context) error {
	log.Info("Starting ops server", "addr", o.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := o.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), o.shutdownTimeout)
		defer cancel()
		return o.server.Shutdown(shutdownCtx)
	}
}

func (o *opsServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleReadyz reports ready only while the vendor session is up, so a
// container orchestrator can gate on real connectivity.
func (o *opsServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !o.st.Connected() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("upstream disconnected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type statusDoc struct {
	State               string `json:"state"`
	UpstreamConnected   bool   `json:"upstreamConnected"`
	IdentityTokenExpiry int64  `json:"identityTokenExpiry"`
	NextConnectAfter    int64  `json:"nextConnectAfter"`
	LastConnectAttempt  int64  `json:"lastConnectAttempt"`
}

func (o *opsServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	doc := statusDoc{
		State:               o.tr.current(),
		UpstreamConnected:   o.st.Connected(),
		IdentityTokenExpiry: o.st.IdentityExpiry(),
		NextConnectAfter:    o.st.NextConnectAfter(),
		LastConnectAttempt:  o.st.LastConnectAttempt(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		log.Error(err, "Failed to write status response")
	}
}
