package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/go-pyzor/pyzordigest"
	"github.com/go-pyzor/pyzordigest/internal/archive"
	"github.com/go-pyzor/pyzordigest/internal/mimefeed"
	"github.com/go-pyzor/pyzordigest/internal/policy"
	"github.com/go-pyzor/pyzordigest/internal/store"
	"github.com/go-pyzor/pyzordigest/internal/transport"
)

var (
	digestsComputed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pyzordigest_digests_computed_total",
		Help: "Number of digests computed by the daemon.",
	})
	digestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "pyzordigest_digest_duration_seconds",
		Help: "Time spent computing a single digest.",
	})
	digestsByVerdict = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pyzordigest_digests_by_verdict_total",
		Help: "Number of digests computed, labeled by policy verdict.",
	}, []string{"verdict"})
)

// apiServer holds the shared state for HTTP handlers.
type apiServer struct {
	store     *store.Store
	policy    *policy.Policy
	maxBuffer int
	archive   archive.Target       // nil disables flagged-message archiving
	publisher *transport.Publisher // nil disables digest-event publishing
}

// archiveAndPublish ships a flagged message to cold storage and fans the
// computed digest out over NATS. Both steps are no-ops when their
// respective sink wasn't configured.
func (s *apiServer) archiveAndPublish(ctx context.Context, rec store.Record, raw []byte) {
	if s.archive != nil && rec.Verdict != string(policy.VerdictAllow) {
		if _, err := archive.StoreFlagged(ctx, s.archive, rec.Digest, raw); err != nil {
			log.Warn("archiving flagged message", "digest", rec.Digest, "error", err)
		}
	}
	if s.publisher != nil {
		ev := transport.DigestEvent{
			Digest:     rec.Digest,
			Source:     rec.Source,
			Lines:      rec.Lines,
			Stats:      rec.Stats,
			Verdict:    rec.Verdict,
			ComputedAt: rec.ComputedAt.Unix(),
		}
		if err := s.publisher.Publish(ev); err != nil {
			log.Warn("publishing digest event", "digest", rec.Digest, "error", err)
		}
	}
}

type digestResponse struct {
	Digest  string `json:"digest"`
	Lines   int    `json:"lines"`
	Stats   uint32 `json:"stats"`
	Verdict string `json:"verdict"`
}

func newRouter(srv *apiServer, jwtSecret string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	if jwtSecret != "" {
		api.Use(bearerAuth(jwtSecret))
	}
	api.HandleFunc("/digest", srv.handleDigest).Methods(http.MethodPost)
	api.HandleFunc("/submit", srv.handleSubmit).Methods(http.MethodPost)
	api.HandleFunc("/history", srv.handleHistory).Methods(http.MethodGet)

	r.Use(handlers.CompressHandler)
	r.Use(handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
		handlers.AllowedOrigins([]string{"*"}),
	))
	return handlers.CustomLoggingHandler(log.StandardLog().Writer(), r, func(w io.Writer, params handlers.LogFormatterParams) {
		log.Info("request",
			"method", params.Request.Method,
			"uri", params.URL.RequestURI(),
			"status", params.StatusCode,
			"size", params.Size)
	})
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *apiServer) handleDigest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading body: "+err.Error(), http.StatusBadRequest)
		return
	}

	opts := []pyzordigest.Option{}
	if s.maxBuffer > 0 {
		opts = append(opts, pyzordigest.WithMaxBuffer(s.maxBuffer))
	}
	d := pyzordigest.New(opts...)

	if err := mimefeed.Feed(d, bytes.NewReader(raw)); err != nil {
		http.Error(w, "feeding message: "+err.Error(), http.StatusBadRequest)
		return
	}

	out := make([]byte, pyzordigest.DigestSize)
	d.Finalize(out)
	digest := string(out)

	verdict := policy.VerdictAllow
	if s.policy != nil {
		v, err := s.policy.Evaluate(policy.Env{
			Digest: digest,
			Lines:  d.Lines(),
			Stats:  policy.Stats(d.Stats()),
		})
		if err != nil {
			http.Error(w, "evaluating policy: "+err.Error(), http.StatusInternalServerError)
			return
		}
		verdict = v
	}

	digestsComputed.Inc()
	digestDuration.Observe(time.Since(start).Seconds())
	digestsByVerdict.WithLabelValues(string(verdict)).Inc()

	rec := store.RecordFromDigest(digest, r.Header.Get("X-Source"), d, string(verdict), time.Now())
	if err := s.store.Insert(r.Context(), rec); err != nil {
		log.Warn("recording digest", "error", err)
	}
	s.archiveAndPublish(r.Context(), rec, raw)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(digestResponse{
		Digest:  digest,
		Lines:   d.Lines(),
		Stats:   uint32(d.Stats()),
		Verdict: string(verdict),
	})
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	verdict := r.URL.Query().Get("verdict")

	var recs []store.Record
	var err error
	if verdict != "" {
		recs, err = s.store.ByVerdict(r.Context(), verdict, limit)
	} else {
		recs, err = s.store.Recent(r.Context(), limit)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(recs)
}
