// Command pyzordigestd serves digest computation and lookup over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/gops/agent"

	"github.com/go-pyzor/pyzordigest/internal/archive"
	"github.com/go-pyzor/pyzordigest/internal/policy"
	"github.com/go-pyzor/pyzordigest/internal/store"
	"github.com/go-pyzor/pyzordigest/internal/transport"
)

type daemonConfig struct {
	addr        string
	storeDSN    string
	policyFile  string
	maxBuffer   int
	jwtSecret   string
	gops        bool
	archiveKind string
	archiveDir  string
	s3Endpoint  string
	s3Bucket    string
	s3AccessKey string
	s3SecretKey string
	s3Region    string
	natsAddr    string
	natsSubject string
}

// createArchiveTarget builds the configured flagged-message archive target,
// or nil if archiving is disabled.
func createArchiveTarget(ctx context.Context, cfg daemonConfig) (archive.Target, error) {
	switch cfg.archiveKind {
	case "":
		return nil, nil
	case "s3":
		return archive.NewS3Target(ctx, archive.S3TargetConfig{
			Endpoint:  cfg.s3Endpoint,
			Bucket:    cfg.s3Bucket,
			AccessKey: cfg.s3AccessKey,
			SecretKey: cfg.s3SecretKey,
			Region:    cfg.s3Region,
		})
	case "file":
		return archive.NewFileTarget(cfg.archiveDir)
	default:
		return nil, fmt.Errorf("unknown archive kind %q (want \"file\" or \"s3\")", cfg.archiveKind)
	}
}

func main() {
	var cfg daemonConfig
	flag.StringVar(&cfg.addr, "addr", ":8080", "address to listen on")
	flag.StringVar(&cfg.storeDSN, "store", "pyzordigest.db", "path to the SQLite digest history database")
	flag.StringVar(&cfg.policyFile, "policy", "", "path to an expr policy script")
	flag.IntVar(&cfg.maxBuffer, "max-buffer", 0, "maximum digester line-buffer size in bytes (0: unbounded)")
	flag.StringVar(&cfg.jwtSecret, "jwt-secret", os.Getenv("PYZORDIGEST_JWT_SECRET"), "HMAC secret for bearer token verification (empty disables auth)")
	flag.BoolVar(&cfg.gops, "gops", false, "start a gops diagnostics agent")
	flag.StringVar(&cfg.archiveKind, "archive-kind", "", "flagged-message archive backend: \"file\", \"s3\", or empty to disable")
	flag.StringVar(&cfg.archiveDir, "archive-dir", "", "directory to archive flagged messages under (archive-kind=file)")
	flag.StringVar(&cfg.s3Endpoint, "archive-s3-endpoint", "", "S3-compatible endpoint URL (archive-kind=s3)")
	flag.StringVar(&cfg.s3Bucket, "archive-s3-bucket", "", "S3 bucket name (archive-kind=s3)")
	flag.StringVar(&cfg.s3AccessKey, "archive-s3-access-key", os.Getenv("PYZORDIGEST_S3_ACCESS_KEY"), "S3 access key (archive-kind=s3)")
	flag.StringVar(&cfg.s3SecretKey, "archive-s3-secret-key", os.Getenv("PYZORDIGEST_S3_SECRET_KEY"), "S3 secret key (archive-kind=s3)")
	flag.StringVar(&cfg.s3Region, "archive-s3-region", "", "S3 region (archive-kind=s3)")
	flag.StringVar(&cfg.natsAddr, "nats-addr", "", "NATS server address to publish digest events to (empty disables publishing)")
	flag.StringVar(&cfg.natsSubject, "nats-subject", "pyzordigest.digests", "NATS subject digest events are published on")
	flag.Parse()

	if cfg.gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatal("starting gops agent", "error", err)
		}
	}

	var pol *policy.Policy
	if cfg.policyFile != "" {
		src, err := os.ReadFile(cfg.policyFile)
		if err != nil {
			log.Fatal("reading policy file", "error", err)
		}
		pol, err = policy.Compile(string(src))
		if err != nil {
			log.Fatal("compiling policy", "error", err)
		}
	}

	st, err := store.Open(cfg.storeDSN)
	if err != nil {
		log.Fatal("opening store", "error", err)
	}
	defer st.Close()

	sched, err := startPurgeScheduler(st)
	if err != nil {
		log.Fatal("starting scheduler", "error", err)
	}
	defer sched.Shutdown()

	archiveTarget, err := createArchiveTarget(context.Background(), cfg)
	if err != nil {
		log.Fatal("opening archive target", "error", err)
	}

	var publisher *transport.Publisher
	if cfg.natsAddr != "" {
		publisher, err = transport.Connect(cfg.natsAddr, cfg.natsSubject)
		if err != nil {
			log.Fatal("connecting to NATS", "error", err)
		}
		defer publisher.Close()
	}

	srv := &apiServer{
		store:     st,
		policy:    pol,
		maxBuffer: cfg.maxBuffer,
		archive:   archiveTarget,
		publisher: publisher,
	}

	handler := newRouter(srv, cfg.jwtSecret)

	server := &http.Server{
		Addr:         cfg.addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.addr)
	if err != nil {
		log.Fatal("listening", "addr", cfg.addr, "error", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("listening", "addr", cfg.addr)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal("serving", "error", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	wg.Wait()
	log.Info("shutdown complete")
}
