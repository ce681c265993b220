package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"go.uber.org/zap"

	"github.com/birthmark/provenance/app/services/node/handlers"
	"github.com/birthmark/provenance/foundation/events"
	"github.com/birthmark/provenance/foundation/ledger/authority"
	"github.com/birthmark/provenance/foundation/ledger/database"
	"github.com/birthmark/provenance/foundation/ledger/database/storage/ldb"
	"github.com/birthmark/provenance/foundation/ledger/database/storage/memory"
	"github.com/birthmark/provenance/foundation/ledger/genesis"
	"github.com/birthmark/provenance/foundation/ledger/nuccache"
	"github.com/birthmark/provenance/foundation/ledger/signature"
	"github.com/birthmark/provenance/foundation/ledger/state"
	"github.com/birthmark/provenance/foundation/ledger/worker"
	"github.com/birthmark/provenance/foundation/logger"
	"github.com/birthmark/provenance/foundation/registry"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7280"`
			PublicHost      string        `conf:"default:0.0.0.0:8280"`
			PrivateHost     string        `conf:"default:0.0.0.0:9280"`
		}
		Node struct {
			GenesisPath      string        `conf:"default:zledger/genesis.json"`
			KeyPath          string        `conf:"default:zledger/keys/validator.pem"`
			SubmittersFolder string        `conf:"default:zledger/submitters/"`
			Storage          string        `conf:"default:disk,help:disk or memory"`
			DBPath           string        `conf:"default:zledger/blocks"`
			Consensus        string        `conf:"default:single-node"`
			Validators       []string      `conf:"help:validator set for poa"`
			BatchInterval    time.Duration `conf:"default:1m"`
			ValidateInterval time.Duration `conf:"default:10s"`
			MaxRetries       int           `conf:"default:3"`
			RetryBackoff     time.Duration `conf:"default:30s"`
		}
		Authority struct {
			Endpoint string        `conf:"default:http://localhost:8180/validate"`
			Timeout  time.Duration `conf:"default:10s"`
			CacheMax int           `conf:"default:10000"`
			CacheTTL time.Duration `conf:"default:1h"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "copyright information here",
		},
	}

	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Node Identity

	// The genesis file fixes the identity of the chain this node extends.
	gen, err := genesis.Load(cfg.Node.GenesisPath)
	if err != nil {
		return fmt.Errorf("unable to load genesis file: %w", err)
	}
	log.Infow("startup", "status", "genesis", "chain", gen.ChainName, "node", gen.NodeID)

	// The validator key signs every block this node seals.
	keys, err := signature.LoadKeys(cfg.Node.KeyPath)
	if err != nil {
		return fmt.Errorf("unable to load validator key: %w", err)
	}

	// The registry provides the set of submitters allowed to batch
	// hashes through this node. An empty folder allows everyone.
	reg, err := registry.New(cfg.Node.SubmittersFolder)
	if err != nil {
		return fmt.Errorf("unable to load submitter registry: %w", err)
	}
	for id := range reg.Copy() {
		log.Infow("startup", "status", "registry", "submitter", id)
	}

	// =========================================================================
	// Ledger Support

	var storage database.Storage
	switch cfg.Node.Storage {
	case "memory":
		storage, err = memory.New()
	default:
		storage, err = ldb.New(cfg.Node.DBPath)
	}
	if err != nil {
		return fmt.Errorf("unable to open storage: %w", err)
	}

	// The ledger packages accept a function of this signature to allow the
	// application to log. These raw messages are also sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	// The verdict cache keeps repeated token validations off the wire.
	cache, err := nuccache.New(cfg.Authority.CacheMax, cfg.Authority.CacheTTL)
	if err != nil {
		return fmt.Errorf("constructing verdict cache: %w", err)
	}

	tokens := authority.New(cfg.Authority.Endpoint, cfg.Authority.Timeout, cache, ev)

	// The state value represents the ledger node. It manages the chain
	// database and provides the API all the outer surfaces go through.
	st, err := state.New(state.Config{
		NodeID:               gen.NodeID,
		Keys:                 keys,
		Storage:              storage,
		ConsensusEngine:      cfg.Node.Consensus,
		Validators:           cfg.Node.Validators,
		AuthorizedSubmitters: reg.AllowList(),
		BatchSizeMin:         gen.BatchSizeMin,
		BatchSizeMax:         gen.BatchSizeMax,
		MaxRetries:           cfg.Node.MaxRetries,
		RetryBackoff:         cfg.Node.RetryBackoff,
		TokenValidator:       tokens,
		Cache:                cache,
		EvHandler:            ev,
	})
	if err != nil {
		return err
	}
	defer st.Shutdown()

	// The worker package implements the background workflows: token
	// validation of staged submissions and periodic batching. The worker
	// registers itself with the state.
	worker.Run(st, cfg.Node.BatchInterval, cfg.Node.ValidateInterval, ev)

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	debugMux := handlers.DebugMux(build, log)

	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
		Evts:     evts,
	})

	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	privateMux := handlers.PrivateMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
	})

	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      privateMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPrv := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPrv()

		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}
