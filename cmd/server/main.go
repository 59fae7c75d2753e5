package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/coordinationlabs/jackpot-engine/internal/api"
	"github.com/coordinationlabs/jackpot-engine/internal/config"
	"github.com/coordinationlabs/jackpot-engine/internal/entropy"
	"github.com/coordinationlabs/jackpot-engine/internal/events"
	"github.com/coordinationlabs/jackpot-engine/internal/jackpot"
	"github.com/coordinationlabs/jackpot-engine/internal/keeper"
	"github.com/coordinationlabs/jackpot-engine/internal/metrics"
	"github.com/coordinationlabs/jackpot-engine/internal/model"
	"github.com/coordinationlabs/jackpot-engine/internal/store"
	"github.com/coordinationlabs/jackpot-engine/internal/token"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("jackpot-engine failed", "err", err)
		os.Exit(1)
	}
	fmt.Println("jackpot-engine stopped")
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	params, err := cfg.Params()
	if err != nil {
		return err
	}
	engineAddr, err := cfg.EngineAddress()
	if err != nil {
		return err
	}
	keeperAddr, err := cfg.KeeperAddress()
	if err != nil {
		return err
	}
	entropyFee, err := cfg.Amount("entropy.fee", cfg.Entropy.Fee)
	if err != nil {
		return err
	}
	faucet, err := cfg.Amount("token.faucet_amount", cfg.Token.FaucetAmount)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// --- Token, randomness, journal ---
	ledger := token.NewLedger(cfg.Token.Symbol, cfg.Token.Decimals, cfg.Token.TransferFeeBps)
	hub := api.NewWSHub()
	recorder := events.NewRecorder(st, hub, events.DefaultQueueSize)

	key, err := vrfKey(cfg.VRFPrivateKey)
	if err != nil {
		return err
	}
	provider := entropy.NewProvider(key, entropyFee, entropy.WithSettledHook(recorder.RoundSettled))
	slog.Info("randomness provider ready", "address", provider.Address(), "fee", entropyFee)

	// --- Engine ---
	engine, err := jackpot.New(engineAddr, params, ledger.Account(engineAddr), provider, jackpot.WithEventSink(recorder))
	if err != nil {
		return err
	}
	if err := restore(ctx, st, engine, ledger); err != nil {
		return err
	}

	kpr, err := keeper.New(engine, provider, keeperAddr, cfg.KeeperSchedule)
	if err != nil {
		return err
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"jackpot-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	srv := api.NewServer(engine, st, provider, ledger, hub, api.Options{
		AdminToken:   cfg.AdminToken,
		FaucetAmount: faucet,
	})
	r.Route("/api/v1", srv.Routes)

	httpSrv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return recorder.Run(gctx, engine) })
	g.Go(func() error { return provider.Run(gctx, engine) })
	g.Go(func() error { return kpr.Run(gctx) })
	g.Go(func() error {
		slog.Info("jackpot-engine listening", "port", cfg.Port, "round", engine.Snapshot().Round)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down jackpot-engine...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openStore selects PostgreSQL when DATABASE_URL is set, wrapped in a Redis
// read-through cache when REDIS_URL is set too, and memory otherwise.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), closeAll, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	cleanup = append(cleanup, pool.Close)
	pg := store.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	slog.Info("connected to PostgreSQL")

	var st store.Store = pg
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	}
	return st, closeAll, nil
}

// vrfKey parses VRF_PRIVATE_KEY, or generates a throwaway key. Proofs from a
// generated key cannot be checked after a restart.
func vrfKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey != "" {
		key, err := crypto.HexToECDSA(hexKey)
		if err != nil {
			return nil, fmt.Errorf("VRF_PRIVATE_KEY: %w", err)
		}
		return key, nil
	}
	slog.Warn("VRF_PRIVATE_KEY not set, generating an ephemeral randomness key")
	return crypto.GenerateKey()
}

// restore loads the latest snapshot into the engine. The dev token does not
// persist, so the engine account is re-funded with what the snapshot says it
// owes. A round that was waiting for randomness is unlocked: the request died
// with the previous process.
func restore(ctx context.Context, st store.Store, engine *jackpot.Engine, ledger *token.Ledger) error {
	snap, err := st.LatestSnapshot(ctx)
	if errors.Is(err, store.ErrNotFound) {
		slog.Info("no snapshot found, starting fresh")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if err := engine.Restore(*snap); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	ledger.Mint(engine.Account(), snap.Liabilities())

	if snap.Lock != model.Idle {
		slog.Warn("restored round was waiting for randomness, unlocking",
			"round", snap.Round,
			"request_id", snap.PendingRequest,
		)
		if err := engine.ForceUnlock(snap.Params.Owner); err != nil {
			return fmt.Errorf("unlock restored round: %w", err)
		}
	}
	slog.Info("engine restored", "round", snap.Round, "taken_at", snap.TakenAt)
	return nil
}
