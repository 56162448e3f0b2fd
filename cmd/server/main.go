package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/tracefund/trace-backend/internal/adapter/backend"
	grpcadapter "github.com/tracefund/trace-backend/internal/adapter/grpc"
	"github.com/tracefund/trace-backend/internal/adapter/ledger"
	"github.com/tracefund/trace-backend/internal/adapter/realtime"
	"github.com/tracefund/trace-backend/internal/adapter/repository/memory"
	"github.com/tracefund/trace-backend/internal/adapter/repository/postgres"
	"github.com/tracefund/trace-backend/internal/config"
	"github.com/tracefund/trace-backend/internal/domain"
	"github.com/tracefund/trace-backend/internal/logger"
	"github.com/tracefund/trace-backend/internal/metrics"
	"github.com/tracefund/trace-backend/internal/usecase/traceview"
	"github.com/tracefund/trace-backend/internal/usecase/withdrawal"
)

// donationStore is a donation source that can also record broadcast withdrawals
type donationStore interface {
	domain.DonationBackend
	ledger.Bookkeeper
}

func main() {
	// 1. Configuration and logging
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logger.Init(cfg.Log); err != nil {
		logrus.Fatalf("Failed to initialise logger: %v", err)
	}
	log := logrus.WithField("component", "main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 2. Backend API
	api := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout)
	converter := backend.NewConversionService(api, cfg.ConversionRPS)

	// 3. Database (optional): donation read model and withdrawal audit
	var db *postgres.DB
	if cfg.DBConnStr != "" {
		db, err = postgres.NewDB(cfg.DBConnStr)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to prepare database schema: %v", err)
		}
	}

	var donations donationStore = backend.NewDonationRepository(api)
	if cfg.DonationSource == config.DonationSourcePostgres {
		donations = postgres.NewDonationRepository(db, cfg.DonationCollectCountLimit)
	}

	var audit domain.WithdrawalRepository = memory.NewWithdrawalRepository()
	if db != nil {
		audit = postgres.NewWithdrawalRepository(db)
	}

	// 4. Chain
	chain, err := ethclient.DialContext(ctx, cfg.ChainRPCURL)
	if err != nil {
		log.Fatalf("Failed to connect to chain RPC: %v", err)
	}
	defer chain.Close()

	chainID, err := chain.ChainID(ctx)
	if err != nil {
		log.Fatalf("Failed to read chain ID: %v", err)
	}
	if chainID.Int64() != cfg.RequiredChainID {
		log.Warnf("RPC node is on chain %s, withdrawals require chain %d", chainID, cfg.RequiredChainID)
	}

	txLedger := ledger.NewLedger(chain, ledger.NewHTTPRelay(cfg.RelayURL, cfg.BackendTimeout), donations, ledger.Config{
		ExplorerTxURL:  cfg.ExplorerTxURL,
		Confirmations:  cfg.Confirmations,
		ConfirmTimeout: cfg.ConfirmTimeout,
	})
	identity := backend.NewIdentityProvider(api, txLedger)

	// 5. Realtime push channel
	push := realtime.NewClient(realtime.ClientConfig{URL: cfg.RealtimeURL})
	if err := push.Connect(ctx); err != nil {
		log.Fatalf("Failed to connect to realtime endpoint: %v", err)
	}

	// 6. Services (Use Cases)
	views := traceview.NewManagerService(donations, push, converter, cfg.PageSize, cfg.MinimumPayoutUSD)
	notifications := withdrawal.NewNotificationLog()
	withdrawals := withdrawal.NewOrchestratorService(identity, donations, txLedger, audit, notifications, withdrawal.Config{
		MinimumPayoutUSD: cfg.MinimumPayoutUSD,
		BatchLimit:       cfg.DonationCollectCountLimit,
		RequiredChainID:  cfg.RequiredChainID,
	})

	// 7. Metrics
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infof("Metrics server listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server stopped: %v", err)
		}
	}()

	// 8. gRPC Server
	grpcServer := grpclib.NewServer(
		grpclib.UnaryInterceptor(grpcadapter.AuthInterceptor(cfg.APIToken)),
	)
	grpcadapter.RegisterTraceServiceServer(grpcServer, grpcadapter.NewServer(views, withdrawals, notifications, cfg.DisplayDecimals))
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", cfg.GRPCAddr, err)
	}

	go func() {
		log.Infof("gRPC server listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatalf("Failed to serve gRPC server: %v", err)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Info("Shutting down gracefully...")

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	views.CloseAll()
	if err := push.Close(); err != nil {
		log.WithError(err).Warn("Failed to close realtime connection")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Failed to stop metrics server")
	}
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
