package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mybrohigh/Xpert/internal/aggregate"
	"github.com/mybrohigh/Xpert/internal/api"
	"github.com/mybrohigh/Xpert/internal/auditlog"
	"github.com/mybrohigh/Xpert/internal/buildinfo"
	"github.com/mybrohigh/Xpert/internal/config"
	"github.com/mybrohigh/Xpert/internal/cryptolink"
	"github.com/mybrohigh/Xpert/internal/geoip"
	"github.com/mybrohigh/Xpert/internal/marzban"
	"github.com/mybrohigh/Xpert/internal/netutil"
	"github.com/mybrohigh/Xpert/internal/policy"
	"github.com/mybrohigh/Xpert/internal/probe"
	"github.com/mybrohigh/Xpert/internal/state"
	"github.com/mybrohigh/Xpert/internal/store"
	"github.com/mybrohigh/Xpert/internal/subscription"
	"github.com/mybrohigh/Xpert/internal/token"
	"github.com/mybrohigh/Xpert/internal/traffic"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// 1. Load and validate environment config.
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	startedAt := time.Now().UTC()
	log.Printf("xpert %s (%s) starting", buildinfo.Version, buildinfo.GitCommit)

	// 2. State database and stores.
	db, err := state.Bootstrap(envCfg.DataDir)
	if err != nil {
		fatal(err)
	}
	defer db.Close()

	sources, err := store.NewSourceStore(envCfg.DataDir)
	if err != nil {
		fatal(err)
	}
	snapshot, err := store.NewSnapshotStore(envCfg.DataDir)
	if err != nil {
		fatal(err)
	}
	direct, err := store.NewDirectConfigStore(envCfg.DataDir)
	if err != nil {
		fatal(err)
	}
	policies, err := policy.NewStore(envCfg.DataDir, envCfg.IPLimitDefault)
	if err != nil {
		fatal(err)
	}
	trafficRepo := traffic.NewRepo(db)

	// 3. Audit trail.
	auditSvc := auditlog.NewService(auditlog.ServiceConfig{
		Repo:          auditlog.NewRepo(db),
		QueueSize:     envCfg.AuditQueueSize,
		FlushBatch:    envCfg.AuditFlushBatchSize,
		FlushInterval: envCfg.AuditFlushInterval,
	})
	auditSvc.Start()
	defer auditSvc.Stop()

	// 4. Networking: feed downloader, prober, target overlay.
	downloader, err := netutil.NewFeedDownloader(envCfg.FetchTimeout, envCfg.FetchProxy)
	if err != nil {
		fatal(err)
	}
	prober := probe.NewProber(envCfg.ProbeTimeout)
	overlay := probe.NewTargetOverlay(envCfg.TargetIPs)

	// 5. Optional services.
	geoSvc := geoip.NewService(geoip.ServiceConfig{
		CacheDir:       envCfg.DataDir,
		DBURL:          envCfg.GeoIPDBURL,
		UpdateSchedule: envCfg.GeoIPUpdateSchedule,
		Downloader:     downloader,
	})
	if err := geoSvc.Start(); err != nil {
		log.Printf("geoip disabled: %v", err)
	}
	defer geoSvc.Stop()
	if geoSvc != nil {
		direct.SetCountryFlag(func(server string) string {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return subscription.FlagForCountry(geoSvc.CountryForHost(ctx, server))
		})
	}

	marzbanClient := marzban.NewClient(envCfg.MarzbanURL, envCfg.MarzbanToken, envCfg.MarzbanFallbackTag)
	cryptoClient := cryptolink.NewClient(envCfg.CryptoEndpoint)
	tokens := token.NewResolver(nil)

	// 6. Aggregation pipeline.
	orch := aggregate.NewOrchestrator(aggregate.Config{
		Sources:           sources,
		Snapshot:          snapshot,
		Downloader:        downloader,
		Prober:            prober,
		Overlay:           overlay,
		Marzban:           marzbanClient,
		GeoIP:             geoSvc,
		SourceConcurrency: envCfg.SourceConcurrency,
		ProbeConcurrency:  envCfg.ProbeConcurrency,
		TickTimeout:       envCfg.AggregationTimeout,
	})
	scheduler := aggregate.NewScheduler(aggregate.SchedulerConfig{
		Orchestrator:    orch,
		Direct:          direct,
		TickInterval:    envCfg.AggregationInterval,
		RefreshInterval: envCfg.PingRefreshInterval,
	})
	if err := scheduler.Start(); err != nil {
		fatal(err)
	}
	defer scheduler.Stop()

	// 7. HTTP server.
	server := api.NewServer(api.ServerConfig{
		ListenAddr:      envCfg.ListenAddr,
		AdminToken:      envCfg.AdminToken,
		APIMaxBodyBytes: int64(envCfg.APIMaxBodyBytes),
		PublicBaseURL:   envCfg.PublicBaseURL,

		Sources:  sources,
		Snapshot: snapshot,
		Direct:   direct,
		Policies: policies,
		Tokens:   tokens,

		Orchestrator: orch,
		Overlay:      overlay,

		Traffic:       trafficRepo,
		TrafficDBPath: state.DBPath(envCfg.DataDir),
		RetentionDays: envCfg.TrafficRetentionDays,
		Audit:         auditSvc,
		GeoIP:         geoSvc,
		Marzban:       marzbanClient,
		Crypto:        cryptoClient,

		StartedAt: startedAt,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", envCfg.ListenAddr)
		errCh <- server.ListenAndServe()
	}()

	// 8. Wait for shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Printf("bye")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
	os.Exit(1)
}
