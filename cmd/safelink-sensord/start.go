package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Nagarohit29/Safelink/alertstore"
	"github.com/Nagarohit29/Safelink/arpanalyze"
	"github.com/Nagarohit29/Safelink/broadcast"
	"github.com/Nagarohit29/Safelink/classifier"
	"github.com/Nagarohit29/Safelink/config"
	"github.com/Nagarohit29/Safelink/controlsurface"
	"github.com/Nagarohit29/Safelink/dfa"
	"github.com/Nagarohit29/Safelink/feature"
	"github.com/Nagarohit29/Safelink/learner"
	"github.com/Nagarohit29/Safelink/macvendor"
	"github.com/Nagarohit29/Safelink/metrics"
	"github.com/Nagarohit29/Safelink/misc"
	"github.com/Nagarohit29/Safelink/sensor"
	"github.com/Nagarohit29/Safelink/threatintel"
	"github.com/Nagarohit29/Safelink/wsgateway"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var (
	ifaceFlag     string
	logLevelFlag  string
	logFileFlag   string
	adminTokenFlg string
	opTokenFlag   string

	startCmd = &cobra.Command{
		Use:     "start",
		Short:   "Run the sensor daemon",
		Example: "safelink-sensord start -i eth0",
		RunE:    runStart,
	}
)

func init() {
	startCmd.Flags().StringVarP(&ifaceFlag, "interface", "i", "",
		"Network interface to monitor at startup (optional; can also be started via POST /sniffer/start)")
	startCmd.Flags().StringVarP(&logLevelFlag, "log-level", "v", "",
		"Logging level override: debug, info, warn, error")
	startCmd.Flags().StringVarP(&logFileFlag, "log-file", "l", "",
		"Where to send logs (stdout if unset)")
	startCmd.Flags().StringVar(&adminTokenFlg, "admin-token", "", "Bearer token granted the admin role")
	startCmd.Flags().StringVar(&opTokenFlag, "operator-token", "", "Bearer token granted the operator role")
	rootCmd.AddCommand(startCmd)
}

// runStart wires every component together and blocks until
// SIGINT/SIGTERM, then shuts down in dependency order: HTTP surface
// first, learner, then the sniffer supervisor.
func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("resolve config: %w", err)
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}

	var logOutputs []string
	if logFileFlag != "" {
		logOutputs = []string{logFileFlag}
	}
	log, err := misc.NewLogger(cfg.LogLevel, logOutputs, logOutputs)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	db, err := sql.Open("sqlite", cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	// sqlite allows one writer at a time; cap the pool so concurrent
	// alert/indicator writes queue on a single connection instead of
	// surfacing as sporadic busy errors under load.
	db.SetMaxOpenConns(1)

	reg := metrics.New(nil)

	hub := broadcast.New(log, cfg.SubscriberQueueDepth, cfg.SubscriberOverflowMax, 1024)
	hub.SetDropHook(func(subscriberID string) {
		reg.BroadcastDropsTotal.WithLabelValues(subscriberID).Inc()
	})

	alerts, err := alertstore.Open(db, log, hub.Publish)
	if err != nil {
		return fmt.Errorf("open alert store: %w", err)
	}

	threatStore, err := threatintel.Open(db)
	if err != nil {
		return fmt.Errorf("open threat-intel store: %w", err)
	}

	schemas, err := feature.Open(db)
	if err != nil {
		return fmt.Errorf("open feature schema store: %w", err)
	}
	schemaReg := feature.NewRegistry()
	if err := schemas.LoadAll(cmd.Context(), schemaReg); err != nil {
		return fmt.Errorf("load feature schemas: %w", err)
	}
	if _, ok := schemaReg.Get(feature.StandardVersion); !ok {
		s := schemaReg.Register(feature.StandardVersion, "standard", "live + alert-replay ARP feature layout",
			feature.StandardFeatures, feature.StandardFeatureTypes(), time.Now())
		if err := schemas.Save(cmd.Context(), s); err != nil {
			return fmt.Errorf("persist standard feature schema: %w", err)
		}
	}

	model, err := loadOrInitModel(cfg)
	if err != nil {
		return fmt.Errorf("load classifier: %w", err)
	}
	clf := classifier.New(model)

	deps := sensor.Deps{
		DFA:         dfa.New(cfg.GratuitousThreshold, cfg.GratuitousWindow),
		Analyzer:    arpanalyze.New(cfg.ArpHistorySize, cfg.PendingRequestTTL),
		Vendor:      macvendor.New(),
		Classifier:  clf,
		Alerts:      alerts,
		ThreatIntel: threatStore,
		Metrics:     reg,
	}
	supervisor := sensor.New(cfg, deps, log, nil)

	lrn, err := learner.New(learner.Config{
		Tick:               cfg.LearningTick,
		LearningInterval:   cfg.LearningInterval,
		MinSamples:         cfg.MinSamples,
		MaxHistory:         cfg.MaxHistory,
		TrainOpts:          classifier.TrainOpts{Epochs: 3, LR: cfg.LearningRate, WeightDecay: 1e-4, BatchSize: cfg.BatchSize},
		ModelPath:          cfg.ModelPath,
		BackupDir:          cfg.ModelPath + ".backups",
		StatePath:          cfg.ModelPath + ".learner_state.json",
		MinAccuracyPercent: cfg.ValidationMinAccuracy * 100,
		MaxLoss:            cfg.ValidationMaxLoss,
		OnCycle: func(rec learner.CycleRecord) {
			reg.LearnerCyclesTotal.WithLabelValues(string(rec.Outcome)).Inc()
		},
	}, log, alerts, clf)
	if err != nil {
		return fmt.Errorf("init learner: %w", err)
	}

	ws := wsgateway.New(hub, log, uuid.NewString)

	auth := controlsurface.TokenAuth{}
	if opTokenFlag != "" {
		auth[opTokenFlag] = controlsurface.RoleOperator
	}
	if adminTokenFlg != "" {
		auth[adminTokenFlg] = controlsurface.RoleAdmin
	}
	var authMiddleware controlsurface.TokenAuth
	if len(auth) > 0 {
		authMiddleware = auth
	}

	srv := &controlsurface.Server{
		Sniffer:     supervisor,
		Alerts:      alerts,
		ThreatIntel: threatStore,
		Learner:     lrn,
		Auth:        authMiddleware,
		Log:         log,
	}
	httpServer := &http.Server{Addr: cfg.WSListenAddr, Handler: controlsurface.NewRouter(srv, http.HandlerFunc(ws.ServeHTTP))}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go hub.Run(ctx)
	go lrn.Run(ctx)
	go sweepBroadcast(ctx, hub)
	go observeLaneLoads(ctx, supervisor, reg)

	if ifaceFlag != "" {
		if err := supervisor.Start(ctx, []string{ifaceFlag}); err != nil {
			log.Error("sensor: failed to start sniffer at launch", zap.Error(err))
		}
	}

	go func() {
		log.Info("controlsurface: listening", zap.String("addr", cfg.WSListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("controlsurface: server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("safelink-sensord: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+2*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)

	lrn.Stop()
	if supervisor.Status().Running {
		supervisor.Stop()
	}
	return nil
}

func loadOrInitModel(cfg config.Config) (*classifier.Model, error) {
	if _, err := os.Stat(cfg.ModelPath); err == nil {
		return classifier.Load(cfg.ModelPath, feature.StandardFeatures)
	}
	m := classifier.NewModel(feature.StandardFeatures, cfg.HiddenDims, cfg.DropoutRate, "v1")
	if err := classifier.Save(m, cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("save initial checkpoint: %w", err)
	}
	return m, nil
}

func sweepBroadcast(ctx context.Context, hub *broadcast.Hub) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			hub.SweepDeadSubscribers(now)
		}
	}
}

func observeLaneLoads(ctx context.Context, s *sensor.Supervisor, reg *metrics.Metrics) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	var lastDrops uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if loads := s.LaneLoads(); loads != nil {
				reg.ObserveLaneLoads(loads)
			}
			if drops := s.DispatchDroppedCount(); drops > lastDrops {
				reg.DispatchDropsTotal.Add(float64(drops - lastDrops))
				lastDrops = drops
			}
		}
	}
}
