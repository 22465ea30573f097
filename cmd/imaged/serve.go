package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"imaged/internal/common/fsutil"
	"imaged/internal/config"
	"imaged/internal/engine/sim"
	"imaged/internal/httpapi"
	"imaged/internal/manager"
	"imaged/internal/registry"
	"imaged/internal/storage"
	"imaged/internal/weights"
)

type loadFunc func(cmd *cobra.Command) (config.Config, error)

func newServeCmd(f *config.Config, load loadFunc) *cobra.Command {
	var corsOrigins string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Example: "  imaged serve --addr :8080 --max-resident 2\n" +
			"  IMAGED_SIM_VRAM_MB=8192 imaged serve --default-model runwayml/stable-diffusion-v1-5",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.CORSOrigins = splitCSV(corsOrigins)
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, newLogger(cfg, os.Stderr))
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.Addr, "addr", env("IMAGED_ADDR", config.DefaultAddr), "HTTP listen address, e.g. :8080")
	fl.StringVar(&f.ImagesDir, "images-dir", env("IMAGED_IMAGES_DIR", ""), "Generated image directory (default <data-dir>/images)")
	fl.StringVar(&f.PublicBaseURL, "public-base-url", env("IMAGED_PUBLIC_BASE_URL", ""), "Prefix for returned image URLs")
	fl.IntVar(&f.MaxResident, "max-resident", envInt("IMAGED_MAX_RESIDENT", 0), "Maximum pipelines on the accelerator (0=memory bound only)")
	fl.Float64Var(&f.HostRAMBuffer, "host-ram-buffer", envFloat("IMAGED_HOST_RAM_BUFFER", config.DefaultHostRAMBuffer), "Fraction of host memory kept free when demoting")
	fl.IntVar(&f.UploadWorkers, "upload-workers", envInt("IMAGED_UPLOAD_WORKERS", config.DefaultUploadWorkers), "Concurrent image uploads per request")
	fl.IntVar(&f.LeaseWaitSeconds, "lease-wait-seconds", envInt("IMAGED_LEASE_WAIT_SECONDS", config.DefaultLeaseWait), "Seconds to wait for a busy pipeline before answering 429")
	fl.StringVar(&f.Backend, "backend", env("IMAGED_BACKEND", config.DefaultBackend), "Inference backend")
	fl.IntVar(&f.SimVRAMMB, "sim-vram-mb", envInt("IMAGED_SIM_VRAM_MB", 0), "Simulated accelerator capacity in MiB (0=unlimited)")
	fl.StringVar(&f.DefaultModel, "default-model", env("IMAGED_DEFAULT_MODEL", ""), "Model used when a request omits model_name")
	fl.BoolVar(&f.WarmDefaultModel, "warm-default-model", envBool("IMAGED_WARM_DEFAULT_MODEL", false), "Load the default model onto the accelerator at startup")
	fl.IntVar(&f.RescanSeconds, "rescan-seconds", envInt("IMAGED_RESCAN_SECONDS", 0), "Re-read the checkpoints directory every N seconds (0=never)")
	fl.IntVar(&f.GenerateTimeoutSeconds, "generate-timeout-seconds", envInt("IMAGED_GENERATE_TIMEOUT_SECONDS", 0), "Upper bound for one /generate call (0=unbounded)")
	fl.BoolVar(&f.CORSEnabled, "cors-enabled", envBool("IMAGED_CORS_ENABLED", false), "Enable CORS")
	fl.StringVar(&corsOrigins, "cors-origins", env("IMAGED_CORS_ORIGINS", ""), "Comma-separated allowed origins")
	fl.Int64Var(&f.MaxBodyBytes, "max-body-bytes", int64(envInt("IMAGED_MAX_BODY_BYTES", config.DefaultMaxBodyBytes)), "Maximum request body size")
	return cmd
}

// serve wires the service together and blocks until ctx is canceled.
func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	checkpoints, err := fsutil.EnsureDir(cfg.CheckpointsDir)
	if err != nil {
		return err
	}
	loras, err := fsutil.EnsureDir(cfg.LorasDir)
	if err != nil {
		return err
	}
	images, err := fsutil.EnsureDir(cfg.ImagesDir)
	if err != nil {
		return err
	}
	reg, err := registry.LoadDir(checkpoints)
	if err != nil {
		return err
	}
	repo, err := storage.OpenLocal(images, cfg.PublicBaseURL)
	if err != nil {
		return err
	}
	defer repo.Close()

	var hostMem manager.HostMemory
	if pm, err := manager.NewProcHostMemory(""); err != nil {
		log.Warn().Err(err).Msg("host memory probing unavailable; demotions will not check headroom")
	} else {
		hostMem = pm
	}

	wopts := weights.Options{UserAgent: cfg.UserAgent, Logger: log}
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Backend:       sim.New(sim.Config{VRAMMB: cfg.SimVRAMMB}),
		Checkpoints:   weights.New(checkpoints, wopts),
		Overlays:      weights.New(loras, wopts),
		Repository:    repo,
		HostMemory:    hostMem,
		Registry:      reg,
		DefaultModel:  cfg.DefaultModel,
		HostRAMBuffer: cfg.HostRAMBuffer,
		MaxResident:   cfg.MaxResident,
		UploadWorkers: cfg.UploadWorkers,
		LeaseWait:     cfg.LeaseWait(),
		Logger:        &log,
	})
	defer func() {
		if err := mgr.Close(); err != nil {
			log.Error().Err(err).Msg("close manager")
		}
	}()
	rep := mgr.SanityCheck()
	log.Info().Str("backend", rep.Backend).Bool("repository_ok", rep.RepositoryOK).Bool("host_memory_ok", rep.HostMemoryOK).Str("checkpoints", rep.CheckpointDir).Int("local_models", len(reg)).Msg("sanity check")
	if rep.Error != "" {
		return errors.New(rep.Error)
	}

	if cfg.WarmDefaultModel && cfg.DefaultModel != "" {
		op, _ := mgr.Switch(ctx, cfg.DefaultModel, "")
		log.Info().Str("op", op).Str("model", cfg.DefaultModel).Msg("warming default model")
	}
	if cfg.RescanSeconds > 0 {
		go watchRegistry(ctx, mgr, checkpoints, time.Duration(cfg.RescanSeconds)*time.Second, log)
	}

	httpapi.SetLogger(log)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetGenerateTimeoutSeconds(int64(cfg.GenerateTimeoutSeconds))
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins, nil, nil)
	httpapi.SetFileStore(repo)
	httpapi.SetBaseContext(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("data_dir", cfg.DataDir).Int("max_resident", cfg.MaxResident).Msg("imaged listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown")
	}
	return nil
}

// watchRegistry rescans dir every interval until ctx is done.
func watchRegistry(ctx context.Context, mgr *manager.Manager, dir string, interval time.Duration, log zerolog.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rescanRegistry(mgr, dir, log)
		}
	}
}

// rescanRegistry replaces the manager's registry with the current contents
// of dir. A failed scan keeps the previous registry.
func rescanRegistry(mgr *manager.Manager, dir string, log zerolog.Logger) int {
	reg, err := registry.LoadDir(dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("checkpoint rescan failed")
		return len(mgr.ListModels())
	}
	mgr.SetRegistry(reg)
	log.Debug().Int("local_models", len(reg)).Msg("checkpoints rescanned")
	return len(reg)
}
