package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"imaged/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "imaged:", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Every flag defaults to its IMAGED_*
// environment variable; a --config file is applied first and explicitly set
// flags override it.
func newRootCmd() *cobra.Command {
	var cfgPath string
	flagCfg := config.Config{}
	root := &cobra.Command{
		Use:           "imaged",
		Short:         "Text-to-image service with a resource-aware pipeline cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&cfgPath, "config", env("IMAGED_CONFIG", ""), "Config file (.yaml, .json or .toml)")
	pf.StringVar(&flagCfg.DataDir, "data-dir", env("IMAGED_DATA_DIR", config.DefaultDataDir), "Root for downloaded weights and generated images")
	pf.StringVar(&flagCfg.CheckpointsDir, "checkpoints-dir", env("IMAGED_CHECKPOINTS_DIR", ""), "Base model directory (default <data-dir>/checkpoints)")
	pf.StringVar(&flagCfg.LorasDir, "loras-dir", env("IMAGED_LORAS_DIR", ""), "Overlay directory (default <data-dir>/loras)")
	pf.StringVar(&flagCfg.UserAgent, "user-agent", env("IMAGED_USER_AGENT", ""), "User-Agent sent when downloading weights")
	pf.StringVar(&flagCfg.LogLevel, "log-level", env("IMAGED_LOG_LEVEL", config.DefaultLogLevel), "Log level: debug|info|warn|error")
	pf.StringVar(&flagCfg.LogFormat, "log-format", env("IMAGED_LOG_FORMAT", config.DefaultLogFormat), "Log format: console|json")

	load := func(cmd *cobra.Command) (config.Config, error) {
		var cfg config.Config
		if cfgPath != "" {
			var err error
			if cfg, err = config.Load(cfgPath); err != nil {
				return cfg, err
			}
		}
		overlayFlags(cmd.Flags(), &cfg, flagCfg)
		cfg = cfg.WithDefaults()
		return cfg, cfg.Validate()
	}

	root.AddCommand(newServeCmd(&flagCfg, load), newResolveCmd(load), newModelsCmd(load))
	return root
}

// overlayFlags copies flag values into cfg when the flag was set on the
// command line, or when the file left the field empty and the flag carries
// an environment default.
func overlayFlags(fs *pflag.FlagSet, cfg *config.Config, f config.Config) {
	str := func(name string, dst *string, v string) {
		if fs.Changed(name) || (*dst == "" && v != "") {
			*dst = v
		}
	}
	str("addr", &cfg.Addr, f.Addr)
	str("data-dir", &cfg.DataDir, f.DataDir)
	str("checkpoints-dir", &cfg.CheckpointsDir, f.CheckpointsDir)
	str("loras-dir", &cfg.LorasDir, f.LorasDir)
	str("images-dir", &cfg.ImagesDir, f.ImagesDir)
	str("public-base-url", &cfg.PublicBaseURL, f.PublicBaseURL)
	str("user-agent", &cfg.UserAgent, f.UserAgent)
	str("backend", &cfg.Backend, f.Backend)
	str("default-model", &cfg.DefaultModel, f.DefaultModel)
	str("log-level", &cfg.LogLevel, f.LogLevel)
	str("log-format", &cfg.LogFormat, f.LogFormat)

	num := func(name string, dst *int, v int) {
		if fs.Changed(name) || (*dst == 0 && v != 0) {
			*dst = v
		}
	}
	num("max-resident", &cfg.MaxResident, f.MaxResident)
	num("upload-workers", &cfg.UploadWorkers, f.UploadWorkers)
	num("lease-wait-seconds", &cfg.LeaseWaitSeconds, f.LeaseWaitSeconds)
	num("sim-vram-mb", &cfg.SimVRAMMB, f.SimVRAMMB)
	num("rescan-seconds", &cfg.RescanSeconds, f.RescanSeconds)
	num("generate-timeout-seconds", &cfg.GenerateTimeoutSeconds, f.GenerateTimeoutSeconds)

	if fs.Changed("host-ram-buffer") || (cfg.HostRAMBuffer == 0 && f.HostRAMBuffer != 0) {
		cfg.HostRAMBuffer = f.HostRAMBuffer
	}
	if fs.Changed("max-body-bytes") || (cfg.MaxBodyBytes == 0 && f.MaxBodyBytes != 0) {
		cfg.MaxBodyBytes = f.MaxBodyBytes
	}
	if fs.Changed("warm-default-model") || (!cfg.WarmDefaultModel && f.WarmDefaultModel) {
		cfg.WarmDefaultModel = f.WarmDefaultModel
	}
	if fs.Changed("cors-enabled") || (!cfg.CORSEnabled && f.CORSEnabled) {
		cfg.CORSEnabled = f.CORSEnabled
	}
	if fs.Changed("cors-origins") || (len(cfg.CORSOrigins) == 0 && len(f.CORSOrigins) > 0) {
		cfg.CORSOrigins = f.CORSOrigins
	}
}

// splitCSV splits a comma-separated list, trimming blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func env(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
