package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"poold/internal/capability"
	"poold/internal/common/fsutil"
	"poold/internal/common/logx"
	"poold/internal/config"
	"poold/internal/httpapi"
	"poold/internal/pool"
	"poold/pkg/types"
)

// daemonService adapts the capability pools and the pool system to the HTTP
// layer.
type daemonService struct {
	sys      *pool.System
	generate *capability.GeneratePool
	embed    *capability.EmbedPool
}

func (s *daemonService) Generate(ctx context.Context, model, prompt string, opts capability.GenerateOpts) (string, error) {
	return s.generate.Generate(ctx, model, prompt, opts)
}

func (s *daemonService) Stream(ctx context.Context, model, prompt string, opts capability.GenerateOpts, emit func(string) error) error {
	return s.generate.Stream(ctx, model, prompt, opts, emit)
}

func (s *daemonService) Embed(ctx context.Context, model, input string) ([]float32, error) {
	return s.embed.Embed(ctx, model, input)
}

func (s *daemonService) BatchEmbed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	return s.embed.BatchEmbed(ctx, model, inputs)
}

func (s *daemonService) Status() types.StatusResponse { return s.sys.Status() }

func (s *daemonService) Ready() bool { return s.sys.Ready() }

func main() {
	if err := rootCmd().Execute(); err != nil {
		logx.Log.Fatal().Err(err).Msg("poold failed")
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func rootCmd() *cobra.Command {
	var (
		addr      string
		cfgPath   string
		logLevel  string
		ceilingMB int
		failFast  bool
	)
	cmd := &cobra.Command{
		Use:           "poold",
		Short:         "Model worker pool daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var fileCfg config.Config
			if cfgPath == "" {
				cfgPath, _ = fsutil.FindConfig()
			}
			if cfgPath != "" {
				p, err := fsutil.ExpandHome(cfgPath)
				if err != nil {
					return err
				}
				fileCfg, err = config.Load(p)
				if err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("addr") || fileCfg.Addr == "" {
				fileCfg.Addr = addr
			}
			if cmd.Flags().Changed("log-level") || fileCfg.LogLevel == "" {
				fileCfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("ceiling-mb") || fileCfg.CeilingMB == 0 {
				fileCfg.CeilingMB = ceilingMB
			}
			if cmd.Flags().Changed("fail-fast") {
				fileCfg.FailFast = failFast
			}
			logx.Configure(fileCfg.LogLevel)
			return run(fileCfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", envStr("POOLD_ADDR", ":8080"), "HTTP listen address")
	cmd.Flags().StringVar(&cfgPath, "config", envStr("POOLD_CONFIG", ""), "Path to config file (yaml/json/toml); searched in cwd and ~/.config/poold when unset")
	cmd.Flags().StringVar(&logLevel, "log-level", envStr("POOLD_LOG_LEVEL", "info"), "Log level: debug|info|warn|error")
	cmd.Flags().IntVar(&ceilingMB, "ceiling-mb", envInt("POOLD_CEILING_MB", 8192), "Memory admission budget in MB")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "Reject on full queues instead of blocking")
	return cmd
}

func run(cfg config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sys := pool.NewSystem(cfg.PoolConfig(), cfg.GovernorConfig(), nil)
	gen := capability.NewGeneratePool(cfg.PoolConfig(), sys.Governor(), sys.Coordinator(), nil)
	emb := capability.NewEmbedPool(cfg.PoolConfig(), sys.Governor(), sys.Coordinator(), nil)
	registerModels(cfg, gen, emb)
	sys.Start(ctx)

	svc := &daemonService{sys: sys, generate: gen, embed: emb}
	httpapi.SetBaseContext(ctx)
	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(svc)}

	errCh := make(chan error, 1)
	go func() {
		logx.Log.Info().Str("addr", cfg.Addr).Int("models", len(cfg.Models)).Msg("poold listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logx.Log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	// Drain in-flight pool work first, then close HTTP listeners; the
	// canceled base context aborts any streams that outlive the drain.
	res := sys.Begin()
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logx.Log.Warn().Err(err).Msg("http shutdown")
	}
	logx.Log.Info().
		Bool("clean", res.Clean).
		Dur("elapsed", res.Elapsed).
		Int("remaining", res.Remaining).
		Msg("poold stopped")
	return nil
}

// registerModels fills the pool catalogs from the config. Unknown providers
// are skipped with a warning so one bad entry does not stop the daemon.
func registerModels(cfg config.Config, gen *capability.GeneratePool, emb *capability.EmbedPool) {
	for _, m := range cfg.Models {
		switch {
		case m.Capability == capability.CapGenerate && m.Provider == "stub":
			gen.RegisterModel(m.Identity, m.CostMB, capability.NewStubGenerator(0))
		case m.Capability == capability.CapEmbed && m.Provider == "stub":
			emb.RegisterModel(m.Identity, m.CostMB, capability.NewStubEmbedder(m.EmbedDim, 0))
		default:
			logx.Log.Warn().
				Str("identity", m.Identity).
				Str("capability", m.Capability).
				Str("provider", m.Provider).
				Msg("unknown model entry, skipping")
		}
	}
}
