package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sisoputnfrba/tp-kernel/kernel/api"
	"github.com/sisoputnfrba/tp-kernel/kernel/boot"
	"github.com/sisoputnfrba/tp-kernel/kernel/global"
	"github.com/sisoputnfrba/tp-kernel/kernel/loader"
	"github.com/sisoputnfrba/tp-kernel/kernel/scheduler"
	"github.com/sisoputnfrba/tp-kernel/kernel/timer"
	log "github.com/sisoputnfrba/tp-kernel/utils/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "kernel",
		Short:        "Round-robin kernel with paged user memory",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd())
	return root
}

type runOptions struct {
	configPath string
	appsPath   string
	logLevel   string
	linger     bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Boot the kernel and run every application to completion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "config file (JSON or YAML)")
	cmd.Flags().StringVar(&opts.appsPath, "apps", "", "application manifest, overrides the config's apps")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR")
	cmd.Flags().BoolVar(&opts.linger, "linger", false, "keep the inspection API up after every task has exited")
	return cmd
}

func run(ctx context.Context, opts runOptions, out io.Writer) error {
	if err := global.InitGlobal(opts.configPath, opts.logLevel); err != nil {
		return err
	}
	defer global.Logger.CloseLogger()

	cfg := global.KernelConfig
	switch {
	case opts.appsPath != "":
		cfg.Apps = opts.appsPath
	case cfg.Apps != "" && opts.configPath != "" && !filepath.IsAbs(cfg.Apps):
		cfg.Apps = filepath.Join(filepath.Dir(opts.configPath), cfg.Apps)
	}
	if cfg.Apps == "" {
		return errors.New("no applications: set apps in the config or pass --apps")
	}
	ld, err := loader.LoadManifest(cfg.Apps)
	if err != nil {
		return err
	}

	k, err := boot.New(cfg, ld, timer.NewSystemClock(), out, global.Logger)
	if err != nil {
		return fmt.Errorf("booting: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	apiCtx, cancelAPI := context.WithCancel(gctx)
	defer cancelAPI()

	g.Go(func() error {
		err := k.Run(gctx)
		if !opts.linger || err != nil && !errors.Is(err, scheduler.ErrAllTasksCompleted) {
			cancelAPI()
		}
		switch {
		case errors.Is(err, scheduler.ErrAllTasksCompleted), errors.Is(err, context.Canceled):
			return nil
		default:
			return err
		}
	})
	if cfg.PortKernel > 0 {
		s := api.CrearServer(cfg.PortKernel, k, global.Logger)
		global.Logger.Logf(log.INFO, "## inspection API on :%d", cfg.PortKernel)
		g.Go(func() error { return s.Iniciar(apiCtx) })
	}
	return g.Wait()
}
