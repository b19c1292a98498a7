package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wnxd/microxe/config"
	"github.com/wnxd/microxe/content"
	"github.com/wnxd/microxe/emulator"
	"github.com/wnxd/microxe/filesystem"
	"github.com/wnxd/microxe/internal/null"
	"github.com/wnxd/microxe/ui"
)

type options struct {
	config       string
	launchModule string
	cpu          string
	content      string
	cache        string
	save         string
	restore      string
	dump         bool
	debug        bool
}

func main() {
	var opts options
	flag.StringVar(&opts.config, "config", "", "Path to a TOML configuration file")
	flag.StringVar(&opts.launchModule, "launch-module", "", "Module to launch from a disc or package instead of default.xex")
	flag.StringVar(&opts.cpu, "cpu", "", "CPU backend (any, "+null.BackendName+")")
	flag.StringVar(&opts.content, "content", "", "Root directory of installed content")
	flag.StringVar(&opts.cache, "cache", "", "Root directory of shader caches")
	flag.StringVar(&opts.save, "save", "", "Write a state snapshot here once the title is running")
	flag.StringVar(&opts.restore, "restore", "", "Restore a state snapshot after launching")
	flag.BoolVar(&opts.dump, "dump", false, "Log the headers of every loaded module")
	flag.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: microxe [flags] <path to .xex, .elf, disc image or package>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(flag.Arg(0), opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		cfg.Development = false
	}
	return cfg.Build()
}

func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.launchModule != "" {
		cfg.LaunchModule = opts.launchModule
	}
	if opts.cpu != "" {
		cfg.CPU = opts.cpu
	}
	if opts.content != "" {
		cfg.ContentRoot = opts.content
	}
	if opts.cache != "" {
		cfg.CacheRoot = opts.cache
	}
	return cfg, nil
}

func run(path string, opts options) error {
	logger, err := newLogger(opts.debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()
	filesystem.SetLogger(logger.Named("vfs"))
	content.SetLogger(logger.Named("content"))

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	window := newTerminalWindow(os.Stdout)
	emu := emulator.New(emulator.Options{
		Config:      cfg,
		Logger:      logger,
		Processor:   null.NewProcessor(logger),
		DumpModules: opts.dump,
		Events: emulator.Events{
			OnLaunch: func(titleID uint32, name string) {
				window.Banner(fmt.Sprintf("%08X", titleID), name)
			},
			OnShaderStorageInitialization: func(loading bool) {
				if loading {
					logger.Info("priming shader storage")
				}
			},
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result := make(chan error, 1)
	go func() {
		defer window.Loop().Quit()
		result <- session(ctx, emu, window, path, opts)
	}()
	window.Loop().Run()
	err = <-result
	return multierr.Combine(err, emu.Close())
}

func session(ctx context.Context, emu *emulator.Emulator, window ui.Window, path string, opts options) error {
	if err := emu.Setup(window, null.NewAudio, null.NewGraphics, null.NewInput); err != nil {
		window.Loop().PostSynchronous(func() { window.ShowMessageBox("Setup failed", err.Error()) })
		return fmt.Errorf("setup: %w", err)
	}
	if err := emu.LaunchPath(path); err != nil {
		return fmt.Errorf("launch %s: %w", path, err)
	}
	if opts.restore != "" {
		if err := emu.RestoreFromFile(opts.restore); err != nil {
			return fmt.Errorf("restore %s: %w", opts.restore, err)
		}
	}
	if opts.save != "" {
		if err := emu.SaveToFile(opts.save); err != nil {
			return fmt.Errorf("save %s: %w", opts.save, err)
		}
	}
	for {
		if err := emu.WaitUntilExit(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if !emu.TitleRequested() {
			return nil
		}
		if err := emu.LaunchNextTitle(); err != nil {
			return fmt.Errorf("launch next title: %w", err)
		}
	}
}
