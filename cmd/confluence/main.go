package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/skalibog/confluence/internal/analysis/aggregator"
	"github.com/skalibog/confluence/internal/config"
	"github.com/skalibog/confluence/internal/exchange"
	"github.com/skalibog/confluence/internal/grading"
	"github.com/skalibog/confluence/internal/presenter"
	"github.com/skalibog/confluence/internal/scheduler"
	"github.com/skalibog/confluence/internal/server"
	"github.com/skalibog/confluence/internal/state"
	"github.com/skalibog/confluence/internal/storage"
	"github.com/skalibog/confluence/internal/ui"
	"github.com/skalibog/confluence/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "Ошибка:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("ошибка инициализации логгера: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Журнал InfluxDB нужен, если он включен или служит источником свечей
	var (
		influx  *storage.InfluxDBStorage
		journal storage.Journal = storage.NopJournal{}
	)
	if cfg.Storage.Enabled || cfg.Exchange.Provider == config.ProviderInfluxDB {
		influx, err = storage.NewInfluxDBStorage(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("ошибка инициализации хранилища: %w", err)
		}
		defer influx.Close()
		if cfg.Storage.Enabled {
			journal = influx
		}
	}

	provider, err := exchange.NewProvider(cfg, influx)
	if err != nil {
		return fmt.Errorf("ошибка инициализации источника свечей: %w", err)
	}
	source := exchange.NewSoftSourceFromConfig(cfg, provider)
	if cfg.Storage.Enabled && cfg.Exchange.Provider != config.ProviderInfluxDB {
		source = source.WithRecorder(influx)
	}

	analyzer := aggregator.NewAnalyzer(cfg, source, journal)
	grader := grading.NewGrader(cfg, source, journal)
	store := state.NewStore(cfg.State.MaxHistory, cfg.Analysis.MinScore)

	sched, err := scheduler.New(cfg, analyzer, grader, store)
	if err != nil {
		return fmt.Errorf("ошибка инициализации планировщика: %w", err)
	}

	p, err := presenter.New(cfg.Display.Timezone)
	if err != nil {
		return err
	}

	logger.Info("Запуск движка сигналов",
		zap.Strings("symbols", analyzer.Symbols()),
		zap.String("provider", cfg.Exchange.Provider),
		zap.String("schedule", cfg.Scheduler.Schedule))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Run(gctx)
	})

	if cfg.Server.Enabled {
		srv := server.New(cfg.Server.Addr, cfg.Server.RefreshInterval, store, sched, p)
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	if cfg.UI.Enabled {
		termUI := ui.NewTermUI(cfg.UI, store, p, cfg.Log.JSONFile)
		g.Go(func() error {
			// выход из интерфейса останавливает остальные компоненты
			defer stop()
			return termUI.Run(gctx)
		})
	}

	err = g.Wait()
	logger.Info("Завершение работы")
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
