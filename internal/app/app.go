package app

import (
	"context"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/asaskevich/EventBus"
	"github.com/bwmarrin/snowflake"
	"github.com/panjf2000/ants/v2"
	"github.com/robfig/cron/v3"
	"github.com/talkincode/walinkd/config"
	"github.com/talkincode/walinkd/internal/connwait"
	"github.com/talkincode/walinkd/internal/driver"
	"github.com/talkincode/walinkd/internal/importer"
	"github.com/talkincode/walinkd/internal/qr"
	"github.com/talkincode/walinkd/internal/registry"
	"github.com/talkincode/walinkd/internal/webhook"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Application struct {
	appConfig *config.AppConfig
	sched     *cron.Cron
	pool      *ants.Pool
	bus       EventBus.Bus
	rodDriver *driver.RodDriver
	registry  *registry.Registry
	hook      *webhook.Dispatcher
}

// Ensure Application implements all interfaces
var (
	_ ConfigProvider    = (*Application)(nil)
	_ RegistryProvider  = (*Application)(nil)
	_ SchedulerProvider = (*Application)(nil)
	_ AppContext        = (*Application)(nil)
)

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) Registry() *registry.Registry {
	return a.registry
}

func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

func (a *Application) Init(cfg *config.AppConfig) error {
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}

	a.initLogger(cfg)

	pool, err := ants.NewPool(cfg.Session.WorkerPoolSize)
	if err != nil {
		return err
	}
	a.pool = pool
	a.bus = EventBus.New()

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	sessCfg := cfg.Session
	a.rodDriver = driver.NewRodDriver()
	qrEngine := qr.New(qr.Config{
		WarmupWait:      time.Duration(sessCfg.WarmupWaitSec) * time.Second,
		ProbeInterval:   time.Duration(sessCfg.QrIntervalSec) * time.Second,
		MaxAttempts:     sessCfg.QrMaxAttempts,
		MinPayloadBytes: sessCfg.QrMinBytes,
	})
	detector := connwait.New(connwait.Config{
		Interval:    time.Duration(sessCfg.ConnIntervalSec) * time.Second,
		SettleDelay: time.Duration(sessCfg.SettleSec) * time.Second,
		MaxAttempts: sessCfg.ConnMaxAttempts,
	})
	pipeline := importer.New(importer.Config{
		SettleDelay:        time.Duration(sessCfg.SettleSec) * time.Second,
		MaxContacts:        sessCfg.MaxContacts,
		MaxChats:           sessCfg.MaxChats,
		MaxMessagesPerChat: sessCfg.MaxMessagesPerChat,
	})
	a.hook = webhook.New(webhook.Config{
		Token:     cfg.Webhook.Token,
		Timeout:   time.Duration(cfg.Webhook.TimeoutSec) * time.Second,
		ServerURL: cfg.Webhook.ServerURL,
	})

	a.registry = registry.New(registry.Config{
		EntryURL:   sessCfg.EntryURL,
		NavTimeout: time.Duration(sessCfg.NavTimeoutSec) * time.Second,
		Driver:     driver.Config{Bin: sessCfg.BrowserBin, Headless: true},
	}, a.rodDriver, qrEngine, detector, pipeline, a.hook, a.pool, a.bus, node)

	if err := a.hook.BindStatusTopic(a.bus); err != nil {
		zap.L().Warn("app: webhook status subscription failed", zap.Error(err))
	}

	a.initJobs()
	return nil
}

func (a *Application) initLogger(cfg *config.AppConfig) {
	var zapConfig zap.Config
	if cfg.Logger.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.OutputPaths = []string{"stdout"}

	var logger *zap.Logger
	if cfg.Logger.FileEnable {
		lumberJackLogger := &lumberjack.Logger{
			Filename:   cfg.Logger.Filename,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
			Compress:   false,
		}
		core := zapcore.NewTee(
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(lumberJackLogger),
				zapConfig.Level,
			),
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				zapConfig.Level,
			),
		)
		logger = zap.New(core, zap.AddCaller())
	} else {
		var err error
		logger, err = zapConfig.Build(zap.AddCaller())
		if err != nil {
			panic(err)
		}
	}
	zap.ReplaceGlobals(logger)
}

// initJobs starts the periodic snapshot persistence job.
func (a *Application) initJobs() {
	a.sched = cron.New()
	path := a.appConfig.SnapshotPath()
	_, err := a.sched.AddFunc("@every 1m", func() {
		if err := a.registry.SaveSnapshot(path); err != nil {
			zap.L().Warn("app: snapshot save failed", zap.String("path", path), zap.Error(err))
		}
	})
	if err != nil {
		zap.L().Warn("app: snapshot job registration failed", zap.Error(err))
	}
	a.sched.Start()
}

// RestoreSessions reloads the at-startup snapshot and re-schedules driver
// relaunch with a staggered delay per entry.
func (a *Application) RestoreSessions(ctx context.Context) {
	stagger := time.Duration(a.appConfig.Session.RelaunchStaggerSec) * time.Second
	a.registry.LoadSnapshot(ctx, a.appConfig.SnapshotPath(), stagger)
}

// Release stops jobs, persists a final snapshot and frees resources.
func (a *Application) Release() {
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.registry != nil {
		if err := a.registry.SaveSnapshot(a.appConfig.SnapshotPath()); err != nil {
			zap.L().Warn("app: final snapshot save failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Release()
	}
	if a.rodDriver != nil {
		_ = a.rodDriver.Close()
	}
	_ = zap.L().Sync()
}
