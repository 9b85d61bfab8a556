package app

import (
	"context"
	"os"
	"runtime/debug"
	"time"
	_ "time/tzdata"

	evbus "github.com/asaskevich/EventBus"
	"github.com/robfig/cron/v3"
	"github.com/talkincode/walink/config"
	"github.com/talkincode/walink/internal/agent"
	"github.com/talkincode/walink/internal/bulk"
	"github.com/talkincode/walink/internal/domain"
	"github.com/talkincode/walink/internal/pipeline"
	"github.com/talkincode/walink/internal/roster"
	"github.com/talkincode/walink/internal/session"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
)

type Application struct {
	appConfig *config.AppConfig
	gormDB    *gorm.DB
	sched     *cron.Cron
	settings  *SettingsManager
	bus       evbus.Bus

	agentClient *agent.Client
	procManager *agent.ProcessManager
	sessions    *session.Manager
	pipeline    *pipeline.Pipeline
	dispatcher  *bulk.Dispatcher
	syncer      *roster.Syncer
}

// Ensure Application implements all interfaces
var (
	_ DBProvider        = (*Application)(nil)
	_ ConfigProvider    = (*Application)(nil)
	_ SettingsProvider  = (*Application)(nil)
	_ SchedulerProvider = (*Application)(nil)
	_ AppContext        = (*Application)(nil)
)

var gapp *Application

// GApp returns the process-wide application instance.
func GApp() *Application {
	return gapp
}

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) DB() *gorm.DB {
	return a.gormDB
}

// OverrideDB replaces the application's database handle (used in tests).
func (a *Application) OverrideDB(db *gorm.DB) {
	a.gormDB = db
}

func (a *Application) Init(cfg *config.AppConfig) {
	gapp = a

	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}

	a.initLogger(cfg)

	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	a.gormDB = getDatabase(cfg.Database, cfg.System.Workdir)
	zap.S().Infof("Database connection successful, type: %s", cfg.Database.Type)

	if err := a.MigrateDB(false); err != nil {
		zap.S().Errorf("database migration failed: %v", err)
	}

	// wait for database initialization to complete
	go func() {
		time.Sleep(3 * time.Second)
		a.checkSettings()
		a.checkTemplates()
		a.resetOrphanSessions()
	}()

	a.settings = NewSettingsManager(a.gormDB)
	a.bus = evbus.New()

	a.agentClient = agent.NewClient(cfg.Agent.Timeout)
	a.procManager = agent.NewProcessManager(cfg.Agent.Script, cfg.System.Workdir)

	webhookBase := a.settings.GetString("whatsapp", "webhook_base")
	if webhookBase == "" {
		webhookBase = "http://127.0.0.1:1816/whatsapp/webhook"
	}
	a.sessions = session.NewManager(a.gormDB, a.agentClient, a.procManager, a.bus, webhookBase)
	a.pipeline = pipeline.NewPipeline(pipeline.NewGormRepository(a.gormDB), a.agentClient, a.bus)
	a.dispatcher = bulk.NewDispatcher(a.gormDB, a.pipeline)
	a.syncer = roster.NewSyncer(a.gormDB, a.agentClient)

	// A session reaching ready pulls the roster once in the background.
	if err := a.bus.Subscribe(session.TopicAccountStatus, a.onAccountStatus); err != nil {
		zap.S().Errorf("status subscription failed: %v", err)
	}

	a.initJob()
}

func (a *Application) onAccountStatus(accountId int64, status string) {
	if status != domain.AccountReady {
		return
	}
	go func() {
		var account domain.WhatsAppAccount
		if err := a.gormDB.First(&account, accountId).Error; err != nil {
			return
		}
		if _, err := a.syncer.SyncContacts(&account); err != nil {
			zap.L().Warn("contact sync after ready failed",
				zap.Int64("account_id", accountId), zap.Error(err))
		}
	}()
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
		logger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	} else {
		var err error
		logger, err = zapConfig.Build(zap.AddCaller(), zap.AddCallerSkip(1))
		if err != nil {
			panic(err)
		}
	}
	zap.ReplaceGlobals(logger)
}

func (a *Application) MigrateDB(track bool) (err error) {
	defer func() {
		if err1 := recover(); err1 != nil {
			if os.Getenv("GO_DEBUG_TRACE") != "" {
				debug.PrintStack()
			}
			err2, ok := err1.(error)
			if ok {
				err = err2
				zap.S().Error(err2.Error())
			}
		}
	}()
	if track {
		if err := a.gormDB.Debug().Migrator().AutoMigrate(domain.Tables...); err != nil {
			zap.S().Error(err)
		}
	} else {
		if err := a.gormDB.Migrator().AutoMigrate(domain.Tables...); err != nil {
			zap.S().Error(err)
		}
	}
	return nil
}

func (a *Application) DropAll() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
}

func (a *Application) InitDb() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
	err := a.gormDB.Migrator().AutoMigrate(domain.Tables...)
	if err != nil {
		zap.S().Error(err)
	}
}

// Scheduler returns the cron scheduler
func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

// Settings returns the settings manager
func (a *Application) Settings() *SettingsManager {
	return a.settings
}

// Bus returns the in-process event bus
func (a *Application) Bus() evbus.Bus {
	return a.bus
}

// Sessions returns the account session manager
func (a *Application) Sessions() *session.Manager {
	return a.sessions
}

// Pipeline returns the message pipeline
func (a *Application) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// BulkDispatcher returns the bulk send dispatcher
func (a *Application) BulkDispatcher() *bulk.Dispatcher {
	return a.dispatcher
}

// Syncer returns the roster syncer
func (a *Application) Syncer() *roster.Syncer {
	return a.syncer
}

// AgentClient returns the shared agent HTTP client
func (a *Application) AgentClient() *agent.Client {
	return a.agentClient
}

// GetSettingsStringValue retrieves a string configuration value
func (a *Application) GetSettingsStringValue(category, key string) string {
	return a.settings.GetString(category, key)
}

// GetSettingsInt64Value retrieves an int64 configuration value
func (a *Application) GetSettingsInt64Value(category, key string) int64 {
	return a.settings.GetInt64(category, key)
}

// GetSettingsBoolValue retrieves a boolean configuration value
func (a *Application) GetSettingsBoolValue(category, key string) bool {
	return a.settings.GetBool(category, key)
}

// StartBackgroundJobs starts the cron runner.
func (a *Application) StartBackgroundJobs(ctx context.Context) {
	a.sched.Start()
	go func() {
		<-ctx.Done()
		a.sched.Stop()
	}()
}

// RunHealthCheckNow triggers an immediate health sweep.
func (a *Application) RunHealthCheckNow() {
	a.sessions.CheckAll(int(a.settings.GetInt64Default("whatsapp", "health_pool_size", 8)))
}

// RunBulkSweepNow triggers an immediate scheduled bulk sweep.
func (a *Application) RunBulkSweepNow() {
	a.dispatcher.RunScheduled(context.Background())
}

// Release releases application resources
func (a *Application) Release() {
	if a.sched != nil {
		a.sched.Stop()
	}
	_ = zap.L().Sync()
}
