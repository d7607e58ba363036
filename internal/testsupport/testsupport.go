package testsupport

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"visitrack/internal"
	"visitrack/internal/config"
	"visitrack/internal/database"
	"visitrack/internal/insights"
	"visitrack/internal/timeframe"
	"visitrack/internal/visitors"
)

// testDBCache lets every call inside one top-level test share a database.
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager so it can be handed to code
// expecting a cartridge.DBManager.
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

var _ cartridge.DBManager = (*TestDBManager)(nil)

// SetupTestDB creates a named in-memory database with every model migrated.
// Subtests of the same top-level test get the same database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", rootName, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	// One connection, as the test environment runs in production. Shared
	// cache connections would otherwise trip over each other's table locks.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("testsupport: failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB.Close()
	})

	return db
}

// SetupTestDBManager creates a test DB manager around SetupTestDB.
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	t.Helper()
	return NewTestDBManager(SetupTestDB(t)), GetLogger()
}

// CleanAllTables empties every table, keeping the schema.
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)
	if len(tableNames) == 0 {
		return
	}

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tableNames {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// GetLogger returns a logger that only prints errors.
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// TestConfig is a fresh configuration pinned to the test environment.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Environment = config.Test
	return cfg
}

// FixedClock pins engine and resolver time.
func FixedClock(at time.Time) *timeframe.FixedTimeProvider {
	return &timeframe.FixedTimeProvider{At: at}
}

// VisitorOption adjusts a visitor before CreateVisitor stores it.
type VisitorOption func(*visitors.Visitor)

func WithBrowser(browser string) VisitorOption {
	return func(v *visitors.Visitor) { v.Browser = browser }
}

func WithDevice(device string) VisitorOption {
	return func(v *visitors.Visitor) { v.Device = device }
}

func WithLocation(location string) VisitorOption {
	return func(v *visitors.Visitor) { v.Location = location }
}

func WithUserAgent(userAgent string) VisitorOption {
	return func(v *visitors.Visitor) { v.UserAgent = userAgent }
}

// CreateVisitor inserts a visitor row directly, bypassing the resolver, so
// tests can place last visits anywhere in time.
func CreateVisitor(t *testing.T, db *gorm.DB, ip, project string, lastVisit time.Time, opts ...VisitorOption) *visitors.Visitor {
	t.Helper()

	v := &visitors.Visitor{
		IPAddress:   ip,
		ProjectName: project,
		UserAgent:   "Chrome 120.0 / Windows 10",
		Browser:     "Chrome 120.0",
		Device:      "Desktop",
		Location:    visitors.Unknown,
		LastVisit:   lastVisit.UTC(),
		CreatedAt:   lastVisit.UTC(),
	}
	for _, opt := range opts {
		opt(v)
	}
	require.NoError(t, db.Create(v).Error)
	return v
}

// MailRecorder is an insights.Sender that keeps messages in memory. Sends
// to addresses listed in Fail return an error.
type MailRecorder struct {
	mu       sync.Mutex
	Fail     map[string]bool
	messages []insights.Message
}

func NewMailRecorder(failing ...string) *MailRecorder {
	r := &MailRecorder{Fail: make(map[string]bool)}
	for _, addr := range failing {
		r.Fail[addr] = true
	}
	return r
}

func (r *MailRecorder) Send(_ context.Context, msg insights.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail[msg.To] {
		return fmt.Errorf("mailbox %s unavailable", msg.To)
	}
	r.messages = append(r.messages, msg)
	return nil
}

// Messages returns a copy of everything delivered so far.
func (r *MailRecorder) Messages() []insights.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]insights.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// CreateTestApp builds a server with every route mounted over db and returns
// it with the services behind it.
func CreateTestApp(t *testing.T, db *gorm.DB, opts ...internal.ServiceOption) (*fiber.App, *internal.Services) {
	t.Helper()

	appConfig := TestConfig(t)
	log := GetLogger()

	services, err := internal.NewServices(appConfig, db, log, opts...)
	require.NoError(t, err)
	t.Cleanup(services.Close)

	cfg := internal.NewServerConfig()
	cfg.Config = appConfig
	cfg.Logger = log
	cfg.DBManager = NewTestDBManager(db)

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv, services)
	return srv.App(), services
}

// CreateMinimalTestApp creates a test Fiber app with all routes.
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()
	app, _ := CreateTestApp(t, db)
	return app
}
