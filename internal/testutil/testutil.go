package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dom/news-unpacked/internal/api"
	"github.com/dom/news-unpacked/internal/config"
	"github.com/dom/news-unpacked/internal/repository"
	"github.com/dom/news-unpacked/internal/repository/memory"
	repoPostgres "github.com/dom/news-unpacked/internal/repository/postgres"
	"github.com/dom/news-unpacked/internal/repository/remote"
	"github.com/dom/news-unpacked/internal/websocket"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB manages a testcontainers PostgreSQL instance
type TestDB struct {
	Container testcontainers.Container
	DB        *gorm.DB
	DSN       string
}

// NewTestDB starts a PostgreSQL container and migrates the store schema.
// Skipped with -short.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()

	container, err := tcPostgres.Run(ctx,
		"postgres:15-alpine",
		tcPostgres.WithDatabase("test_news_unpacked"),
		tcPostgres.WithUsername("test"),
		tcPostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	db, err := gorm.Open(gormPostgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	if err := repoPostgres.Migrate(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	testDB := &TestDB{
		Container: container,
		DB:        db,
		DSN:       dsn,
	}

	t.Cleanup(func() {
		testDB.Cleanup()
	})

	return testDB
}

// Cleanup terminates the container
func (tdb *TestDB) Cleanup() {
	if tdb.Container != nil {
		tdb.Container.Terminate(context.Background())
	}
}

// Truncate clears all tables for test isolation
func (tdb *TestDB) Truncate(t *testing.T) {
	t.Helper()

	for _, table := range []string{"messages", "rooms"} {
		if err := tdb.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)).Error; err != nil {
			t.Logf("warning: failed to truncate %s: %v", table, err)
		}
	}
}

// NewTestRedis starts a Redis container and returns its URL. Skipped with
// -short.
func NewTestRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("failed to get redis port: %v", err)
	}
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

// TestConfig returns a configuration suitable for testing
func TestConfig() *config.Config {
	return &config.Config{
		Port:                "0",
		Environment:         "test",
		LogLevel:            "disabled",
		PublicURL:           "http://play.test",
		StoreBackend:        config.BackendMemory,
		WriteRatePerSecond:  1000,
		WriteBurst:          1000,
		TransactionAttempts: 5,
		RoomRetention:       time.Hour,
		CleanupInterval:     time.Minute,
	}
}

// TestServer holds all components for integration testing
type TestServer struct {
	Server *httptest.Server
	Store  repository.Store
	Hub    *websocket.Hub
	Config *config.Config
}

// NewTestServer serves the API over an in-memory store.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	return NewTestServerWith(t, memory.NewStore(nil), TestConfig())
}

// NewTestServerWith serves the API over store with cfg.
func NewTestServerWith(t *testing.T, store repository.Store, cfg *config.Config) *TestServer {
	t.Helper()

	log := zerolog.Nop()
	hub := websocket.NewHub(store, log)
	go hub.Run()

	server := httptest.NewServer(api.NewRouter(store, hub, cfg, log))

	ts := &TestServer{
		Server: server,
		Store:  store,
		Hub:    hub,
		Config: cfg,
	}

	t.Cleanup(func() {
		hub.Stop()
		server.Close()
	})

	return ts
}

// BaseURL returns the test server's base URL
func (ts *TestServer) BaseURL() string {
	return ts.Server.URL
}

// APIURL returns the full API URL for a given path
func (ts *TestServer) APIURL(path string) string {
	return fmt.Sprintf("%s/api/v1%s", ts.Server.URL, path)
}

// WebSocketURL returns the feed URL for a path such as /rooms/ABC123/ws.
func (ts *TestServer) WebSocketURL(path string) string {
	return "ws" + ts.Server.URL[len("http"):] + "/api/v1" + path
}

// Remote returns a client store talking to this server.
func (ts *TestServer) Remote(opts ...remote.Option) *remote.Store {
	opts = append([]remote.Option{remote.WithBackoff(20*time.Millisecond, 200*time.Millisecond)}, opts...)
	return remote.NewStore(ts.Server.URL, opts...)
}
