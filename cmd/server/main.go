package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/canvas-sync/internal/auth"
	"github.com/koopa0/system-design/canvas-sync/internal/canvas"
	"github.com/koopa0/system-design/canvas-sync/internal/config"
	"github.com/koopa0/system-design/canvas-sync/internal/events"
	"github.com/koopa0/system-design/canvas-sync/internal/game/tictactoe"
	"github.com/koopa0/system-design/canvas-sync/internal/game/typing"
	"github.com/koopa0/system-design/canvas-sync/internal/handler"
	"github.com/koopa0/system-design/canvas-sync/internal/realtime"
	"github.com/koopa0/system-design/canvas-sync/internal/results"
	"github.com/koopa0/system-design/canvas-sync/internal/results/migrations"
	"github.com/koopa0/system-design/canvas-sync/pkg/logger"
)

func main() {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "", "配置檔案路徑 (YAML)")
		addr       = flag.String("addr", "", "監聽地址，覆蓋配置檔")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)，覆蓋配置檔")
		migrateCmd = flag.String("migrate", "", "只操作資料庫遷移後退出 (up, down, version)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	slog.SetDefault(log)

	if *migrateCmd != "" {
		if err := runMigrate(cfg, log, *migrateCmd); err != nil {
			log.Error("資料庫遷移失敗", "command", *migrateCmd, "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, log); err != nil {
		log.Error("服務器異常退出", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx := context.Background()

	// 身份驗證
	var validator auth.Validator = auth.StaticValidator{}
	if cfg.Auth.Mode == "redis" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		validator = auth.NewRedisValidator(redisClient, cfg.Auth.KeyPrefix)
		log.Info("使用 Redis 驗證 token", "addr", cfg.Redis.Addr)
	}

	// 事件發布
	var publishers events.Multi

	if cfg.NATS.Enabled {
		natsPub, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer natsPub.Close()
		publishers = append(publishers, natsPub)
	}

	var store *results.Store
	if cfg.Postgres.Enabled {
		pool, err := openPostgres(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer pool.Close()

		store = results.NewStore(pool, log)
		publishers = append(publishers, store)
	}

	bus := events.NewBus(publishers, cfg.Events.Buffer, log)
	defer bus.Close()

	// 三個 Manager 各自擁有獨立的事件迴圈與房間命名空間
	canvasManager := canvas.NewManager(canvas.Options{
		Palette:     cfg.Canvas.Palette,
		Validator:   validator,
		AuthTimeout: cfg.Auth.Timeout,
		Events:      bus,
	}, log)
	defer canvasManager.Close()

	ticTacToe := tictactoe.NewManager(bus, log)
	defer ticTacToe.Close()

	typingManager := typing.NewManager(typing.Options{
		CountdownFrom: cfg.Typing.CountdownFrom,
		TickInterval:  cfg.Typing.TickInterval,
		Events:        bus,
	}, log)
	defer typingManager.Close()

	wsServer := realtime.NewServer(realtime.Options{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		SendBuffer:      cfg.WebSocket.SendBuffer,
		PingPeriod:      cfg.WebSocket.PingPeriod,
		PongWait:        cfg.WebSocket.PongWait,
		WriteWait:       cfg.WebSocket.WriteWait,
		MaxMessageSize:  cfg.WebSocket.MaxMessageSize,
	}, log)

	deps := handler.Deps{
		Server:    wsServer,
		Canvas:    canvasManager,
		TicTacToe: ticTacToe,
		Typing:    typingManager,
	}
	if store != nil {
		deps.Results = store
	}
	h := handler.NewHandler(deps, log)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      h.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// 啟動服務器
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("即時同步服務器啟動",
			"addr", cfg.Server.Addr,
			"endpoints", []string{handler.PathCanvas, handler.PathTyping, "/ (tic-tac-toe)"})
		serverErrors <- srv.ListenAndServe()
	}()

	stopStats := make(chan struct{})
	defer close(stopStats)
	if cfg.Server.StatsInterval > 0 {
		go logStats(h, cfg.Server.StatsInterval, stopStats, log)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		log.Info("收到關閉信號，開始優雅關閉...", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// 停止接受新連接；已升級的 WebSocket 不受 Shutdown 管理，需另外關閉
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("服務器關閉失敗", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("強制關閉服務器失敗", "error", closeErr)
			}
		}
		wsServer.Stop()
	}

	log.Info("服務器已關閉")
	return nil
}

// runMigrate 手動操作遷移：up 升到最新，down 回滾一個版本，version 顯示當前版本
func runMigrate(cfg *config.Config, log *slog.Logger, command string) error {
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}

	m, err := migrations.New(cfg.Postgres.DSN, log)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("關閉遷移管理器失敗", "error", err)
		}
	}()

	switch command {
	case "up":
		return m.Up()
	case "down":
		if err := m.Down(); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	log.Info("目前遷移版本", "version", version, "dirty", dirty)
	return nil
}

// openPostgres 執行遷移並建立連線池
func openPostgres(ctx context.Context, cfg *config.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	m, err := migrations.New(cfg.Postgres.DSN, log)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if err := m.Close(); err != nil {
		log.Warn("關閉遷移管理器失敗", "error", err)
	}

	pgConfig, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pgConfig.MaxConns = cfg.Postgres.MaxConns
	pgConfig.MinConns = cfg.Postgres.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	log.Info("對局結果存檔已啟用", "max_conns", cfg.Postgres.MaxConns)
	return pool, nil
}

// logStats 定期輸出統計日誌
func logStats(h *handler.Handler, interval time.Duration, stop <-chan struct{}, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := h.HealthStats()
			log.Info("遊戲服務器統計",
				"tictactoe_games", stats.ActiveGames,
				"typing_games", stats.ActiveSpeedTypingGames,
				"canvas_rooms", stats.CanvasRooms,
				"connections", stats.TotalConnections)
		case <-stop:
			return
		}
	}
}
