package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/wfunc/carbon-cards/internal/api"
	"github.com/wfunc/carbon-cards/internal/config"
	"github.com/wfunc/carbon-cards/internal/database"
	apperrors "github.com/wfunc/carbon-cards/internal/errors"
	"github.com/wfunc/carbon-cards/internal/game"
	"github.com/wfunc/carbon-cards/internal/logger"
	"github.com/wfunc/carbon-cards/internal/service"
	"github.com/wfunc/carbon-cards/internal/utils"
	ws "github.com/wfunc/carbon-cards/internal/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "carbon-cards",
		Short:         "CO₂ 卡牌游戏会话同步服务",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			// .env 不存在时忽略
			_ = godotenv.Load()
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径")

	serve := newServeCmd(&configPath)
	root.RunE = serve.RunE

	root.AddCommand(serve)
	root.AddCommand(newMigrateCmd(&configPath))
	root.AddCommand(newCreateAdminCmd(&configPath))
	root.AddCommand(newTableTokenCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

// bootstrap 加载配置、初始化日志并打开数据库
func bootstrap(configPath string) (*config.Config, *gorm.DB, error) {
	if err := config.Init(configPath); err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}
	cfg := config.Get()

	if err := logger.Init(&cfg.Log); err != nil {
		return nil, nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	setupSystem(&cfg.System)

	if err := database.Init(&cfg.Database); err != nil {
		return nil, nil, apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "初始化数据库连接失败")
	}
	db := database.GetDB()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db, &cfg.Database, logger.GetModuleLogger("database")); err != nil {
			return nil, nil, apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}
	return cfg, db, nil
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动HTTP与WebSocket服务",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer database.Close()
			defer logger.Sync()

			printStartInfo(cfg)
			return runServer(cmd.Context(), cfg, db)
		},
	}
}

// runServer 组装服务并阻塞到收到退出信号
func runServer(parent context.Context, cfg *config.Config, db *gorm.DB) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	log := logger.GetLogger()

	if _, err := database.SeedDemoDeck(db, logger.GetModuleLogger("database")); err != nil {
		log.Warn("演示卡组初始化失败", zap.Error(err))
	}

	services := service.NewServices(db, service.ConfigFrom(&cfg.Security), nil, logger.GetModuleLogger("service"))
	store := services.Repos.Ledger()
	gameLog := logger.GetModuleLogger("game")

	stateMachine := game.NewStateMachine(store, nil, gameLog)
	stateMachine.OnTransition(func(from, to game.PhaseState) {
		logger.LogSessionEvent("phase_changed", to.SessionID, map[string]interface{}{
			"from_phase": from.Phase,
			"to_phase":   to.Phase,
			"round":      to.Round,
			"status":     to.Status,
		})
	})

	hub := ws.NewHub(ws.Services{
		StateMachine: stateMachine,
		Selection:    game.NewSelectionService(store, gameLog),
		Annotation:   game.NewAnnotationService(store, cfg.Session.AnnotationRequiresSelection, gameLog),
		Snapshots:    store,
	}, ws.OptionsFromConfig(cfg), nil, logger.GetModuleLogger("websocket"))
	defer hub.Close()

	router := api.NewRouter(db, services, hub, cfg, logger.GetModuleLogger("http"))
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	config.Watch(func(newCfg *config.Config) {
		logger.SetLevel(newCfg.Log.Level)
		log.Info("配置已更新", zap.String("log_level", newCfg.Log.Level))
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("服务器启动成功",
			zap.String("addr", srv.Addr),
			zap.String("websocket", cfg.WebSocket.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("正在优雅关闭服务器...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return apperrors.Wrap(err, apperrors.ErrTimeout, "关闭超时")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("服务器异常退出", zap.Error(err))
		return err
	}
	log.Info("服务器已安全关闭")
	return nil
}

func newMigrateCmd(configPath *string) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "执行数据库迁移",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Init(*configPath); err != nil {
				return err
			}
			cfg := config.Get()
			if err := logger.Init(&cfg.Log); err != nil {
				return err
			}
			if err := database.Init(&cfg.Database); err != nil {
				return err
			}
			defer database.Close()

			log := logger.GetModuleLogger("database")
			if err := database.Migrate(database.GetDB(), &cfg.Database, log); err != nil {
				return err
			}
			if seed {
				if _, err := database.SeedDemoDeck(database.GetDB(), log); err != nil {
					return err
				}
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "迁移完成")
			return nil
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", true, "没有卡组时写入演示卡组")
	return cmd
}

func newCreateAdminCmd(configPath *string) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "创建管理员账号",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer database.Close()

			generated := password == ""
			if generated {
				if password, err = utils.GenerateRandomString(16); err != nil {
					return err
				}
			}

			services := service.NewServices(db, service.ConfigFrom(&cfg.Security), nil, logger.GetModuleLogger("service"))
			admin, err := services.Auth.CreateAdmin(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "管理员已创建: id=%d username=%s\n", admin.ID, admin.Username)
			if generated {
				_, _ = fmt.Fprintf(out, "随机密码: %s\n", password)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "用户名")
	cmd.Flags().StringVarP(&password, "password", "p", "", "密码（至少8位），为空时随机生成")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newTableTokenCmd(configPath *string) *cobra.Command {
	var adminID, sessionID uint
	cmd := &cobra.Command{
		Use:   "table-tokens",
		Short: "为会话的每个小组签发桌面令牌",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer database.Close()

			services := service.NewServices(db, service.ConfigFrom(&cfg.Security), nil, logger.GetModuleLogger("service"))
			tokens, err := services.Session.TableTokens(cmd.Context(), adminID, sessionID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range tokens {
				_, _ = fmt.Fprintf(out, "table=%d group=%d name=%s\n  %s\n", t.TableIndex, t.GroupID, t.GroupName, t.Token)
			}
			return nil
		},
	}
	cmd.Flags().UintVar(&adminID, "admin", 0, "会话所属管理员ID")
	cmd.Flags().UintVar(&sessionID, "session", 0, "会话ID")
	_ = cmd.MarkFlagRequired("admin")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本信息",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "CO₂ 卡牌游戏服务\n")
			_, _ = fmt.Fprintf(out, "版本: %s\n", Version)
			_, _ = fmt.Fprintf(out, "构建时间: %s\n", BuildTime)
			_, _ = fmt.Fprintf(out, "Git提交: %s\n", GitCommit)
			_, _ = fmt.Fprintf(out, "Go版本: %s\n", runtime.Version())
			_, _ = fmt.Fprintf(out, "操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// setupSystem 设置系统参数
func setupSystem(cfg *config.SystemConfig) {
	if cfg.Timezone != "" {
		if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
			time.Local = loc
		}
	}
	if cfg.MaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcs)
	}
}

// printStartInfo 打印启动信息
func printStartInfo(cfg *config.Config) {
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Printf("  CO₂ 卡牌游戏服务 %s | 模式: %s | PID: %d\n", Version, cfg.Server.Mode, os.Getpid())
	fmt.Printf("  监听: %s | WebSocket: %s | 数据库: %s\n", cfg.Server.Addr(), cfg.WebSocket.Path, cfg.Database.Driver)
	fmt.Printf("  配置文件: %s\n", config.GetString("config_file"))
	fmt.Println("═══════════════════════════════════════════════════════════════")
}
