package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/thought-board/config"
	"github.com/d60-Lab/thought-board/internal/cache"
	"github.com/d60-Lab/thought-board/internal/platform/discord"
	"github.com/d60-Lab/thought-board/internal/repository"
	"github.com/d60-Lab/thought-board/internal/service"
	"github.com/d60-Lab/thought-board/pkg/database"
	"github.com/d60-Lab/thought-board/pkg/identity"
	"github.com/d60-Lab/thought-board/pkg/lock"
	"github.com/d60-Lab/thought-board/pkg/logger"
)

const (
	redisPrefix  = "thoughtboard:"
	feedCacheTTL = 5 * time.Minute
)

// app 命令共用的依赖
type app struct {
	cfg     *config.Config
	db      *gorm.DB
	redis   *redis.Client
	repo    repository.ThoughtRepository
	locker  lock.Locker
	feed    cache.FeedCache
	session *discordgo.Session
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := database.InitDB(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:    cfg,
		db:     db,
		repo:   repository.NewThoughtRepository(db),
		locker: lock.NewLocalLocker(),
		feed:   cache.Noop{},
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			_ = database.Close(db)
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
		a.locker = lock.NewRedisLocker(client, redisPrefix+"lock:")
		a.feed = cache.NewRedisFeedCache(client, redisPrefix, feedCacheTTL)
		logger.Info("redis enabled", zap.String("addr", cfg.Redis.Addr))
	}
	return a, nil
}

// openDiscord 创建会话；只用 REST 的命令不需要连接网关
func (a *app) openDiscord() error {
	if err := a.cfg.RequireBot(); err != nil {
		return err
	}
	s, err := discord.NewSession(a.cfg.Discord.Token)
	if err != nil {
		return err
	}
	a.session = s
	return nil
}

func (a *app) marker() *identity.Marker { return identity.NewMarker(a.cfg.Identity.MarkerSalt) }

func (a *app) messenger() *discord.Messenger { return discord.NewMessenger(a.session) }

func (a *app) sweeper() *service.Sweeper {
	r := a.cfg.Retention
	return service.NewSweeper(a.repo, a.messenger(), a.locker, a.feed, r.Window, r.SweepInterval, a.cfg.Discord.RemoteTimeout, a.cfg.Recovery.RatePerSecond)
}

func (a *app) reconciler(botID string) *service.Reconciler {
	return service.NewReconciler(a.repo, a.messenger(), a.marker(), botID, a.cfg.Recovery.RatePerSecond, a.cfg.Discord.RemoteTimeout)
}

// restBotID 不连网关时通过 REST 查询机器人自身 ID
func (a *app) restBotID(ctx context.Context) (string, error) {
	u, err := a.session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("fetch bot user: %w", err)
	}
	return u.ID, nil
}

func (a *app) Close() {
	if a.session != nil {
		_ = a.session.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = database.Close(a.db)
}
