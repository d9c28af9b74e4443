package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/heibot/safety/block"
	"github.com/heibot/safety/chat"
	"github.com/heibot/safety/classifier"
	"github.com/heibot/safety/classifier/aliyun"
	"github.com/heibot/safety/classifier/huawei"
	"github.com/heibot/safety/classifier/remote"
	"github.com/heibot/safety/classifier/tencent"
	"github.com/heibot/safety/client"
	"github.com/heibot/safety/config"
	"github.com/heibot/safety/hooks"
	"github.com/heibot/safety/hooks/redispub"
	"github.com/heibot/safety/ledger"
	"github.com/heibot/safety/ratelimit"
	"github.com/heibot/safety/report"
	"github.com/heibot/safety/server"
	"github.com/heibot/safety/store"
	"github.com/heibot/safety/store/memory"
	sqlstore "github.com/heibot/safety/store/sql"
	"github.com/heibot/safety/visibility"
)

type app struct {
	server *server.Server
	store  store.Store
	redis  *redis.Client
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

func openStore(ctx context.Context, cfg config.Store) (store.Store, error) {
	if cfg.Driver == "memory" {
		return memory.New(), nil
	}
	s, err := sqlstore.New(sqlstore.Config{
		Dialect:         sqlstore.Dialect(cfg.Driver),
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		Migrate:         cfg.Migrate,
	})
	if err != nil {
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// backends builds the configured classifiers. Two backends of the same
// capability cascade, the first configured being primary.
type backends struct {
	faces  classifier.FaceDetector
	images []classifier.ImageSafetyClassifier
	texts  []classifier.TextClassifier
}

func (b *backends) add(v any) {
	if f, ok := v.(classifier.FaceDetector); ok && b.faces == nil {
		b.faces = f
	}
	if i, ok := v.(classifier.ImageSafetyClassifier); ok {
		b.images = append(b.images, i)
	}
	if t, ok := v.(classifier.TextClassifier); ok {
		b.texts = append(b.texts, t)
	}
}

func (b *backends) image() classifier.ImageSafetyClassifier {
	switch len(b.images) {
	case 0:
		return nil
	case 1:
		return b.images[0]
	}
	return classifier.NewImagePipeline(b.images[0], b.images[1], classifier.DefaultPipelineConfig())
}

func (b *backends) text() classifier.TextClassifier {
	switch len(b.texts) {
	case 0:
		return nil
	case 1:
		return b.texts[0]
	}
	return classifier.NewTextPipeline(b.texts[0], b.texts[1], classifier.DefaultPipelineConfig())
}

func buildClassifiers(cfg config.Classifiers, logger *zap.Logger) (*backends, error) {
	b := &backends{}

	if cfg.Remote.Enabled {
		rc := remote.DefaultConfig()
		rc.Endpoint = cfg.Remote.Endpoint
		rc.APIKey = cfg.Remote.APIKey
		rc.Timeout = cfg.Timeout
		if cfg.Remote.MaxRetries > 0 {
			rc.MaxRetries = cfg.Remote.MaxRetries
		}
		rc.Logger = logger
		c, err := remote.New(rc)
		if err != nil {
			return nil, fmt.Errorf("remote classifier: %w", err)
		}
		b.add(c)
	}

	if cfg.Aliyun.Enabled {
		ac := aliyun.DefaultConfig()
		applyBackend(&ac.BackendConfig, cfg.Aliyun, cfg)
		if cfg.Aliyun.Service != "" {
			ac.ImageService = cfg.Aliyun.Service
		}
		c, err := aliyun.New(ac)
		if err != nil {
			return nil, fmt.Errorf("aliyun classifier: %w", err)
		}
		b.add(c)
	}

	if cfg.Tencent.Enabled {
		tc := tencent.DefaultConfig()
		applyBackend(&tc.BackendConfig, cfg.Tencent, cfg)
		tc.TextBizType = cfg.Tencent.Service
		tc.ImageBizType = cfg.Tencent.Service
		c, err := tencent.New(tc)
		if err != nil {
			return nil, fmt.Errorf("tencent classifier: %w", err)
		}
		b.add(c)
	}

	if cfg.Huawei.Enabled {
		hc := huawei.DefaultConfig()
		applyBackend(&hc.BackendConfig, cfg.Huawei, cfg)
		hc.ProjectID = cfg.Huawei.ProjectID
		c, err := huawei.New(hc)
		if err != nil {
			return nil, fmt.Errorf("huawei classifier: %w", err)
		}
		b.add(c)
	}

	return b, nil
}

func applyBackend(dst *classifier.BackendConfig, src config.Backend, cfg config.Classifiers) {
	dst.AccessKeyID = src.AccessKeyID
	dst.AccessKeySecret = src.AccessKeySecret
	if src.Region != "" {
		dst.Region = src.Region
	}
	if src.Endpoint != "" {
		dst.Endpoint = src.Endpoint
	}
	if cfg.Timeout > 0 {
		dst.Timeout = cfg.Timeout
	}
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.store = st

	var publisher hooks.Publisher
	if cfg.Redis.Enabled() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		publisher = redispub.New(a.redis)
	}

	notifyLog := logger.Named("notify")
	fanout := hooks.FanOut{
		Publisher: publisher,
		Notifier: hooks.NotifierFunc(func(ctx context.Context, n hooks.Notification) error {
			notifyLog.Debug("notification", zap.String("type", n.Type), zap.String("title", n.Title))
			return nil
		}),
	}

	rlCfg := ratelimit.Config{Limit: cfg.RateLimit.Limit, Window: cfg.RateLimit.Window}
	var limiter ratelimit.Limiter = ratelimit.NewMemory(rlCfg, cfg.RateLimit.Capacity)
	if cfg.RateLimit.Backend == "redis" {
		limiter = ratelimit.NewRedis(a.redis, rlCfg)
	}

	l := ledger.New(st, ledger.Options{
		Logger:             logger,
		AppealWindow:       cfg.Ledger.AppealWindow,
		MaxConflictRetries: cfg.Ledger.MaxConflictRetries,
	})

	cls, err := buildClassifiers(cfg.Classifiers, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	masker := chat.DefaultMasker()
	if len(cfg.Chat.BannedWords) > 0 || len(cfg.Chat.HateWords) > 0 {
		masker = chat.NewMasker(cfg.Chat.BannedWords, cfg.Chat.HateWords)
	}

	resilient := classifier.DefaultResilientConfig()
	resilient.Timeout = cfg.Classifiers.Timeout
	resilient.MaxRetries = cfg.Classifiers.MaxRetries
	resilient.QPS = int64(cfg.Classifiers.QPS)

	rules := cfg.Policy.Rules()
	opts := client.Options{
		Ledger:       l,
		Hooks:        fanout,
		Logger:       logger,
		Faces:        cls.faces,
		Images:       cls.image(),
		Texts:        cls.text(),
		Resilient:    resilient,
		Rules:        &rules,
		Masker:       masker,
		StoreTimeout: cfg.Timeouts.Store,
	}
	c, err := client.New(opts)
	if err != nil {
		a.Close()
		return nil, err
	}

	blocks := block.New(st, block.Options{Logger: logger})
	svc := server.Services{
		Client: c,
		Ledger: l,
		Reports: report.New(st, report.Options{
			Logger:              logger,
			Hooks:               fanout,
			Ledger:              l,
			EscalationThreshold: cfg.Report.EscalationThreshold,
		}),
		Blocks: blocks,
		Chat: chat.New(st, chat.Options{
			Logger:    logger,
			Limiter:   limiter,
			Masker:    masker,
			Directory: chat.NewStaticDirectory(cfg.Chat.Captains, cfg.Chat.Moderators),
			Blocks:    blocks,
			Hooks:     fanout,
			Ledger:    l,
			MuteEvery: cfg.Chat.MuteEvery,
			MuteFor:   cfg.Chat.MuteFor,
		}),
		Renderer: visibility.NewRenderer(cfg.Visibility.Renderer()),
		Ping:     st.Ping,
	}

	a.server = server.New(svc, server.Config{
		Addr:          cfg.Server.Addr,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		MetricsPath:   cfg.Server.MetricsPath,
		AdminPassword: cfg.Server.AdminPassword,
	}, logger)
	return a, nil
}
