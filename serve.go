package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"PSocial/data/database/mgo/mongoutil"
	"PSocial/global/config"
	"PSocial/logger"
	"PSocial/middleware"
	midsec "PSocial/middleware/security"
	"PSocial/module/user"
	"PSocial/service/chat"
	"PSocial/service/chat/handlers"
	"PSocial/service/health"
	"PSocial/service/kafka"
	"PSocial/service/metrics"
	"PSocial/service/mgo"
	"PSocial/service/natsx"
	"PSocial/service/presence"
	"PSocial/service/storage"
	redisx "PSocial/service/storage/redis"
	"PSocial/tools/ids"
	"PSocial/tools/safe"
	"PSocial/tools/security"

	"github.com/Shopify/sarama"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func runServe(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.Log.Level, cfg.Log.Encoding)
	defer logger.Sync()
	log := logger.Named("serve")
	ids.SetNodeID(cfg.NodeNum)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mt := metrics.NewMetrics()
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// ---- Mongo：异步连接，未就绪时目录写入返回 ErrNotReady ----
	mgoMgr := mgo.NewManager(&mongoutil.Config{
		Uri:         cfg.Mongo.Uri,
		Address:     cfg.Mongo.Address,
		Database:    cfg.Mongo.Database,
		Username:    cfg.Mongo.Username,
		Password:    cfg.Mongo.Password,
		AuthSource:  cfg.Mongo.AuthSource,
		MaxPoolSize: cfg.Mongo.MaxPoolSize,
		MaxRetry:    cfg.Mongo.MaxRetry,
	}, logger.Named("mongo"))
	mgoCtx, stopMgo := context.WithCancel(context.Background())
	closers = append(closers, func() {
		stopMgo()
		select {
		case <-mgoMgr.Done():
		case <-time.After(5 * time.Second):
		}
	})
	mgoMgr.StartAsync(mgoCtx)

	dir := user.NewMongoDirectory(mgoMgr, cfg.Mongo.Collection)
	writers := []presence.StatusWriter{dir}
	var mirror presence.Mirror

	// ---- Redis 镜像 ----
	if cfg.Redis.Enabled {
		rdb, err := redisx.NewClient(ctx, redisx.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = rdb.Close() })
		rp := storage.NewRedisPresence(rdb, cfg.NodeID, cfg.Presence.MirrorTTL)
		writers = append(writers, rp)
		mirror = rp
		log.Info("redis presence mirror enabled", zap.String("addr", cfg.Redis.Addr))
	}

	// ---- NATS 事件 ----
	var nc *natsx.Client
	if cfg.Nats.Enabled {
		nc, err = natsx.NewClient(natsx.Config{
			Servers:       cfg.Nats.Servers,
			Name:          cfg.Nats.Name,
			ReconnectWait: cfg.Nats.ReconnectWait,
			Timeout:       cfg.Nats.Timeout,
		}, logger.Named("nats"))
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = nc.Close() })
		writers = append(writers, natsx.NewPresencePublisher(nc, cfg.Nats.SubjectPrefix, cfg.NodeID))
	}

	// ---- Kafka 事件 ----
	if cfg.Kafka.Enabled {
		client, prod, err := newKafkaProducer(cfg, log)
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = client.Close() }, func() { _ = prod.Close() })
		writers = append(writers, prod)
	}

	manager := presence.NewManager(presence.Options{
		KickReplaced:  cfg.WS.KickReplacedEnabled(),
		StatusWorkers: cfg.Presence.StatusWorkers,
		StatusQueue:   cfg.Presence.StatusQueue,
		WriteTimeout:  cfg.Presence.WriteTimeout,
	}, writers, logger.Named("presence"), mt)

	if nc != nil {
		err = natsx.SubscribeRemoteOnline(nc, cfg.Nats.SubjectPrefix, cfg.NodeID, logger.Named("nats"), func(ev natsx.PresenceEvent) {
			manager.EvictRemote(ev.UserID, ev.Node)
		})
		if err != nil {
			return err
		}
	}

	rec := presence.NewReconciler(manager, dir, mirror, cfg.Presence.ReconcileCron, logger.Named("reconcile"), mt)
	safe.Go(func() {
		if err := mgoMgr.WaitReady(ctx); err != nil {
			log.Warn("reconciler not started", zap.Error(err))
			return
		}
		if err := rec.Start(); err != nil {
			log.Error("reconciler start failed", zap.Error(err))
		}
	})

	// ---- gRPC health ----
	hs := health.NewServer(5*time.Second, logger.Named("health"))
	hs.AddCheck("mongo", func() error {
		if mgoMgr.Healthy() {
			return nil
		}
		if err := mgoMgr.Err(); err != nil {
			return err
		}
		return errors.New("mongo not ready")
	})
	if cfg.Grpc.Enabled {
		lis, err := net.Listen("tcp", cfg.Grpc.Addr)
		if err != nil {
			return errors.Wrapf(err, "listen %s", cfg.Grpc.Addr)
		}
		safe.Go(func() { hs.Run(ctx) })
		safe.Go(func() {
			if err := hs.Serve(lis); err != nil {
				log.Error("grpc health stopped", zap.Error(err))
			}
		})
		closers = append(closers, hs.Stop)
		log.Info("grpc health listening", zap.String("addr", cfg.Grpc.Addr))
	}

	// ---- HTTP / WS ----
	auth := security.Options{Secret: []byte(cfg.Auth.JwtSecret), Alg: cfg.Auth.Alg}
	if cfg.Auth.JwtSecret == "" {
		log.Warn("auth.jwt_secret not set: authenticated routes will reject every request")
	}
	disp := chat.NewDispatcher()
	handlers.RegisterAll(disp)
	wsSrv := chat.NewServer(chat.ServerConf{
		Client: chat.ClientConf{
			PingInterval:   cfg.WS.PingInterval,
			PongWait:       cfg.WS.PongWait,
			WriteWait:      cfg.WS.WriteWait,
			MaxMessageSize: cfg.WS.MaxMessageSize,
			SendQueueSize:  cfg.WS.SendQueueSize,
		},
		IdentifyTimeout: cfg.WS.IdentifyTimeout,
		AllowedOrigins:  cfg.WS.AllowedOrigins,
		RequireToken:    cfg.Auth.WSRequireToken,
		Auth:            auth,
	}, manager, disp, logger.Named("ws"))

	engine := newEngine(cfg, manager, dir, wsSrv, auth, hs)
	httpSrv := &http.Server{Addr: cfg.HTTP.Addr, Handler: engine, ReadHeaderTimeout: 10 * time.Second}

	serveErr := make(chan error, 1)
	safe.Go(func() {
		log.Info("http listening", zap.String("addr", cfg.HTTP.Addr), zap.String("node", cfg.NodeID))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	})

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-serveErr:
		log.Error("http server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Presence.ShutdownWait)
	defer cancel()
	if e := httpSrv.Shutdown(shutdownCtx); e != nil {
		log.Warn("http shutdown", zap.Error(e))
	}
	rec.Stop(shutdownCtx)
	if e := manager.Shutdown(shutdownCtx); e != nil {
		log.Warn("presence shutdown", zap.Error(e))
	}
	return err
}

func newEngine(cfg *config.AppConfig, manager *presence.Manager, dir user.Directory, wsSrv *chat.Server,
	auth security.Options, hs *health.Server) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	httpLog := logger.Named("http")
	engine.Use(middleware.Recovery(httpLog), middleware.NewChain(middleware.RequestID()).Use(), middleware.AccessLog(httpLog))

	engine.GET(cfg.WS.Path, wsSrv.HandleWS)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/healthz", func(c *gin.Context) {
		st := hs.Check()
		code := http.StatusOK
		if st != healthpb.HealthCheckResponse_SERVING {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status": st.String(),
			"online": manager.Count(),
			"conns":  manager.Sessions(),
		})
	})

	rt := middleware.NewRoutes(engine, midsec.Middleware(auth))
	user.NewHandler(dir, manager, cfg.HTTP.PublicBaseURL, logger.Named("user")).Register(rt)
	return engine
}

func newKafkaProducer(cfg *config.AppConfig, log *zap.Logger) (sarama.Client, *kafka.PresenceProducer, error) {
	client, err := kafka.NewClient(kafka.Config{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: "psocial-" + cfg.NodeID,
		Retries:  cfg.Kafka.Retries,
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.Kafka.EnsureTopic {
		// admin 与 producer 共用 client，不单独 Close
		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			_ = client.Close()
			return nil, nil, errors.Wrap(err, "kafka admin")
		}
		err = kafka.EnsureTopic(admin, kafka.TopicSpec{
			Name:              cfg.Kafka.Topic,
			Partitions:        cfg.Kafka.Partitions,
			ReplicationFactor: cfg.Kafka.ReplicationFactor,
		}, log)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
	}
	prod, err := kafka.NewPresenceProducerFromClient(client, cfg.Kafka.Topic, cfg.NodeID)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return client, prod, nil
}
