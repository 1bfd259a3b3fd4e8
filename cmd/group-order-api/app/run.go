package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/aq2208/group-order-api/configs"
	"github.com/aq2208/group-order-api/internal/adapter/cache"
	apihttp "github.com/aq2208/group-order-api/internal/adapter/http"
	"github.com/aq2208/group-order-api/internal/adapter/http/middleware"
	"github.com/aq2208/group-order-api/internal/adapter/kafka"
	"github.com/aq2208/group-order-api/internal/adapter/queue"
	"github.com/aq2208/group-order-api/internal/adapter/repo"
	"github.com/aq2208/group-order-api/internal/logging"
	"github.com/aq2208/group-order-api/internal/usecase"
)

type App struct {
	Router *gin.Engine
}

func InitWithConfig(cfg configs.Config) (*App, func(), error) {
	log := logging.Init(cfg.App.Name, "./logs/app.log")

	// init database
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		return nil, nil, err
	}
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, nil, err
	}

	sessionRepo := repo.NewMySQLSessionRepo(db)
	outboxRepo := repo.NewMySQLOutboxRepo(db)
	if err := sessionRepo.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}
	if err := outboxRepo.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}

	// init redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, nil, err
	}

	// init rabbitmq producer
	conn, err := amqp091.Dial(cfg.Rabbit.URL)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, err
	}
	producer, err := queue.NewRabbitProducer(ch)
	if err != nil {
		return nil, nil, err
	}

	codeCache := cache.NewRedisCodeCache(rdb)
	idem := cache.NewRedisIdempotencyStore(rdb, cfg.Idempotency.TTL)

	facade := usecase.NewGroupOrderFacade(sessionRepo, codeCache, idem, producer, outboxRepo, usecase.FacadeConfig{
		SessionTTL:      cfg.Session.TTL,
		MaxParticipants: cfg.Session.MaxParticipants,
		SaveRetries:     cfg.Session.SaveRetries,
		CodeRetries:     cfg.Session.CodeRetries,
	})

	// background workers share one cancellable context
	workerCtx, stopWorkers := context.WithCancel(context.Background())

	drainer := queue.NewOutboxDrainer(outboxRepo, producer, cfg.Rabbit.DrainInterval, logging.New("outbox"))
	go drainer.Start(workerCtx)

	if err := setupPaymentListener(workerCtx, cfg, facade); err != nil {
		stopWorkers()
		return nil, nil, err
	}

	// payment gateway reachability probe, non-fatal
	gwConn, closeGW, err := InitPaymentGWConn(workerCtx, cfg)
	if err != nil {
		log.Warn("payment gateway dial failed", "target", cfg.PaymentGW.Target, "error", err)
		closeGW = func() {}
	} else if err := ProbePaymentGW(workerCtx, gwConn, cfg.PaymentGW.Timeout); err != nil {
		log.Warn("payment gateway health probe failed", "target", cfg.PaymentGW.Target, "error", err)
	}

	h := apihttp.NewSessionHandler(facade)
	th := apihttp.NewTokenHandler(cfg)
	authz := middleware.NewAuthz(cfg)
	router := apihttp.NewRouter(h, th, authz)

	cleanup := func() {
		stopWorkers()
		closeGW()
		_ = ch.Close()
		_ = conn.Close()
		_ = rdb.Close()
		_ = db.Close()
	}

	return &App{Router: router}, cleanup, nil
}

func setupPaymentListener(ctx context.Context, cfg configs.Config, facade *usecase.GroupOrderFacade) error {
	grp, err := kafka.NewGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
	if err != nil {
		return err
	}

	h := kafka.NewPaymentStatusHandler(facade)
	consumer := kafka.NewConsumer(grp, []string{cfg.Kafka.PaymentsTopic}, h.Handle, logging.New("kafka"))

	go func() {
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			logging.New("kafka").Error("payment consumer stopped", "error", err)
		}
	}()
	return nil
}
