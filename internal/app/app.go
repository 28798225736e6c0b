// Package app assembles repositories, engines and HTTP routes into one
// runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"kilnstudio/internal/config"
	"kilnstudio/internal/domain"
	"kilnstudio/internal/middleware"
	"kilnstudio/internal/modules/availability"
	"kilnstudio/internal/modules/booking"
	"kilnstudio/internal/modules/checkin"
	"kilnstudio/internal/modules/entitlement"
	"kilnstudio/internal/modules/reservation"
	"kilnstudio/internal/modules/resource"
	"kilnstudio/internal/modules/waitlist"
	"kilnstudio/internal/pkg/events"
	"kilnstudio/internal/pkg/jwt"
	"kilnstudio/internal/pkg/slotlock"
	"kilnstudio/internal/pkg/tracing"
	"kilnstudio/internal/realtime"
	"kilnstudio/internal/repository"
)

const serviceName = "kilnstudio"

type App struct {
	Config       *config.Config
	DB           *gorm.DB
	JWT          *jwt.Service
	Router       *gin.Engine
	Hub          *realtime.Hub
	Calculator   *availability.Calculator
	Bookings     *booking.Engine
	Waitlist     *waitlist.Manager
	Promoter     *waitlist.Promoter
	Reservations *reservation.Engine
	CheckIn      *checkin.Service

	closers []func(context.Context) error
}

// New wires the whole service on top of an open database. Call Start to run
// the promotion workers and Close to release brokers and tracing.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB) (*App, error) {
	a := &App{Config: cfg, DB: db}

	shutdownTracing, err := tracing.Init(ctx, cfg.OtelEndpoint, serviceName)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdownTracing)

	publisher, err := a.publisher()
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	locker, err := a.locker(ctx)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	loc := cfg.Location()
	tx := repository.NewTransactor(db)
	ents := repository.NewEntitlementRepository(db)
	sessions := repository.NewSessionRepository(db)
	resources := repository.NewResourceRepository(db)
	allocations := repository.NewAllocationRepository(db)
	openStudio := repository.NewOpenStudioBookingRepository(db)
	entries := repository.NewWaitlistRepository(db)
	registrations := repository.NewRegistrationRepository(db)
	reservations := repository.NewReservationRepository(db)
	history := repository.NewHistoryRepository(db)

	a.Calculator = availability.NewCalculator(sessions, allocations, resources, openStudio, entries, loc)

	a.Bookings = booking.NewEngine(booking.Deps{
		Tx:            tx,
		Bookings:      openStudio,
		Sessions:      sessions,
		Resources:     resources,
		Suspensions:   ents,
		Funding:       entitlement.NewResolver(ents, ents),
		Capacity:      a.Calculator,
		Locker:        locker,
		Events:        publisher,
		Location:      loc,
		RetryAttempts: cfg.Booking.RetryAttempts,
	})

	a.Waitlist = waitlist.NewManager(waitlist.Deps{
		Tx:            tx,
		Entries:       entries,
		Subscriptions: ents,
		Capacity:      a.Calculator,
		Bookings:      a.Bookings,
		Locker:        locker,
		Events:        publisher,
		RetryAttempts: cfg.Booking.RetryAttempts,
	})
	a.Promoter = waitlist.NewPromoter(a.Waitlist, cfg.Waitlist.Workers, cfg.Waitlist.QueueSize)
	a.Bookings.SetWaitlistTrigger(a.Promoter)
	a.Calculator.SetPromotionQueue(a.Promoter)

	validator := reservation.NewValidator(reservation.ValidatorDeps{
		Suspensions:     ents,
		Registrations:   registrations,
		Reservations:    reservations,
		Sessions:        sessions,
		Allocations:     allocations,
		Resources:       resources,
		Bookings:        openStudio,
		Location:        loc,
		EnforceSequence: cfg.Reservation.EnforceSequence,
	})
	a.Reservations = reservation.NewEngine(reservation.EngineDeps{
		Tx:            tx,
		Validator:     validator,
		Registrations: registrations,
		Reservations:  reservations,
		Sessions:      sessions,
		Allocations:   allocations,
		History:       history,
		Locker:        locker,
		Events:        publisher,
		Location:      loc,
		RetryAttempts: cfg.Booking.RetryAttempts,
	})

	a.CheckIn = checkin.NewService(checkin.Deps{
		Tx:            tx,
		Reservations:  reservations,
		Registrations: registrations,
		Sessions:      sessions,
		History:       history,
		Events:        publisher,
		Location:      loc,
	})

	a.JWT = jwt.New(cfg.JWTSecret, cfg.JWTTTL, serviceName)
	a.Router = a.router(resource.NewService(resources))
	return a, nil
}

// publisher fans every event out to the websocket hub and, when configured,
// to a broker.
func (a *App) publisher() (events.Publisher, error) {
	a.Hub = realtime.NewHub()
	a.closers = append(a.closers, func(context.Context) error {
		a.Hub.Close()
		return nil
	})

	cfg := a.Config.Events
	switch cfg.Broker {
	case "kafka":
		k := events.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		a.closers = append(a.closers, func(context.Context) error { return k.Close() })
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("publishing events to kafka")
		return events.Multi{a.Hub, k}, nil
	case "rabbitmq":
		r, err := events.NewRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return r.Close() })
		log.Info().Str("queue", cfg.RabbitMQ.Queue).Msg("publishing events to rabbitmq")
		return events.Multi{a.Hub, r}, nil
	}
	return a.Hub, nil
}

// locker is shared through redis when REDIS_ADDR is set, so that several API
// replicas serialise the same slots. Otherwise locks are in-process.
func (a *App) locker(ctx context.Context) (slotlock.Locker, error) {
	cfg := a.Config.Redis
	if cfg.Addr == "" {
		return slotlock.NewLocal(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	log.Info().Str("addr", cfg.Addr).Msg("slot locks shared through redis")
	return slotlock.NewRedis(client, serviceName+":lock:"), nil
}

func (a *App) router(resources *resource.Service) *gin.Engine {
	if a.Config.IsProdLike() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.RequestLogger(), middleware.ErrorLogger(), middleware.CORS(a.Config.CORSAllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	realtime.NewHandler(a.Hub, a.JWT, a.Config.CORSAllowedOrigins).RegisterRoutes(v1)

	protected := v1.Group("")
	protected.Use(middleware.JWTAuth(a.JWT))
	{
		resource.NewHandler(resources).RegisterRoutes(protected)
		availability.NewHandler(a.Calculator).RegisterRoutes(protected)
		booking.NewHandler(a.Bookings).RegisterRoutes(protected)
		waitlist.NewHandler(a.Waitlist, a.Promoter).RegisterRoutes(protected)
		reservation.NewHandler(a.Reservations).RegisterRoutes(protected)
		checkin.NewHandler(a.CheckIn).RegisterRoutes(protected)
	}
	return r
}

// Start launches the waitlist promotion workers. They stop when ctx ends or
// Close is called.
func (a *App) Start(ctx context.Context) {
	a.Promoter.Start(ctx)
}

// Sweep runs the lifecycle jobs for one tenant: finished walk-ins and
// bookings are completed and missed class reservations on the day become
// no-shows.
func (a *App) Sweep(ctx context.Context, tenantID int64, now time.Time) (completed, noShows int, err error) {
	completed, err = a.Bookings.CompleteFinished(ctx, tenantID, now)
	if err != nil {
		return 0, 0, err
	}
	noShows, err = a.CheckIn.MarkNoShows(ctx, tenantID, now.In(a.Config.Location()).Format(domain.DateLayout))
	if err != nil {
		return completed, 0, err
	}
	return completed, noShows, nil
}

// Close stops the promoter and releases external connections in reverse
// order of creation.
func (a *App) Close(ctx context.Context) error {
	if a.Promoter != nil {
		a.Promoter.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
