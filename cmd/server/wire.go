package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tariel-x/livedesk/internal/bus"
	"github.com/tariel-x/livedesk/internal/clock"
	"github.com/tariel-x/livedesk/internal/config"
	"github.com/tariel-x/livedesk/internal/database"
	"github.com/tariel-x/livedesk/internal/experts"
	"github.com/tariel-x/livedesk/internal/handlers"
	"github.com/tariel-x/livedesk/internal/inbox"
	"github.com/tariel-x/livedesk/internal/push"
	"github.com/tariel-x/livedesk/internal/session"
	"github.com/tariel-x/livedesk/internal/store"
)

// app holds the long-lived components of the server.
type app struct {
	log       *zap.Logger
	store     store.Store
	bus       bus.Bus
	scheduler *clock.Scheduler
	desk      *inbox.Receiver
	relay     *push.Relay
	handlers  *handlers.Handlers

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{log: logger}

	var db *gorm.DB
	openDB := func() (*gorm.DB, error) {
		if db != nil {
			return db, nil
		}
		var err error
		db, err = database.Open(cfg.Store.Path)
		return db, err
	}

	st, err := openStore(ctx, cfg, logger, openDB)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, func() { _ = st.Close() })

	b, err := openBus(ctx, cfg, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.bus = b
	a.closers = append(a.closers, func() { _ = b.Close() })

	dir := experts.Default()
	a.scheduler = clock.NewScheduler(cfg.Inbox.TickInterval, nil)

	a.desk = inbox.New(st, b, logger.Named("desk"), inbox.WithDirectory(dir))
	a.desk.Start(ctx)
	cancelTick := a.scheduler.Register(func(now time.Time) {
		a.desk.Tick(ctx, now)
	})
	a.closers = append(a.closers, cancelTick, a.desk.Close)

	if cfg.Push.Enabled {
		if err := cfg.Push.LoadVAPIDKeys(); err != nil {
			a.close()
			return nil, err
		}
		pdb, err := openDB()
		if err != nil {
			a.close()
			return nil, err
		}
		a.relay = push.NewRelay(pdb, cfg.Push, logger.Named("push"))
		a.relay.Start(b)
		a.closers = append(a.closers, a.relay.Stop)
		if cfg.Store.Driver != config.StoreDriverSQLite {
			a.closers = append(a.closers, func() {
				if sqlDB, err := pdb.DB(); err == nil {
					_ = sqlDB.Close()
				}
			})
		}
		logger.Info("web push enabled", zap.String("subject", cfg.Push.Subject))
	}

	originator := session.New(st, b, logNavigator(logger), logger.Named("session"))

	a.handlers = handlers.New(handlers.Deps{
		Config:     cfg,
		Store:      st,
		Bus:        b,
		Directory:  dir,
		Scheduler:  a.scheduler,
		Originator: originator,
		Desk:       a.desk,
		Push:       a.relay,
		Logger:     logger.Named("http"),
	})
	a.closers = append(a.closers, a.handlers.Close)
	return a, nil
}

// close releases components in reverse start order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, openDB func() (*gorm.DB, error)) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory record store, invites are lost on restart")
		return store.NewMemory(), nil
	case config.StoreDriverSQLite:
		db, err := openDB()
		if err != nil {
			return nil, err
		}
		logger.Info("record store opened", zap.String("driver", "sqlite"), zap.String("path", cfg.Store.Path))
		return store.NewSQLite(db), nil
	case config.StoreDriverRedis:
		st, err := store.NewRedis(ctx, cfg.Store.RedisURL, logger.Named("store"))
		if err != nil {
			return nil, err
		}
		logger.Info("record store opened", zap.String("driver", "redis"))
		return st, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func openBus(ctx context.Context, cfg *config.Config, logger *zap.Logger) (bus.Bus, error) {
	switch cfg.Bus.Driver {
	case config.BusDriverNone:
		logger.Info("broadcast disabled, views poll the pending buffer")
		return bus.Noop{}, nil
	case config.BusDriverLocal:
		return bus.NewLocal(cfg.Bus.Buffer, logger.Named("bus")), nil
	case config.BusDriverRedis:
		b, err := bus.NewRedis(ctx, cfg.Bus.RedisURL, cfg.Bus.Channel, cfg.Bus.Buffer, logger.Named("bus"))
		if err != nil {
			return nil, err
		}
		logger.Info("broadcast bus connected", zap.String("driver", "redis"), zap.String("channel", cfg.Bus.Channel))
		return b, nil
	}
	return nil, fmt.Errorf("unknown bus driver %q", cfg.Bus.Driver)
}

// logNavigator records originator navigation. HTTP callers override it per
// request to return the location to the client.
func logNavigator(logger *zap.Logger) session.Navigator {
	return session.NavigatorFunc(func(_ context.Context, target string) {
		logger.Debug("navigate", zap.String("target", target))
	})
}
