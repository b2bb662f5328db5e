package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/customer"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/product"
	"github.com/xenking/kart-orders/internal/fixture"
	"github.com/xenking/kart-orders/internal/storage/memory"
	"github.com/xenking/kart-orders/internal/storage/mysql"
	"github.com/xenking/kart-orders/internal/storage/postgres"
	"github.com/xenking/kart-orders/pkg/health"
)

// stores groups the repositories of one storage driver.
type stores struct {
	customers customer.Repository
	products  product.Repository
	orders    order.Repository
	tx        order.Transactor

	// ping is nil for drivers without a connection to check.
	ping  health.CheckFunc
	close func()
}

func openStorage(ctx context.Context, lg *zap.Logger, cfg StorageConfig) (*stores, error) {
	switch cfg.Driver {
	case DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		return &stores{
			customers: postgres.NewCustomerRepository(pool),
			products:  postgres.NewProductRepository(pool),
			orders:    postgres.NewOrderRepository(pool),
			tx:        postgres.NewTransactor(pool),
			ping:      health.PingCheck(pool),
			close:     pool.Close,
		}, nil

	case DriverMySQL:
		db, err := mysql.Open(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, errors.Wrap(err, "open mysql")
		}
		if err := mysql.RunMigrations(ctx, db); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		return &stores{
			customers: mysql.NewCustomerRepository(db),
			products:  mysql.NewProductRepository(db),
			orders:    mysql.NewOrderRepository(db),
			tx:        mysql.NewTransactor(db),
			ping:      db.PingContext,
			close: func() {
				if err := db.Close(); err != nil {
					lg.Warn("Close mysql", zap.Error(err))
				}
			},
		}, nil

	case DriverMemory:
		s := memory.New()
		if cfg.Fixtures != "" {
			set, err := fixture.Load(cfg.Fixtures)
			if err != nil {
				return nil, errors.Wrapf(err, "load fixtures %s", cfg.Fixtures)
			}
			for _, c := range set.Customers {
				s.PutCustomer(c)
			}
			for _, p := range set.Products {
				s.PutProduct(p)
			}
			lg.Info("Fixtures loaded",
				zap.Int("customers", len(set.Customers)),
				zap.Int("products", len(set.Products)),
			)
		}
		return &stores{
			customers: s.Customers(),
			products:  s.Products(),
			orders:    s.OrderRepository(),
			tx:        s,
			close:     func() {},
		}, nil

	default:
		return nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
