package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/tillflow"
	"github.com/aretw0/tillflow/pkg/adapters/file"
	"github.com/aretw0/tillflow/pkg/adapters/memory"
	redisAdapter "github.com/aretw0/tillflow/pkg/adapters/redis"
	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/aretw0/tillflow/pkg/observability"
	"github.com/aretw0/tillflow/pkg/persistence/middleware"
	"github.com/aretw0/tillflow/pkg/session"
	backend "github.com/redis/go-redis/v9"
)

// SessionOptions selects where conversation snapshots are kept.
type SessionOptions struct {
	// RedisURL selects Redis. Without it Dir selects JSON files, and without
	// either snapshots stay in memory.
	RedisURL string
	Dir      string
	TTL      time.Duration
	LockTTL  time.Duration

	// MaskKeys are patterns of scope keys replaced by a mask before saving.
	MaskKeys []string
	// EncryptionKey, when set, encrypts the scope of every snapshot (AES-256).
	EncryptionKey []byte
}

// openSessions builds the snapshot manager. The returned close function
// releases the backing client.
func openSessions(ctx context.Context, opts SessionOptions, logger *slog.Logger) (*session.Manager, func() error, error) {
	mws, err := snapshotMiddlewares(opts)
	if err != nil {
		return nil, nil, err
	}
	managerOpts := []session.Option{session.WithLogger(logger)}
	noop := func() error { return nil }

	switch {
	case opts.RedisURL == "" && opts.Dir != "":
		logger.Info("Snapshots stored on disk", "dir", opts.Dir)
		return session.NewManager(middleware.Wrap(file.New(opts.Dir), mws...), managerOpts...), noop, nil
	case opts.RedisURL == "":
		return session.NewManager(middleware.Wrap(memory.NewStore(), mws...), managerOpts...), noop, nil
	}

	redisOpts, err := backend.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := backend.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}

	store := redisAdapter.NewFromClient(client, redisAdapter.WithTTL(opts.TTL))
	managerOpts = append(managerOpts, session.WithLocker(redisAdapter.NewLocker(client, "tillflow:")))
	if opts.LockTTL > 0 {
		managerOpts = append(managerOpts, session.WithLockTTL(opts.LockTTL))
	}
	logger.Info("Snapshots stored in Redis", "addr", redisOpts.Addr, "ttl", opts.TTL)
	return session.NewManager(middleware.Wrap(store, mws...), managerOpts...), client.Close, nil
}

// snapshotMiddlewares masks before it encrypts.
func snapshotMiddlewares(opts SessionOptions) ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if len(opts.MaskKeys) > 0 {
		mw, err := middleware.NewPIIMiddleware(opts.MaskKeys)
		if err != nil {
			return nil, fmt.Errorf("invalid mask pattern: %w", err)
		}
		mws = append(mws, mw)
	}
	if len(opts.EncryptionKey) > 0 {
		mw, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: opts.EncryptionKey})
		if err != nil {
			return nil, err
		}
		mws = append(mws, mw)
	}
	return mws, nil
}

// createEngine initializes an engine from a flow file with standard CLI conventions.
func createEngine(flowFile string, debug bool, logger *slog.Logger, hooks []domain.LifecycleHooks, extra ...tillflow.Option) (*tillflow.Engine, error) {
	if debug {
		hooks = append([]domain.LifecycleHooks{observability.LoggingHooks(logger)}, hooks...)
	}
	opts := []tillflow.Option{
		tillflow.WithLogger(logger),
		tillflow.WithLifecycleHooks(observability.Chain(hooks...)),
	}
	opts = append(opts, extra...)

	engine, err := tillflow.NewFromFile(flowFile, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing engine: %w", err)
	}
	return engine, nil
}
