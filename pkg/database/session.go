package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tenant-service/pkg/tenantctx"
	metrics "tenant-service/prometheus"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"
)

// ErrSessionSync means the session-local tenant parameter could not be
// pushed to the connection. The session is unusable at that point; the
// caller's statement is never executed unscoped.
var ErrSessionSync = errors.New("tenant session sync failed")

const syncStatement = "SELECT set_config('" + SettingKey + "', $1, false)"

// execer is the slice of the pinned connection the binding needs.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// tenantBinding tracks the tenant value last pushed to one connection.
type tenantBinding struct {
	exec    execer
	applied string
	set     bool
}

// sync pushes the statement context's tenant value into the session-local
// parameter when it differs from the last pushed value. First use always
// pushes; an unchanged value is a no-op.
func (b *tenantBinding) sync(ctx context.Context) error {
	setting := tenantctx.From(ctx).Setting()
	if b.set && setting == b.applied {
		return nil
	}
	if _, err := b.exec.ExecContext(ctx, syncStatement, setting); err != nil {
		metrics.RecordSessionSync("error")
		return fmt.Errorf("%w: %v", ErrSessionSync, err)
	}
	metrics.RecordSessionSync("ok")
	b.applied = setting
	b.set = true
	return nil
}

// Session wraps a single pooled connection in a gorm session whose every
// statement is preceded by a tenant sync. The check runs on every
// statement, not only at session open, because one session's lifetime
// can span a context change (a nested admin scope, for example).
type Session struct {
	db      *gorm.DB
	binding *tenantBinding
	conn    *sql.Conn
}

// NewSession pins a connection from the global pool and returns a scoped
// session over it. The caller must Close the session to return the
// connection to the pool.
func NewSession(ctx context.Context) (*Session, error) {
	sqlDB, err := DB.DB()
	if err != nil {
		return nil, fmt.Errorf("acquiring connection pool: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("pinning connection: %w", err)
	}

	sess, err := newSession(conn, DB.Logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	sess.conn = conn
	return sess, nil
}

// newSession builds the gorm session and sync callbacks over any
// connection-shaped pool. Split out so tests can substitute a fake
// connection.
func newSession(conn gorm.ConnPool, lg glogger.Interface) (*Session, error) {
	ex, ok := conn.(execer)
	if !ok {
		return nil, fmt.Errorf("connection does not support ExecContext")
	}

	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 conn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:                 lg,
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening scoped session: %w", err)
	}

	binding := &tenantBinding{exec: ex}
	cb := syncCallback(binding)

	// Every statement dispatch path gets the sync-then-execute sequence.
	if err := gdb.Callback().Create().Before("gorm:create").Register("tenant:sync", cb); err != nil {
		return nil, err
	}
	if err := gdb.Callback().Query().Before("gorm:query").Register("tenant:sync", cb); err != nil {
		return nil, err
	}
	if err := gdb.Callback().Update().Before("gorm:update").Register("tenant:sync", cb); err != nil {
		return nil, err
	}
	if err := gdb.Callback().Delete().Before("gorm:delete").Register("tenant:sync", cb); err != nil {
		return nil, err
	}
	if err := gdb.Callback().Row().Before("gorm:row").Register("tenant:sync", cb); err != nil {
		return nil, err
	}
	if err := gdb.Callback().Raw().Before("gorm:raw").Register("tenant:sync", cb); err != nil {
		return nil, err
	}

	return &Session{db: gdb, binding: binding}, nil
}

// syncCallback aborts the statement when the sync fails: gorm's core
// callbacks do not execute once an error is recorded on the statement.
func syncCallback(b *tenantBinding) func(*gorm.DB) {
	return func(db *gorm.DB) {
		if db.Error != nil {
			return
		}
		if err := b.sync(db.Statement.Context); err != nil {
			_ = db.AddError(err)
		}
	}
}

// DB returns the session bound to ctx. The tenant value carried by ctx
// is what the next statement syncs against, so callers entering a nested
// scope re-bind with the derived context.
func (s *Session) DB(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// Close returns the pinned connection to the pool. The tenant parameter
// is reset first so the next borrower of the raw pool never observes a
// leftover binding.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	_, _ = s.conn.ExecContext(context.Background(), syncStatement, "")
	return s.conn.Close()
}
