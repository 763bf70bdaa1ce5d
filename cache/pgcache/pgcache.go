// Package pgcache implements cache.Cache on PostgreSQL, for deployments
// where several server instances share protocol state.
package pgcache

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/elmwood/oidcop/cache"
)

// Cache is a PostgreSQL-backed implementation of cache.Cache.
type Cache struct {
	db *sql.DB
}

// New prepares the schema on the given database and returns the cache.
func New(ctx context.Context, db *sql.DB) (*Cache, error) {
	c := &Cache{db: db}
	if err := c.migrate(ctx); err != nil {
		return nil, errors.Wrap(err, "migrating cache schema")
	}
	return c, nil
}

func (c *Cache) migrate(ctx context.Context) error {
	if _, err := c.db.ExecContext(
		ctx,
		`create table if not exists cache_migrations (
		idx int primary key not null,
		at timestamptz not null
		);`,
	); err != nil {
		return err
	}

	return c.execTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var maxIdx sql.NullInt64
		if err := tx.QueryRowContext(ctx, `select max(idx) from cache_migrations;`).Scan(&maxIdx); err != nil {
			return err
		}

		i := 0
		if maxIdx.Valid {
			i = int(maxIdx.Int64) + 1
		}

		for ; i < len(migrations); i++ {
			if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `insert into cache_migrations (idx, at) values ($1, now());`, i); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Cache) Put(ctx context.Context, key string, value []byte, policy cache.Policy) error {
	var (
		expires time.Time
		sliding int64
	)
	if policy.Sliding > 0 {
		expires = time.Now().Add(policy.Sliding)
		sliding = int64(policy.Sliding / time.Second)
	} else {
		expires = policy.Absolute
	}

	_, err := c.db.ExecContext(
		ctx,
		`insert into cache_entries (key, value, expires, sliding_seconds)
		values ($1, $2, $3, $4)
		on conflict (key)
		do update set value=excluded.value, expires=excluded.expires, sliding_seconds=excluded.sliding_seconds`,
		key, value, nullableTime(expires), sliding,
	)
	return errors.Wrap(err, "putting cache entry")
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	// Renew sliding entries in the same statement, so concurrent readers
	// can't observe a half-renewed row.
	err := c.db.QueryRowContext(
		ctx,
		`update cache_entries
		set expires = case when sliding_seconds > 0 then now() + make_interval(secs => sliding_seconds) else expires end
		where key=$1 and (expires is null or expires > now())
		returning value`,
		key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "getting cache entry")
	}
	return value, true, nil
}

func (c *Cache) Take(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := c.db.QueryRowContext(
		ctx,
		`delete from cache_entries
		where key=$1 and (expires is null or expires > now())
		returning value`,
		key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "taking cache entry")
	}
	return value, true, nil
}

// GC removes expired rows. Expired rows are already invisible to Get and
// Take; this reclaims the space.
func (c *Cache) GC(ctx context.Context) (removed int64, err error) {
	res, err := c.db.ExecContext(ctx, `delete from cache_entries where expires is not null and expires <= now()`)
	if err != nil {
		return 0, errors.Wrap(err, "sweeping cache entries")
	}
	return res.RowsAffected()
}

func (c *Cache) execTx(ctx context.Context, f func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := f(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

var migrations = []string{
	`create table cache_entries(
		key text primary key not null,
		value bytea not null,
		expires timestamptz,
		sliding_seconds bigint not null default 0
	);

	create index cache_entries_expires on cache_entries (expires);
	`,
}
