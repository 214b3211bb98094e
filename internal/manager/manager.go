// Package manager владеет жизненным циклом определений активов и держит
// физическую схему сгенерированных таблиц в согласии с метаданными.
//
// Правило синхронизации: метаданные никогда не ссылаются на колонку,
// которой физически нет. На СУБД с транзакционным DDL (postgres, sqlite,
// sqlserver) DDL и метаданные идут в одной транзакции. На MySQL DDL
// коммитится неявно, поэтому сначала DDL, проверка фактической схемы,
// затем метаданные; при ошибке применённый DDL откатывается компенсацией.
package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"assetforge/internal/capacity"
	"assetforge/internal/definition"
	"assetforge/internal/editsession"
	"assetforge/internal/fieldtype"
	"assetforge/internal/logging"
	"assetforge/internal/metrics"
	"assetforge/internal/schema"
)

var tracer = otel.Tracer("assetforge/manager")

type Options struct {
	Capacities *capacity.Registry
	Types      *fieldtype.Resolver
	Tokens     TokenStore
	Now        func() time.Time
	Dialect    *schema.Dialect // явный диалект вместо определённого по драйверу
}

type Manager struct {
	db      *gorm.DB
	store   *definition.Store
	caps    *capacity.Registry
	types   *fieldtype.Resolver
	tokens  TokenStore
	dialect schema.Dialect
	ddl     *schema.Builder
	metrics *metrics.MetricsRegistry
	now     func() time.Time
}

func New(db *gorm.DB, opts Options) *Manager {
	if opts.Capacities == nil {
		opts.Capacities = capacity.Default()
	}
	if opts.Types == nil {
		opts.Types = fieldtype.Default()
	}
	if opts.Tokens == nil {
		opts.Tokens = NewMemoryTokens()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	d := schema.DialectOf(db)
	if opts.Dialect != nil {
		d = *opts.Dialect
	}
	return &Manager{
		db:      db,
		store:   definition.NewStore(db, opts.Types),
		caps:    opts.Capacities,
		types:   opts.Types,
		tokens:  opts.Tokens,
		dialect: d,
		ddl:     schema.NewBuilder(d),
		metrics: metrics.Get(),
		now:     opts.Now,
	}
}

func (m *Manager) Store() *definition.Store { return m.store }
func (m *Manager) Capacities() *capacity.Registry { return m.caps }
func (m *Manager) Types() *fieldtype.Resolver { return m.types }
func (m *Manager) Tokens() TokenStore { return m.tokens }
func (m *Manager) Dialect() schema.Dialect { return m.dialect }
func (m *Manager) DB() *gorm.DB { return m.db }

// Migrate создаёт таблицы метаданных.
func (m *Manager) Migrate(ctx context.Context) error {
	return m.store.AutoMigrate(ctx)
}

// planFunc вычисляет DDL по фактической схеме (в той же транзакции, если она есть).
type planFunc func(ctx context.Context, db *gorm.DB) ([]schema.Change, error)

// writeFunc пишет метаданные.
type writeFunc func(ctx context.Context, st *definition.Store) error

func (m *Manager) observe(ctx context.Context, op, subject string) (context.Context, func(*error)) {
	ctx, span := tracer.Start(ctx, "Manager."+op)
	span.SetAttributes(attribute.String("subject", subject), attribute.String("dialect", m.dialect.Name))
	log := logging.With("op", op, "definition", subject)
	if s, ok := editsession.FromContext(ctx); ok {
		span.SetAttributes(attribute.String("edit_session", s.ID.String()))
		log = log.With("edit_session", s.ID.String())
	}
	start := time.Now()
	return ctx, func(errp *error) {
		result := "ok"
		if err := *errp; err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Errorw("definition mutation failed", "error", err.Error())
		} else {
			log.Infow("definition mutated", "duration_ms", time.Since(start).Milliseconds())
		}
		m.metrics.SchemaSyncTotal.WithLabelValues(op, result).Inc()
		m.metrics.SchemaSyncDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		span.End()
	}
}

// sync: аддитивная мутация: DDL (create table / add column) + метаданные.
func (m *Manager) sync(ctx context.Context, op string, plan planFunc, write writeFunc) error {
	if m.dialect.TransactionalDDL {
		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			changes, err := plan(ctx, tx)
			if err != nil {
				return err
			}
			if _, err := schema.Apply(ctx, tx, changes); err != nil {
				return syncError(op, "ddl", err, nil)
			}
			if err := verify(ctx, tx, changes); err != nil {
				return syncError(op, "verify", err, nil)
			}
			return write(ctx, m.store.WithTx(tx))
		})
		if err != nil {
			return err
		}
		m.bump(ctx)
		return nil
	}

	db := m.db.WithContext(ctx)
	changes, err := plan(ctx, db)
	if err != nil {
		return err
	}
	applied, err := schema.Apply(ctx, db, changes)
	if err != nil {
		return syncError(op, "ddl", err, m.compensate(ctx, op, applied))
	}
	if err := verify(ctx, db, changes); err != nil {
		return syncError(op, "verify", err, m.compensate(ctx, op, applied))
	}
	if err := db.Transaction(func(tx *gorm.DB) error {
		return write(ctx, m.store.WithTx(tx))
	}); err != nil {
		if len(applied) == 0 {
			return err
		}
		return syncError(op, "metadata", err, m.compensate(ctx, op, applied))
	}
	m.bump(ctx)
	return nil
}

// drop: разрушающая мутация (drop table). На нетранзакционном DDL сначала
// удаляются метаданные; если основная таблица не удалилась, метаданные восстанавливаются.
func (m *Manager) drop(ctx context.Context, op string, tables []string, write, restore writeFunc) error {
	changes := make([]schema.Change, 0, len(tables))
	for _, t := range tables {
		changes = append(changes, m.ddl.DropTable(t))
	}
	if m.dialect.TransactionalDDL {
		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := write(ctx, m.store.WithTx(tx)); err != nil {
				return err
			}
			if _, err := schema.Apply(ctx, tx, changes); err != nil {
				return syncError(op, "ddl", err, nil)
			}
			return nil
		})
		if err != nil {
			return err
		}
		m.bump(ctx)
		return nil
	}

	db := m.db.WithContext(ctx)
	if err := db.Transaction(func(tx *gorm.DB) error {
		return write(ctx, m.store.WithTx(tx))
	}); err != nil {
		return err
	}
	applied, err := schema.Apply(ctx, db, changes)
	if err != nil {
		if len(applied) == 0 {
			rerr := db.Transaction(func(tx *gorm.DB) error {
				return restore(ctx, m.store.WithTx(tx))
			})
			m.countCompensation(op, rerr)
			return syncError(op, "ddl", err, rerr)
		}
		// основная таблица удалена, осталась вспомогательная: метаданные уже согласованы
		logging.Warn("orphan relation table left after delete", "op", op, "error", err.Error())
	}
	m.bump(ctx)
	return nil
}

func (m *Manager) compensate(ctx context.Context, op string, applied []schema.Change) error {
	if len(applied) == 0 {
		return nil
	}
	err := schema.Revert(ctx, m.db.WithContext(ctx), applied)
	m.countCompensation(op, err)
	if err != nil {
		logging.Error("DDL compensation failed", "op", op, "error", err.Error())
	} else {
		logging.Warn("DDL compensated", "op", op, "changes", len(applied))
	}
	return err
}

func (m *Manager) countCompensation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.metrics.SchemaCompensations.WithLabelValues(op, result).Inc()
}

func (m *Manager) bump(ctx context.Context) {
	if _, err := m.tokens.Bump(ctx); err != nil {
		// метаданные уже закоммичены; кэш догонит по TTL
		logging.Warn("failed to bump invalidation token", "error", err.Error())
	}
}

func syncError(op, stage string, err error, compensation error) error {
	se := &SchemaSyncError{Op: op, Stage: stage, Err: err, Compensation: compensation}
	var ae *schema.ApplyError
	if errors.As(err, &ae) {
		se.Table = ae.Change.Table
		se.Column = ae.Change.Column
	}
	var ve *verifyError
	if errors.As(err, &ve) {
		se.Table = ve.table
		se.Column = ve.column
	}
	return se
}

type verifyError struct {
	table, column string
}

func (e *verifyError) Error() string {
	if e.column != "" {
		return fmt.Sprintf("column %s.%s is missing after DDL", e.table, e.column)
	}
	return fmt.Sprintf("table %s is missing after DDL", e.table)
}

// verify сверяет фактическую схему с тем, что должно было появиться.
func verify(ctx context.Context, db *gorm.DB, changes []schema.Change) error {
	sets := map[string]map[string]struct{}{}
	for _, ch := range changes {
		switch ch.Kind {
		case schema.CreateTable:
			if !schema.HasTable(ctx, db, ch.Table) {
				return &verifyError{table: ch.Table}
			}
		case schema.AddColumn:
			set, ok := sets[ch.Table]
			if !ok {
				var err error
				if set, err = schema.ColumnSet(ctx, db, ch.Table); err != nil {
					return err
				}
				sets[ch.Table] = set
			}
			if _, ok := set[ch.Column]; !ok {
				return &verifyError{table: ch.Table, column: ch.Column}
			}
		}
	}
	return nil
}

// columnHasData: есть ли в колонке хоть одно непустое значение.
func (m *Manager) columnHasData(ctx context.Context, db *gorm.DB, table, column string) (bool, error) {
	if !schema.HasTable(ctx, db, table) || !schema.HasColumn(ctx, db, table, column) {
		return false, nil
	}
	var n int64
	q := fmt.Sprintf("select count(*) from %s where %s is not null", m.dialect.Quote(table), m.dialect.Quote(column))
	if err := db.WithContext(ctx).Raw(q).Scan(&n).Error; err != nil {
		return false, fmt.Errorf("failed to inspect %s.%s: %w", table, column, err)
	}
	return n > 0, nil
}

// missingColumns: изменения для колонок, которых ещё нет в таблице.
func (m *Manager) missingColumns(ctx context.Context, db *gorm.DB, table string, cols []schema.Column) ([]schema.Change, error) {
	existing, err := schema.ColumnSet(ctx, db, table)
	if err != nil {
		return nil, err
	}
	var out []schema.Change
	for _, c := range cols {
		if _, ok := existing[c.Name]; ok {
			continue
		}
		ch, err := m.ddl.AddColumn(table, c)
		if err != nil {
			return nil, err
		}
		existing[c.Name] = struct{}{}
		out = append(out, ch)
	}
	return out, nil
}

// capacityChanges: схема включённых ёмкостей; уже существующее пропускается.
func (m *Manager) capacityChanges(ctx context.Context, db *gorm.DB, table string, names []string) ([]schema.Change, error) {
	var cols []schema.Column
	var out []schema.Change
	for _, n := range names {
		d, err := m.caps.Get(n)
		if err != nil {
			return nil, err
		}
		cols = append(cols, d.Columns...)
		for _, rt := range d.RelationTables(table) {
			if schema.HasTable(ctx, db, rt.Name) {
				continue
			}
			ch, err := m.ddl.CreateTable(rt)
			if err != nil {
				return nil, err
			}
			out = append(out, ch)
		}
	}
	add, err := m.missingColumns(ctx, db, table, cols)
	if err != nil {
		return nil, err
	}
	return append(add, out...), nil
}

func (m *Manager) relationTables(def *definition.AssetDefinition) []string {
	table := def.GeneratedTable()
	var out []string
	for _, d := range m.caps.ListAvailable() {
		for _, rt := range d.RelationTables(table) {
			out = append(out, rt.Name)
		}
	}
	return out
}
