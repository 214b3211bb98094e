package materialize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"assetforge/internal/capacity"
	"assetforge/internal/definition"
	"assetforge/internal/fieldtype"
	"assetforge/internal/logging"
	"assetforge/internal/metrics"
)

// TokenSource: текущий токен инвалидации метаданных.
type TokenSource interface {
	Current(ctx context.Context) (uint64, error)
}

// Materializer кэширует рабочие типы по ключу (id определения, токен).
// Любая мутация определения меняет токен, старые записи просто истекают.
type Materializer struct {
	store   *definition.Store
	caps    *capacity.Registry
	types   *fieldtype.Resolver
	tokens  TokenSource
	cache   *cache.Cache
	metrics *metrics.MetricsRegistry
}

func New(store *definition.Store, caps *capacity.Registry, tokens TokenSource, ttl time.Duration) *Materializer {
	if caps == nil {
		caps = capacity.Default()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Materializer{
		store:   store,
		caps:    caps,
		types:   store.Types(),
		tokens:  tokens,
		cache:   cache.New(ttl, 2*ttl),
		metrics: metrics.Get(),
	}
}

func typeKey(id uint, token uint64) string { return fmt.Sprintf("type:%d:%d", id, token) }

func nameKey(name string, token uint64) string {
	return fmt.Sprintf("name:%s:%d", strings.ToLower(name), token)
}

// token: при недоступном хранилище токенов кэш не используется.
func (m *Materializer) token(ctx context.Context) (uint64, bool) {
	tok, err := m.tokens.Current(ctx)
	if err != nil {
		logging.Warn("invalidation token unavailable, bypassing type cache", "error", err.Error())
		return 0, false
	}
	return tok, true
}

// TypeFor возвращает рабочий тип определения.
func (m *Materializer) TypeFor(ctx context.Context, id uint) (*AssetType, error) {
	tok, cacheable := m.token(ctx)
	if cacheable {
		if v, ok := m.cache.Get(typeKey(id, tok)); ok {
			m.metrics.CacheHitsTotal.WithLabelValues("asset_type").Inc()
			return v.(*AssetType), nil
		}
		m.metrics.CacheMissesTotal.WithLabelValues("asset_type").Inc()
	}

	def, err := m.store.Definition(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := m.build(ctx, def)
	if err != nil {
		return nil, err
	}
	if cacheable {
		t.Token = tok
		m.cache.SetDefault(typeKey(id, tok), t)
		m.cache.SetDefault(nameKey(def.SystemName, tok), id)
	}
	return t, nil
}

// TypeByName: то же по системному имени (без учёта регистра).
func (m *Materializer) TypeByName(ctx context.Context, name string) (*AssetType, error) {
	if tok, ok := m.token(ctx); ok {
		if v, found := m.cache.Get(nameKey(name, tok)); found {
			return m.TypeFor(ctx, v.(uint))
		}
	}
	def, err := m.store.DefinitionByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return m.TypeFor(ctx, def.ID)
}

func (m *Materializer) build(ctx context.Context, def *definition.AssetDefinition) (*AssetType, error) {
	customs, err := m.store.VisibleCustomFields(ctx, def.ID)
	if err != nil {
		return nil, err
	}
	return Build(def, customs, m.caps, m.types)
}

// Invalidate сбрасывает весь кэш процесса.
func (m *Materializer) Invalidate() {
	m.cache.Flush()
}
