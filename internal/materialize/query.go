package materialize

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"assetforge/internal/fieldtype"
	"assetforge/internal/schema"
)

type SortKey struct {
	Field string
	Desc  bool
}

type ListParams struct {
	Limit   int
	Offset  int
	Sort    []SortKey
	Filters map[string][]string
	Q       string
	Nulls   string // "last" (по умолчанию) | "first"
	Deleted bool   // корзина: только удалённые
}

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// ParseListParams разбирает query-строку листинга. Служебные ключи: limit, offset,
// sort (-поле - по убыванию), q, nulls, deleted; остальное - фильтры по полям.
func ParseListParams(q url.Values) ListParams {
	limit := defaultLimit
	lv := q.Get("_limit")
	if lv == "" {
		lv = q.Get("limit")
	}
	if lv != "" {
		if n, err := strconv.Atoi(lv); err == nil && n >= 0 && n <= maxLimit {
			limit = n
		}
	}

	offset := 0
	ov := q.Get("_offset")
	if ov == "" {
		ov = q.Get("offset")
	}
	if ov != "" {
		if n, err := strconv.Atoi(ov); err == nil && n >= 0 {
			offset = n
		}
	}

	var sortKeys []SortKey
	sv := strings.TrimSpace(q.Get("_sort"))
	if sv == "" {
		sv = strings.TrimSpace(q.Get("sort"))
	}
	for _, p := range strings.Split(sv, ",") {
		p = strings.TrimSpace(p)
		desc := strings.HasPrefix(p, "-")
		p = strings.TrimLeft(p, "+-")
		if p != "" {
			sortKeys = append(sortKeys, SortKey{Field: p, Desc: desc})
		}
	}

	nulls := strings.ToLower(strings.TrimSpace(q.Get("nulls")))
	if nulls != "first" && nulls != "last" {
		nulls = "last"
	}

	filters := make(map[string][]string)
	for key, vals := range q {
		switch key {
		case "q", "offset", "limit", "sort", "order",
			"_offset", "_limit", "_sort", "_order",
			"nulls", "deleted", "formatted", "purge":
			continue
		}
		clean := make([]string, 0, len(vals))
		for _, v := range vals {
			if strings.TrimSpace(v) != "" {
				clean = append(clean, v)
			}
		}
		if len(clean) > 0 {
			filters[key] = clean
		}
	}

	deleted, _ := strconv.ParseBool(q.Get("deleted"))
	return ListParams{
		Limit:   limit,
		Offset:  offset,
		Sort:    sortKeys,
		Filters: filters,
		Q:       strings.TrimSpace(q.Get("q")),
		Nulls:   nulls,
		Deleted: deleted,
	}
}

// sqlQuery: собранный запрос с аргументами в синтаксисе "?" (до Rebind).
type sqlQuery struct {
	where string
	args  []any
	order string
}

func unknownField(key string) *fieldtype.ValidationError {
	return &fieldtype.ValidationError{Code: fieldtype.CodeUnknownField, Field: key, Message: "unknown field"}
}

// build превращает параметры в where/order для конкретного типа.
// Колонки берутся только из полей типа, значения фильтров проходят валидацию стратегией.
func (p ListParams) build(t *AssetType, d schema.Dialect) (sqlQuery, error) {
	conds := []string{d.Quote("is_deleted") + " = ?"}
	args := []any{p.Deleted}

	keys := make([]string, 0, len(p.Filters))
	for k := range p.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs fieldtype.ValidationErrors
	for _, key := range keys {
		vals := p.Filters[key]
		var stored []any
		switch key {
		case "id", "entities_id":
			for _, v := range vals {
				stored = append(stored, v)
			}
		default:
			f, ok := t.Field(key)
			if !ok {
				errs = append(errs, unknownField(key))
				continue
			}
			for _, v := range vals {
				sv, err := fieldtype.Check(f.strategy, key, v, f.Options)
				if err != nil {
					errs = appendValidation(errs, key, err)
					continue
				}
				stored = append(stored, sv)
			}
		}
		if len(stored) == 0 {
			continue
		}
		if len(stored) == 1 {
			conds = append(conds, d.Quote(key)+" = ?")
		} else {
			conds = append(conds, d.Quote(key)+" in ("+strings.TrimSuffix(strings.Repeat("?,", len(stored)), ",")+")")
		}
		args = append(args, stored...)
	}
	if err := errs.Err(); err != nil {
		return sqlQuery{}, err
	}

	if p.Q != "" {
		var like []string
		for _, f := range t.fields {
			switch f.Type {
			case fieldtype.TypeString, fieldtype.TypeText, fieldtype.TypeURL:
				like = append(like, "lower("+d.Quote(f.Key)+") like ?")
				args = append(args, "%"+strings.ToLower(p.Q)+"%")
			}
		}
		if len(like) > 0 {
			conds = append(conds, "("+strings.Join(like, " or ")+")")
		}
	}

	order, err := p.orderBy(t, d)
	if err != nil {
		return sqlQuery{}, err
	}
	return sqlQuery{where: strings.Join(conds, " and "), args: args, order: order}, nil
}

// orderBy: null-значения в конце или в начале через case, это понимают все диалекты.
func (p ListParams) orderBy(t *AssetType, d schema.Dialect) (string, error) {
	nullsRank := "1 else 0"
	if p.Nulls == "first" {
		nullsRank = "0 else 1"
	}
	var parts []string
	hasID := false
	for _, k := range p.Sort {
		if _, sys := systemKeys[k.Field]; !sys {
			if _, ok := t.Field(k.Field); !ok {
				return "", unknownField(k.Field)
			}
		}
		col := d.Quote(k.Field)
		dir := "asc"
		if k.Desc {
			dir = "desc"
		}
		parts = append(parts, fmt.Sprintf("case when %s is null then %s end", col, nullsRank), col+" "+dir)
		if k.Field == "id" {
			hasID = true
		}
	}
	if !hasID {
		parts = append(parts, d.Quote("id")+" asc")
	}
	return strings.Join(parts, ", "), nil
}

// page: limit/offset в синтаксисе диалекта.
func (p ListParams) page(d schema.Dialect) string {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if d.Name == schema.SQLServer {
		return fmt.Sprintf(" offset %d rows fetch next %d rows only", p.Offset, limit)
	}
	return fmt.Sprintf(" limit %d offset %d", limit, p.Offset)
}
