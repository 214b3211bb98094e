// Package editsession: короткоживущий контекст редактирования, который связывает
// временные идентификаторы клиента с ключами, присвоенными сервером.
// Живёт в пределах одного запроса и передаётся явно.
package editsession

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Session struct {
	ID      uuid.UUID
	Started time.Time

	mu  sync.Mutex
	ids map[string]string
}

func New() *Session {
	return &Session{ID: uuid.New(), Started: time.Now().UTC(), ids: map[string]string{}}
}

// Bind связывает временный id с настоящим ключом. Повторная привязка: ошибка.
func (s *Session) Bind(tempID, key string) error {
	if tempID == "" {
		return fmt.Errorf("edit session %s: empty temporary id", s.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.ids[tempID]; ok {
		return fmt.Errorf("edit session %s: temporary id %q already bound to %q", s.ID, tempID, prev)
	}
	s.ids[tempID] = key
	return nil
}

// Resolve возвращает настоящий ключ для временного id, иначе сам key.
func (s *Session) Resolve(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bound, ok := s.ids[key]; ok {
		return bound
	}
	return key
}

func (s *Session) Bound(tempID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[tempID]
	return ok
}

// Bindings: копия привязок (для ответа клиенту).
func (s *Session) Bindings() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.ids))
	for k, v := range s.ids {
		out[k] = v
	}
	return out
}

// TempIDs: временные id по алфавиту.
func (s *Session) TempIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ids))
	for k := range s.ids {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type ctxKey struct{}

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok
}
