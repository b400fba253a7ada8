package session

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/pribylovaa/lpg-gateway/internal/models"
	"github.com/pribylovaa/lpg-gateway/internal/upstream"
)

// Fetcher — вызовы апстрима, нужные менеджеру сессии.
// Реализуется upstream.AuthAPI; в тестах подменяется фейком.
type Fetcher interface {
	WhoAmI(ctx context.Context) (*models.AuthenticatedUser, error)
	Logout(ctx context.Context) error
}

// Manager — состояние аутентификации клиента поверх вызова "кто я".
//
// Конкурентные Refresh схлопываются в один сетевой вызов
// (singleflight): все вызвавшие получают общий результат, после
// завершения группа сама возвращается в idle, и следующий Refresh
// запускает свежий запрос.
//
// Политика на результат Refresh:
//   - транспортный сбой — user не трогаем (связь моргнула, это не
//     доказательство невалидной сессии);
//   - 401 от апстрима — user = nil (единственный авторитетный сигнал);
//   - прочие не-2xx — user не трогаем (икота сервера, в том числе 403 —
//     сознательно консервативно против ложных разлогинов);
//   - успех — user заменяется целиком.
type Manager struct {
	fetch Fetcher

	group singleflight.Group

	mu      sync.Mutex
	user    *models.AuthenticatedUser
	loading bool
}

func NewManager(fetch Fetcher) *Manager {
	return &Manager{fetch: fetch}
}

// User — текущий снимок пользователя (nil — сессии нет).
func (m *Manager) User() *models.AuthenticatedUser {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.user
}

// Loading — идёт ли сейчас refresh.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.loading
}

// SetUser — прямая установка снимка после успешного login/register,
// без лишнего round-trip к апстриму.
func (m *Manager) SetUser(u *models.AuthenticatedUser) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.user = u
}

// Refresh синхронизирует снимок пользователя с апстримом.
// Пока один запрос в полёте, остальные вызовы ждут его результат,
// не порождая дубликатов.
func (m *Manager) Refresh(ctx context.Context) (*models.AuthenticatedUser, error) {
	v, err, _ := m.group.Do("whoami", func() (any, error) {
		m.mu.Lock()
		m.loading = true
		m.mu.Unlock()

		defer func() {
			m.mu.Lock()
			m.loading = false
			m.mu.Unlock()
		}()

		user, err := m.fetch.WhoAmI(ctx)
		if err != nil {
			m.applyFailure(err)
			return nil, err
		}

		m.mu.Lock()
		m.user = user
		m.mu.Unlock()

		return user, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*models.AuthenticatedUser), nil
}

// applyFailure — политика очистки сессии по виду ошибки.
func (m *Manager) applyFailure(err error) {
	var ue *upstream.Error
	if errors.As(err, &ue) && ue.Status == http.StatusUnauthorized {
		m.mu.Lock()
		m.user = nil
		m.mu.Unlock()
	}
	// Транспортные сбои и прочие статусы оставляют user как есть.
}

// Logout завершает сессию. Локальное состояние чистится всегда,
// даже если серверный logout не удался: выход обязан сработать
// и при проблемах с сетью.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.user = nil
	m.mu.Unlock()

	return m.fetch.Logout(ctx)
}
