package sync

import (
	stdsync "sync"
	"time"
)

// State агрегатное состояние синхронизации для наблюдателей.
// Закрытое множество вариантов; полезная нагрузка только у
// терминальных: success несет сводку, error - причину.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateSuccess State = "success"
	StateError   State = "error"
)

// Summary сводка успешной синхронизации
type Summary struct {
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	At        time.Time `json:"at"`
}

// Status текущее состояние синхронизации пользователя. Только для
// чтения внешними наблюдателями; это единственное состояние движка,
// которое UI-слои могут опрашивать или на которое могут подписываться.
type Status struct {
	UserID  string  `json:"user_id"`
	State   State   `json:"state"`
	Summary Summary `json:"summary,omitempty"`
	Cause   string  `json:"cause,omitempty"`
}

// Tracker потокобезопасная поверхность статуса. Явный инжектируемый
// объект, не глобальное состояние: тесты создают изолированные
// экземпляры.
type Tracker struct {
	mu       stdsync.RWMutex
	states   map[string]Status
	inflight map[string]int
	subs     []chan Status
}

// NewTracker создает пустой трекер
func NewTracker() *Tracker {
	return &Tracker{
		states:   make(map[string]Status),
		inflight: make(map[string]int),
	}
}

// Get возвращает текущий статус пользователя; idle, если операций
// не было
func (t *Tracker) Get(userID string) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.states[userID]; ok {
		return st
	}
	return Status{UserID: userID, State: StateIdle}
}

// Subscribe возвращает канал переходов статуса. Канал буферизован;
// отставший подписчик теряет промежуточные переходы, не блокируя
// движок.
func (t *Tracker) Subscribe() <-chan Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan Status, 16)
	t.subs = append(t.subs, ch)
	return ch
}

// Begin отмечает старт операции синхронизации: idle -> syncing
func (t *Tracker) Begin(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[userID]++
	t.set(Status{UserID: userID, State: StateSyncing})
}

// Success отмечает завершение без невосстановимых ошибок:
// syncing -> success
func (t *Tracker) Success(userID string, sum Summary) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inflight[userID] > 0 {
		t.inflight[userID]--
	}
	if t.inflight[userID] > 0 {
		// параллельные операции того же пользователя еще идут
		return
	}
	sum.At = time.Now().UTC()
	t.set(Status{UserID: userID, State: StateSuccess, Summary: sum})
}

// Error отмечает отказ самой операции (не отдельных записей внутри
// допустимого частичного отказа пакета): syncing -> error
func (t *Tracker) Error(userID, cause string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inflight[userID] > 0 {
		t.inflight[userID]--
	}
	t.set(Status{UserID: userID, State: StateError, Cause: cause})
}

func (t *Tracker) set(st Status) {
	t.states[st.UserID] = st
	for _, ch := range t.subs {
		select {
		case ch <- st:
		default:
		}
	}
}
