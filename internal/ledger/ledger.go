// Package ledger реализует ledger баллов пользователя: учёт «за какие видео
// уже начислено» и текущий итог, с идемпотентным начислением и durable-копией
// в локальном key-value хранилище.
//
// Инварианты:
//   - на пару (userID, videoID) начисление происходит не более одного раза
//     за всё время жизни локального хранилища;
//   - итог всегда равен сумме начислений по всем отмеченным видео;
//   - успешный Credit возвращается только после успешной персистентности;
//     при отказе хранилища память откатывается к состоянию до начисления.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brucelancer/tunnel-ad-main-sub003/internal/metrics"
	"github.com/brucelancer/tunnel-ad-main-sub003/internal/pkg/log"
	"github.com/brucelancer/tunnel-ad-main-sub003/internal/storage"
)

var (
	// ErrInvalidArgument — неверные входные параметры.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotInitialized — Credit/Reset до вызова Init.
	ErrNotInitialized = errors.New("ledger not initialized")
	// ErrInternal — ошибка локального durable-хранилища.
	ErrInternal = errors.New("internal")
)

const keyPrefix = "points:"

// entry — durable-запись «за видео начислено».
type entry struct {
	VideoID    string    `json:"video_id"`
	CreditedAt time.Time `json:"credited_at"`
}

// snapshot — полное durable-состояние ledger'а одного пользователя.
type snapshot struct {
	TotalPoints int64   `json:"total_points"`
	Entries     []entry `json:"entries"`
}

// Ledger — ledger баллов одного пользователя. Экземпляр строится на сессию
// с явными зависимостями: никакого скрытого глобального состояния.
type Ledger struct {
	mu       sync.Mutex
	kv       storage.KVStore
	userID   uuid.UUID
	total    int64
	credited map[string]time.Time
	ready    bool
}

// New создаёт ledger для пользователя поверх локального durable-хранилища.
// Перед начислениями обязателен Init.
func New(kv storage.KVStore, userID uuid.UUID) *Ledger {
	return &Ledger{
		kv:       kv,
		userID:   userID,
		credited: make(map[string]time.Time),
	}
}

func (l *Ledger) key() string {
	return keyPrefix + l.userID.String()
}

// Init загружает durable-снимок состояния. Отсутствие записи — пустой
// ledger (первый запуск). Вызывается один раз на сессию пользователя.
func (l *Ledger) Init(ctx context.Context) error {
	const op = "ledger/Init"

	lg := log.From(ctx).With("op", op, "user_id", l.userID.String())

	if l.userID == uuid.Nil {
		lg.Warn("invalid argument: empty user_id")
		return fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	raw, ok, err := l.kv.Get(ctx, l.key())
	if err != nil {
		lg.Error("kv error on Init", "err", err)
		return fmt.Errorf("%s: %w", op, ErrInternal)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.total = 0
	l.credited = make(map[string]time.Time)

	if ok {
		var snap snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			lg.Error("corrupt ledger snapshot", "err", err)
			return fmt.Errorf("%s: decode snapshot: %w", op, ErrInternal)
		}

		l.total = snap.TotalPoints
		for _, e := range snap.Entries {
			l.credited[e.VideoID] = e.CreditedAt
		}
	}

	l.ready = true

	return nil
}

// HasCredited — чистая проверка членства по зеркалу множества в памяти.
func (l *Ledger) HasCredited(videoID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.credited[strings.TrimSpace(videoID)]

	return ok
}

// Total возвращает текущий итог баллов.
func (l *Ledger) Total() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.total
}

// Credit начисляет amount баллов за videoID ровно один раз.
//
// Поведение:
//   - повторное событие по уже отмеченному видео — не ошибка: возвращается
//     неизменный итог (плеер шлёт дубликаты на ребуферизации и рестартах);
//   - иначе видео отмечается, итог увеличивается и оба значения
//     персистятся до возврата успеха;
//   - при отказе персистентности память откатывается и возвращается ошибка:
//     молчаливое частичное начисление запрещено.
func (l *Ledger) Credit(ctx context.Context, videoID string, amount int64) (int64, error) {
	const op = "ledger/Credit"

	videoID = strings.TrimSpace(videoID)
	lg := log.From(ctx).With("op", op, "user_id", l.userID.String(), "video_id", videoID)

	if videoID == "" {
		lg.Warn("invalid argument: empty video_id")
		return 0, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	if amount < 0 {
		lg.Warn("invalid argument: negative amount")
		return 0, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.ready {
		lg.Warn("credit before init")
		return 0, fmt.Errorf("%s: %w", op, ErrNotInitialized)
	}

	if _, ok := l.credited[videoID]; ok {
		// Идемпотентный no-op: событие уже учтено.
		metrics.PointsCreditNoop.Inc()
		return l.total, nil
	}

	l.credited[videoID] = time.Now().UTC()
	l.total += amount

	if err := l.persistLocked(ctx); err != nil {
		// Откат: иначе ретрай того же события нарушит идемпотентность
		// при памяти, мутированной без durable-копии.
		delete(l.credited, videoID)
		l.total -= amount

		metrics.PointsPersistFailures.Inc()
		lg.Error("kv error on Credit", "err", err)

		return 0, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	metrics.PointsCredited.Inc()
	lg.Info("points credited", "amount", amount, "total", l.total)

	return l.total, nil
}

// ResetAll очищает ledger и персистит пустое состояние. Достижим только из
// явного пользовательского сброса данных, ни из каких автоматических потоков.
func (l *Ledger) ResetAll(ctx context.Context) error {
	const op = "ledger/ResetAll"

	lg := log.From(ctx).With("op", op, "user_id", l.userID.String())

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.ready {
		return fmt.Errorf("%s: %w", op, ErrNotInitialized)
	}

	prevTotal := l.total
	prevCredited := l.credited

	l.total = 0
	l.credited = make(map[string]time.Time)

	if err := l.persistLocked(ctx); err != nil {
		l.total = prevTotal
		l.credited = prevCredited

		lg.Error("kv error on ResetAll", "err", err)

		return fmt.Errorf("%s: %w", op, ErrInternal)
	}

	lg.Info("ledger reset")

	return nil
}

// persistLocked сериализует снимок и пишет его в durable-хранилище.
// Вызывается только под l.mu.
func (l *Ledger) persistLocked(ctx context.Context) error {
	snap := snapshot{
		TotalPoints: l.total,
		Entries:     make([]entry, 0, len(l.credited)),
	}

	for id, at := range l.credited {
		snap.Entries = append(snap.Entries, entry{VideoID: id, CreditedAt: at})
	}

	// Детерминированный порядок: удобнее дифать снимки при отладке.
	sort.Slice(snap.Entries, func(i, j int) bool {
		return snap.Entries[i].VideoID < snap.Entries[j].VideoID
	})

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	return l.kv.Set(ctx, l.key(), string(raw))
}
