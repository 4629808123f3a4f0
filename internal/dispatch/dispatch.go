// Package dispatch — тонкий диспетчер событий вовлечённости: принимает
// события от плеера и UI комментариев и маршрутизирует их в ledger баллов.
// Политика ретраев сознательно не здесь: ядро не повторяет отказавшие
// операции, дубликаты событий гасит идемпотентность ledger'а.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/brucelancer/tunnel-ad-main-sub003/internal/ledger"
	"github.com/brucelancer/tunnel-ad-main-sub003/internal/pkg/log"
	"github.com/brucelancer/tunnel-ad-main-sub003/internal/storage"
)

var (
	// ErrInvalidArgument — неверные входные параметры события.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrVideoNotFound — событие по неизвестному видео.
	ErrVideoNotFound = errors.New("video not found")
	// ErrInternal — отказ хранилища.
	ErrInternal = errors.New("internal")
)

// CompletionEvent — «пользователь досмотрел видео до конца». Может
// приходить многократно за одно логическое событие (ребуферизация плеера,
// дубликаты коллбеков статуса, рестарт приложения).
type CompletionEvent struct {
	UserID  uuid.UUID
	VideoID string
}

// Dispatcher маршрутизирует события вовлечённости. Держит ledger на каждого
// пользователя текущего устройства, лениво инициализируя его первым событием.
type Dispatcher struct {
	mu      sync.Mutex
	remote  storage.RemoteStore
	kv      storage.KVStore
	ledgers map[uuid.UUID]*ledger.Ledger
}

// New создаёт диспетчер поверх удалённого и локального хранилищ.
func New(remote storage.RemoteStore, kv storage.KVStore) *Dispatcher {
	return &Dispatcher{
		remote:  remote,
		kv:      kv,
		ledgers: make(map[uuid.UUID]*ledger.Ledger),
	}
}

// ledgerFor возвращает ledger пользователя, при первом обращении загружая
// его durable-состояние.
func (d *Dispatcher) ledgerFor(ctx context.Context, userID uuid.UUID) (*ledger.Ledger, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if l, ok := d.ledgers[userID]; ok {
		return l, nil
	}

	l := ledger.New(d.kv, userID)
	if err := l.Init(ctx); err != nil {
		return nil, err
	}

	d.ledgers[userID] = l

	return l, nil
}

// VideoCompleted обрабатывает событие досмотра: узнаёт стоимость начисления
// у видео и идемпотентно кредитует ledger пользователя. Возвращает новый
// итог баллов для немедленного отображения.
func (d *Dispatcher) VideoCompleted(ctx context.Context, ev CompletionEvent) (int64, error) {
	const op = "dispatch/VideoCompleted"

	ev.VideoID = strings.TrimSpace(ev.VideoID)
	lg := log.From(ctx).With("op", op, "user_id", ev.UserID.String(), "video_id", ev.VideoID)

	if ev.UserID == uuid.Nil || ev.VideoID == "" {
		lg.Warn("invalid completion event")
		return 0, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	video, err := d.remote.VideoByID(ctx, ev.VideoID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("video not found")
			return 0, fmt.Errorf("%s: %w", op, ErrVideoNotFound)
		}

		lg.Error("remote error on video lookup", "err", err)
		return 0, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	l, err := d.ledgerFor(ctx, ev.UserID)
	if err != nil {
		lg.Error("ledger init failed", "err", err)
		return 0, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	total, err := l.Credit(ctx, ev.VideoID, video.PointsAward)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return total, nil
}

// Balance возвращает текущий итог баллов пользователя.
func (d *Dispatcher) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "dispatch/Balance"

	if userID == uuid.Nil {
		return 0, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	l, err := d.ledgerFor(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	return l.Total(), nil
}

// ResetPoints — явный пользовательский сброс накопленных баллов.
// Не достижим ни из какого автоматического потока.
func (d *Dispatcher) ResetPoints(ctx context.Context, userID uuid.UUID) error {
	const op = "dispatch/ResetPoints"

	if userID == uuid.Nil {
		return fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	l, err := d.ledgerFor(ctx, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, ErrInternal)
	}

	return l.ResetAll(ctx)
}
