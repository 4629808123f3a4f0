package engine

import (
	"context"
	"fmt"

	"github.com/brucelancer/tunnel-ad-main-sub003/internal/metrics"
	"github.com/brucelancer/tunnel-ad-main-sub003/internal/pkg/log"
)

// mutation — один проход единого конвейера оптимистичной мутации:
// применить локальную правку -> выполнить удалённую операцию -> при успехе
// влить серверные поля, при отказе применить обратную правку либо
// перечитать дерево целиком. Все три мутации комментариев (submit, like,
// remove) проходят через этот конвейер, чтобы контракт отката действовал
// единообразно, а не по месту вызова.
type mutation struct {
	// op — короткое имя операции для логов и метрик.
	op string

	// apply — синхронная оптимистичная правка; false, если цель не найдена
	// в локальном состоянии (например, устаревший id после конкурентного
	// удаления).
	apply func(st *videoState) bool

	// onMissing — ошибка при apply==false; nil означает тихий no-op.
	onMissing error

	// call — удалённая операция; единственная точка приостановки мутации.
	call func(ctx context.Context) error

	// settle — снять pending-метки; выполняется после call независимо от
	// исхода, если панель ещё открыта.
	settle func(st *videoState)

	// merge — влить назначенные сервером поля после успеха (по месту,
	// без перечитывания: видимого мерцания быть не должно).
	merge func(st *videoState)

	// revert — компенсирующая правка при отказе; nil выбирает путь resync
	// (полное перечитывание, last-write-wins против актуального remote).
	revert func(st *videoState)
}

// runOptimistic исполняет конвейер для панели видео videoID.
func (e *Engine) runOptimistic(ctx context.Context, videoID string, m mutation) error {
	op := "engine/" + m.op

	lg := log.From(ctx).With("op", op, "video_id", videoID)

	e.mu.Lock()
	st := e.ensureLocked(videoID)

	if st.loading {
		e.mu.Unlock()
		// Состояние вот-вот будет замещено целиком: мутация отбрасывается,
		// а не ставится в очередь.
		return fmt.Errorf("%s: %w", op, ErrLoadInProgress)
	}

	if !m.apply(st) {
		e.mu.Unlock()

		if m.onMissing != nil {
			lg.Warn("optimistic target not found")
			return fmt.Errorf("%s: %w", op, m.onMissing)
		}

		lg.Debug("optimistic target not found; no-op")
		return nil
	}
	e.mu.Unlock()

	metrics.CommentMutations.WithLabelValues(m.op).Inc()

	callErr := m.call(ctx)

	e.mu.Lock()

	st, open := e.states[videoID]
	if open && m.settle != nil {
		m.settle(st)
	}

	if callErr == nil {
		if open && m.merge != nil {
			m.merge(st)
		}
		e.mu.Unlock()

		return nil
	}

	if !open {
		// Панель закрыта, пока шёл запрос: откатывать нечего.
		e.mu.Unlock()
		lg.Warn("remote mutation failed after close", "err", callErr)

		return fmt.Errorf("%s: %w", op, ErrRemote)
	}

	if m.revert != nil {
		m.revert(st)
		e.mu.Unlock()

		metrics.CommentRollbacks.Inc()
		lg.Warn("optimistic mutation rolled back", "err", callErr)

		return fmt.Errorf("%s: %w", op, ErrRemote)
	}

	e.mu.Unlock()

	metrics.CommentResyncs.Inc()
	lg.Warn("optimistic mutation failed; resyncing", "err", callErr)

	if lerr := e.Load(ctx, videoID); lerr != nil {
		lg.Error("resync load failed", "err", lerr)
	}

	return fmt.Errorf("%s: %w", op, ErrRemote)
}
