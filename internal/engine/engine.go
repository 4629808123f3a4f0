// Package engine реализует движок синхронизации комментариев: in-memory
// дерево комментариев открытого видео с оптимистичными локальными мутациями
// и сверкой с удалённым документным хранилищем.
//
// Модель состояний панели одного видео: Uninitialized -> Loading -> Ready;
// Ready повторно входит в Loading только по явному refresh. Терминального
// состояния ошибки нет: отказ удалённой операции всегда разрешается обратно
// в Ready — компенсирующим откатом либо полным перечитыванием дерева.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/brucelancer/tunnel-ad-main-sub003/internal/models"
	"github.com/brucelancer/tunnel-ad-main-sub003/internal/pkg/log"
	"github.com/brucelancer/tunnel-ad-main-sub003/internal/storage"
)

var (
	// ErrInvalidArgument — неверные входные параметры (пустой текст и т.п.).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnauthenticated — мутация без идентичности пользователя.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNotAuthorized — удаление чужого комментария не-владельцем видео.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrNotFound — целевой комментарий отсутствует в локальном состоянии.
	ErrNotFound = errors.New("not found")
	// ErrLoadInProgress — мутация, пока дерево перечитывается; состояние
	// не тронуто, вызывающий повторяет после завершения load.
	ErrLoadInProgress = errors.New("load in progress")
	// ErrRemote — отказ удалённого хранилища; локальное состояние уже
	// откатано или перечитано к моменту возврата.
	ErrRemote = errors.New("remote operation failed")
)

// CollectionState — снимок состояния панели комментариев одного видео,
// отдаваемый UI. Comments — от новых к старым; Count — общее число
// комментариев вместе с ответами.
type CollectionState struct {
	Comments       []models.Comment
	Count          int64
	Loading        bool
	PendingLikes   map[string]struct{}
	PendingDeletes map[string]struct{}
}

// videoState — внутреннее состояние панели; живёт от Open до Close.
type videoState struct {
	comments       []models.Comment
	count          int64
	loading        bool
	gen            uint64 // поколение последнего запрошенного load
	pendingLikes   map[string]struct{}
	pendingDeletes map[string]struct{}
}

// Engine — движок синхронизации комментариев одной пользовательской сессии.
// Все операции сериализуются мьютексом; точка приостановки каждой мутации —
// её удалённый вызов, поэтому несколько операций могут быть in flight
// одновременно.
type Engine struct {
	mu     sync.Mutex
	remote storage.RemoteStore
	viewer models.User
	maxLen int
	states map[string]*videoState
}

// New создаёт движок для зрителя viewer. maxCommentLength ограничивает
// длину текста комментария в рунах; значение <= 0 снимает ограничение.
func New(remote storage.RemoteStore, viewer models.User, maxCommentLength int) *Engine {
	return &Engine{
		remote: remote,
		viewer: viewer,
		maxLen: maxCommentLength,
		states: make(map[string]*videoState),
	}
}

// ensureLocked возвращает состояние видео, создавая пустое при первом
// обращении. Вызывается только под e.mu.
func (e *Engine) ensureLocked(videoID string) *videoState {
	st, ok := e.states[videoID]
	if !ok {
		st = &videoState{
			pendingLikes:   make(map[string]struct{}),
			pendingDeletes: make(map[string]struct{}),
		}
		e.states[videoID] = st
	}

	return st
}

// Open создаёт состояние панели комментариев видео (панель открыта).
func (e *Engine) Open(videoID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ensureLocked(videoID)
}

// Close сбрасывает состояние панели. Результаты операций, находящихся
// in flight, к закрытому видео больше не применяются.
func (e *Engine) Close(videoID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.states, videoID)
}

// Snapshot возвращает глубокую копию состояния панели для UI.
func (e *Engine) Snapshot(videoID string) (CollectionState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[videoID]
	if !ok {
		return CollectionState{}, false
	}

	out := CollectionState{
		Comments:       make([]models.Comment, 0, len(st.comments)),
		Count:          st.count,
		Loading:        st.loading,
		PendingLikes:   make(map[string]struct{}, len(st.pendingLikes)),
		PendingDeletes: make(map[string]struct{}, len(st.pendingDeletes)),
	}

	for i := range st.comments {
		out.Comments = append(out.Comments, st.comments[i].Clone())
	}

	for id := range st.pendingLikes {
		out.PendingLikes[id] = struct{}{}
	}

	for id := range st.pendingDeletes {
		out.PendingDeletes[id] = struct{}{}
	}

	return out, true
}

// Load перечитывает дерево комментариев целиком и замещает локальное
// состояние. Из нескольких конкурентных load по одному видео фиксируется
// только самый поздний: устаревшие результаты отбрасываются.
func (e *Engine) Load(ctx context.Context, videoID string) error {
	const op = "engine/Load"

	videoID = strings.TrimSpace(videoID)
	lg := log.From(ctx).With("op", op, "video_id", videoID)

	if videoID == "" {
		lg.Warn("invalid argument: empty video_id")
		return fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	e.mu.Lock()
	st := e.ensureLocked(videoID)
	st.loading = true
	st.gen++
	gen := st.gen
	e.mu.Unlock()

	comments, err := e.remote.CommentsByVideo(ctx, videoID, e.viewer.ID)

	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[videoID]
	if !ok {
		// Панель закрыта, пока шёл запрос.
		return nil
	}

	if st.gen != gen {
		// Этот load вытеснен более поздним; его результат не фиксируется.
		lg.Debug("superseded load discarded")
		return nil
	}

	st.loading = false

	if err != nil {
		lg.Error("remote error on Load", "err", err)
		return fmt.Errorf("%s: %w", op, ErrRemote)
	}

	st.comments = comments
	st.count = treeSize(comments)

	return nil
}

// Count — лёгкое чтение числа комментариев для бейджа в ленте: дерево не
// выбирается и Comments не заполняются.
func (e *Engine) Count(ctx context.Context, videoID string) (int64, error) {
	const op = "engine/Count"

	videoID = strings.TrimSpace(videoID)
	lg := log.From(ctx).With("op", op, "video_id", videoID)

	if videoID == "" {
		lg.Warn("invalid argument: empty video_id")
		return 0, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	n, err := e.remote.CommentCount(ctx, videoID)
	if err != nil {
		lg.Error("remote error on Count", "err", err)
		return 0, fmt.Errorf("%s: %w", op, ErrRemote)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.ensureLocked(videoID)
	if !st.loading {
		st.count = n
	}

	return n, nil
}

// treeSize — число комментариев в двухуровневом дереве (корни + ответы).
func treeSize(comments []models.Comment) int64 {
	n := int64(0)
	for i := range comments {
		n += 1 + int64(len(comments[i].Replies))
	}

	return n
}

// findComment ищет комментарий по id среди корней и их ответов.
// Возвращаемый указатель смотрит внутрь слайсов состояния и валиден
// только под e.mu.
func findComment(comments []models.Comment, id string) *models.Comment {
	for i := range comments {
		if comments[i].ID == id {
			return &comments[i]
		}

		for j := range comments[i].Replies {
			if comments[i].Replies[j].ID == id {
				return &comments[i].Replies[j]
			}
		}
	}

	return nil
}

// validateText нормализует текст комментария и проверяет ограничения.
func (e *Engine) validateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrInvalidArgument
	}

	if e.maxLen > 0 && utf8.RuneCountInString(text) > e.maxLen {
		return "", ErrInvalidArgument
	}

	return text, nil
}

func validIdentity(userID uuid.UUID, videoID string) bool {
	return userID != uuid.Nil && strings.TrimSpace(videoID) != ""
}
