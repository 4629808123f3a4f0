// Package storage описывает контракты двух внешних коллабораторов
// engagement-ядра: удалённого документного хранилища (MongoDB) и
// локального durable key-value хранилища (Redis).
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/brucelancer/tunnel-ad-main-sub003/internal/models"
)

var (
	// ErrNotFound — сущность отсутствует в хранилище.
	ErrNotFound = errors.New("not found")
	// ErrConflict — конфликт уникальности.
	ErrConflict = errors.New("conflict")
)

// RemoteStore описывает операции удалённого документного хранилища —
// единственного источника истины для комментариев и видео.
//
// Результат операции всегда выражается ошибкой, а не флагом успеха:
// валидный «нулевой» ответ (пустой список, нулевой счётчик, liked=false)
// не должен трактоваться как отказ.
type RemoteStore interface {
	// CommentsByVideo возвращает полное двухуровневое дерево комментариев
	// видео: корни от новых к старым (created_at DESC), ответы внутри
	// корня от старых к новым. LikedByMe вычисляется относительно viewerID.
	CommentsByVideo(ctx context.Context, videoID string, viewerID uuid.UUID) ([]models.Comment, error)

	// CommentCount возвращает общее число комментариев видео
	// (корни + ответы), не выбирая сами документы.
	CommentCount(ctx context.Context, videoID string) (int64, error)

	// CreateComment создаёт документ комментария (корень или ответ).
	// Поля ID и CreatedAt назначаются хранилищем и возвращаются в копии.
	CreateComment(ctx context.Context, comment models.Comment) (*models.Comment, error)

	// ToggleCommentLike идемпотентно переключает лайк, ключ — пара
	// (commentID, userID). Возвращает итоговое состояние liked.
	ToggleCommentLike(ctx context.Context, commentID string, userID uuid.UUID, videoID string) (bool, error)

	// DeleteComment удаляет документ комментария; для корня также его
	// ответы и все строки лайков ветки. Если записи нет — ErrNotFound.
	DeleteComment(ctx context.Context, commentID string, userID uuid.UUID, videoID string) error

	// VideoByID возвращает справочную запись видео (автор, стоимость
	// начисления). Если записи нет — ErrNotFound.
	VideoByID(ctx context.Context, videoID string) (*models.Video, error)

	// Close закрывает соединения/ресурсы хранилища.
	Close(ctx context.Context) error
}

// KVStore — узкий контракт локального durable-хранилища (переживает
// рестарты процесса). Значения — непрозрачные строки.
type KVStore interface {
	// Get возвращает значение и признак его наличия.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set сохраняет значение durable: после возврата без ошибки значение
	// обязано пережить рестарт процесса.
	Set(ctx context.Context, key, value string) error
	// Close закрывает клиент.
	Close() error
}
