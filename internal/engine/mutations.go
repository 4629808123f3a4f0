package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brucelancer/tunnel-ad-main-sub003/internal/models"
	"github.com/brucelancer/tunnel-ad-main-sub003/internal/pkg/log"
)

// provisionalID — локальный id оптимистичного комментария; после
// подтверждения заменяется серверным по месту.
func provisionalID() string {
	return "local-" + uuid.NewString()
}

// removeLocked удаляет комментарий из состояния: корень — из списка корней
// вместе со своими ответами, ответ — из списка ответов родителя. Ровно один
// путь удаления: комментарий не бывает корнем и ответом одновременно.
// Вызывается только под e.mu.
func removeLocked(st *videoState, id string) (models.Comment, bool) {
	for i := range st.comments {
		if st.comments[i].ID == id {
			removed := st.comments[i]
			st.comments = append(st.comments[:i], st.comments[i+1:]...)
			st.count -= 1 + int64(len(removed.Replies))

			return removed, true
		}

		replies := st.comments[i].Replies
		for j := range replies {
			if replies[j].ID == id {
				removed := replies[j]
				st.comments[i].Replies = append(replies[:j], replies[j+1:]...)
				st.count--

				return removed, true
			}
		}
	}

	return models.Comment{}, false
}

// Submit публикует корневой комментарий.
//
// Оптимистичный шаг: провизорный комментарий с локальным id ставится в
// голову списка, счётчик увеличивается — UI видит свой комментарий сразу.
// После подтверждения серверные поля (id, created_at) вливаются по месту,
// без перечитывания. При отказе провизорный комментарий снимается, счётчик
// возвращается, ошибка отдаётся вызывающему (авторетраев нет).
func (e *Engine) Submit(ctx context.Context, videoID string, author models.User, text string) (*models.Comment, error) {
	const op = "engine/Submit"

	videoID = strings.TrimSpace(videoID)
	lg := log.From(ctx).With("op", op, "video_id", videoID, "author_id", author.ID.String())

	if videoID == "" {
		lg.Warn("invalid argument: empty video_id")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	if author.ID == uuid.Nil {
		lg.Warn("unauthenticated: empty author_id")
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}

	text, err := e.validateText(text)
	if err != nil {
		lg.Warn("invalid argument: bad content")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	provisional := models.Comment{
		ID:        provisionalID(),
		VideoID:   videoID,
		Author:    author,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}

	var created *models.Comment

	m := mutation{
		op: "submit",
		apply: func(st *videoState) bool {
			st.comments = append([]models.Comment{provisional}, st.comments...)
			st.count++

			return true
		},
		call: func(ctx context.Context) error {
			c, err := e.remote.CreateComment(ctx, provisional)
			if err != nil {
				return err
			}

			created = c

			return nil
		},
		merge: func(st *videoState) {
			if c := findComment(st.comments, provisional.ID); c != nil {
				c.ID = created.ID
				c.CreatedAt = created.CreatedAt
			}
		},
		revert: func(st *videoState) {
			_, _ = removeLocked(st, provisional.ID)
		},
	}

	if err := e.runOptimistic(ctx, videoID, m); err != nil {
		return nil, err
	}

	return created, nil
}

// Reply публикует ответ на корневой комментарий; дерево двухуровневое,
// ответ на ответ не допускается. Контракт отката тот же, что у Submit.
func (e *Engine) Reply(ctx context.Context, videoID, parentID string, author models.User, text string) (*models.Comment, error) {
	const op = "engine/Reply"

	videoID = strings.TrimSpace(videoID)
	parentID = strings.TrimSpace(parentID)
	lg := log.From(ctx).With("op", op, "video_id", videoID, "parent_id", parentID)

	if videoID == "" || parentID == "" {
		lg.Warn("invalid argument: empty video_id or parent_id")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	if author.ID == uuid.Nil {
		lg.Warn("unauthenticated: empty author_id")
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}

	text, err := e.validateText(text)
	if err != nil {
		lg.Warn("invalid argument: bad content")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	provisional := models.Comment{
		ID:        provisionalID(),
		VideoID:   videoID,
		ParentID:  parentID,
		Author:    author,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}

	var created *models.Comment

	m := mutation{
		op:        "reply",
		onMissing: ErrNotFound,
		apply: func(st *videoState) bool {
			for i := range st.comments {
				if st.comments[i].ID == parentID {
					st.comments[i].Replies = append(st.comments[i].Replies, provisional)
					st.count++

					return true
				}
			}

			return false
		},
		call: func(ctx context.Context) error {
			c, err := e.remote.CreateComment(ctx, provisional)
			if err != nil {
				return err
			}

			created = c

			return nil
		},
		merge: func(st *videoState) {
			if c := findComment(st.comments, provisional.ID); c != nil {
				c.ID = created.ID
				c.CreatedAt = created.CreatedAt
			}
		},
		revert: func(st *videoState) {
			_, _ = removeLocked(st, provisional.ID)
		},
	}

	if err := e.runOptimistic(ctx, videoID, m); err != nil {
		return nil, err
	}

	return created, nil
}

// ToggleLike переключает лайк комментария.
//
// Оптимистичный шаг: LikedByMe и LikeCount правятся сразу; поиск идёт по
// корням и ответам, ожидается ровно одно совпадение. Устаревший id (после
// конкурентного удаления) — тихий no-op. При отказе или неоднозначном
// ответе remote оптимистичная правка не чинится точечно: дерево
// перечитывается целиком — лайки дёшевы, и корректность здесь важнее.
func (e *Engine) ToggleLike(ctx context.Context, commentID string, userID uuid.UUID, videoID string) error {
	const op = "engine/ToggleLike"

	commentID = strings.TrimSpace(commentID)
	videoID = strings.TrimSpace(videoID)
	lg := log.From(ctx).With("op", op, "video_id", videoID, "comment_id", commentID)

	if !validIdentity(userID, videoID) {
		lg.Warn("unauthenticated like toggle")
		return fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}

	m := mutation{
		op: "like",
		apply: func(st *videoState) bool {
			c := findComment(st.comments, commentID)
			if c == nil {
				return false
			}

			if c.LikedByMe {
				c.LikedByMe = false
				if c.LikeCount > 0 {
					c.LikeCount--
				}
			} else {
				c.LikedByMe = true
				c.LikeCount++
			}

			st.pendingLikes[commentID] = struct{}{}

			return true
		},
		call: func(ctx context.Context) error {
			_, err := e.remote.ToggleCommentLike(ctx, commentID, userID, videoID)
			return err
		},
		settle: func(st *videoState) {
			delete(st.pendingLikes, commentID)
		},
		// revert отсутствует: отказ разрешается полным resync.
	}

	return e.runOptimistic(ctx, videoID, m)
}

// Remove удаляет комментарий.
//
// Предусловие canDelete: пользователь — автор комментария либо владелец
// видео (владелец модерирует любые комментарии под своим видео). Нарушение
// отдаёт ErrNotAuthorized без каких-либо мутаций. Оптимистичный шаг убирает
// корень (вместе с ответами) или один ответ из ветки родителя; при отказе
// удалённого удаления истинное состояние восстанавливается перечитыванием.
func (e *Engine) Remove(ctx context.Context, commentID string, userID uuid.UUID, videoID string) error {
	const op = "engine/Remove"

	commentID = strings.TrimSpace(commentID)
	videoID = strings.TrimSpace(videoID)
	lg := log.From(ctx).With("op", op, "video_id", videoID, "comment_id", commentID)

	if !validIdentity(userID, videoID) {
		lg.Warn("unauthenticated remove")
		return fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}

	// Авторизация до любых мутаций.
	e.mu.Lock()
	var authorID uuid.UUID
	found := false
	if st, ok := e.states[videoID]; ok {
		if c := findComment(st.comments, commentID); c != nil {
			authorID = c.Author.ID
			found = true
		}
	}
	e.mu.Unlock()

	if !found {
		lg.Warn("comment not found")
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	if authorID != userID {
		video, err := e.remote.VideoByID(ctx, videoID)
		if err != nil {
			lg.Error("remote error on video lookup", "err", err)
			return fmt.Errorf("%s: %w", op, ErrRemote)
		}

		if video.AuthorID != userID {
			lg.Warn("not authorized", "user_id", userID.String())
			return fmt.Errorf("%s: %w", op, ErrNotAuthorized)
		}
	}

	m := mutation{
		op:        "remove",
		onMissing: ErrNotFound,
		apply: func(st *videoState) bool {
			if _, ok := removeLocked(st, commentID); !ok {
				return false
			}

			st.pendingDeletes[commentID] = struct{}{}

			return true
		},
		call: func(ctx context.Context) error {
			return e.remote.DeleteComment(ctx, commentID, userID, videoID)
		},
		settle: func(st *videoState) {
			delete(st.pendingDeletes, commentID)
		},
		// revert отсутствует: отказ разрешается полным resync.
	}

	return e.runOptimistic(ctx, videoID, m)
}
