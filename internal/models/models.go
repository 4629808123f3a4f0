// Package models содержит доменные сущности engagement-ядра.
package models

import (
	"time"

	"github.com/google/uuid"
)

// User — стабильная личность из auth-коллаборатора. Только для чтения.
type User struct {
	ID         uuid.UUID
	Username   string
	AvatarURL  string
	IsVerified bool
}

// Video — справочная запись видео.
// Важно:
//   - PointsAward — сколько баллов стоит событие «досмотрел до конца» (>= 0);
//   - AuthorID — нужен правилу canDelete: владелец видео модерирует
//     комментарии под своим видео.
type Video struct {
	ID          string
	AuthorID    uuid.UUID
	PointsAward int64
}

// Comment — комментарий к видео (MongoDB).
// Важно:
//   - ID — ObjectID MongoDB в виде hex-строки; у оптимистичных (ещё не
//     подтверждённых) комментариев — локально сгенерированный UUID,
//     заменяемый серверным после подтверждения;
//   - ParentID — пустой для корневого комментария; дерево двухуровневое,
//     ответы на ответы не допускаются;
//   - LikedByMe — относительно текущего зрителя, вычисляется при выборке;
//   - Replies заполняются только у корней, упорядочены от старых к новым.
type Comment struct {
	ID        string
	VideoID   string
	ParentID  string
	Author    User
	Content   string
	LikeCount int64
	LikedByMe bool
	CreatedAt time.Time
	Replies   []Comment
}

// IsReply сообщает, является ли комментарий ответом в ветке.
func (c *Comment) IsReply() bool {
	return c.ParentID != ""
}

// Clone возвращает глубокую копию комментария вместе с ответами.
// Нужна движку синхронизации: наружу отдаются только копии, чтобы UI
// не мог мутировать внутреннее состояние.
func (c Comment) Clone() Comment {
	out := c
	if len(c.Replies) > 0 {
		out.Replies = make([]Comment, len(c.Replies))
		for i := range c.Replies {
			out.Replies[i] = c.Replies[i].Clone()
		}
	} else {
		out.Replies = nil
	}

	return out
}
