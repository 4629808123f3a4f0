package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/brucelancer/tunnel-ad-main-sub003/internal/models"
	"github.com/brucelancer/tunnel-ad-main-sub003/internal/storage"
)

var _ storage.RemoteStore = (*Mongo)(nil)

// commentDoc — представление комментария в коллекции comments.
// ParentID хранится hex-строкой корня ("" у корней): дерево двухуровневое.
type commentDoc struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	VideoID    string             `bson:"video_id"`
	ParentID   string             `bson:"parent_id"`
	AuthorID   string             `bson:"author_id"`
	Username   string             `bson:"username"`
	AvatarURL  string             `bson:"avatar_url"`
	IsVerified bool               `bson:"is_verified"`
	Content    string             `bson:"content"`
	LikeCount  int64              `bson:"like_count"`
	CreatedAt  time.Time          `bson:"created_at"`
}

// likeDoc — строка лайка; уникальность пары (comment_id, user_id)
// обеспечивает идемпотентность переключения.
type likeDoc struct {
	CommentID string    `bson:"comment_id"`
	UserID    string    `bson:"user_id"`
	VideoID   string    `bson:"video_id"`
	CreatedAt time.Time `bson:"created_at"`
}

// videoDoc — справочная запись видео.
type videoDoc struct {
	ID          string `bson:"_id"`
	AuthorID    string `bson:"author_id"`
	PointsAward int64  `bson:"points_award"`
}

// toMS — MongoDB DateTime хранит миллисекунды.
func toMS(t time.Time) time.Time { return t.UTC().Truncate(time.Millisecond) }

func (d *commentDoc) toModel() models.Comment {
	authorID, _ := uuid.Parse(d.AuthorID)

	return models.Comment{
		ID:       d.ID.Hex(),
		VideoID:  d.VideoID,
		ParentID: d.ParentID,
		Author: models.User{
			ID:         authorID,
			Username:   d.Username,
			AvatarURL:  d.AvatarURL,
			IsVerified: d.IsVerified,
		},
		Content:   d.Content,
		LikeCount: d.LikeCount,
		CreatedAt: d.CreatedAt,
	}
}

// CommentsByVideo возвращает полное двухуровневое дерево комментариев видео:
// корни от новых к старым, ответы каждого корня от старых к новым.
// LikedByMe проставляется по строкам лайков зрителя viewerID.
func (m *Mongo) CommentsByVideo(ctx context.Context, videoID string, viewerID uuid.UUID) ([]models.Comment, error) {
	const op = "storage/mongo/CommentsByVideo"

	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return nil, fmt.Errorf("%s: empty video id", op)
	}

	// Корни.
	rootCur, err := m.comments.Find(ctx,
		bson.D{{Key: "video_id", Value: videoID}, {Key: "parent_id", Value: ""}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: find roots: %w", op, err)
	}

	var rootDocs []commentDoc
	if err := rootCur.All(ctx, &rootDocs); err != nil {
		return nil, fmt.Errorf("%s: decode roots: %w", op, err)
	}

	rootIDs := make([]string, 0, len(rootDocs))
	for i := range rootDocs {
		rootIDs = append(rootIDs, rootDocs[i].ID.Hex())
	}

	// Ответы всех корней одной выборкой.
	var replyDocs []commentDoc
	if len(rootIDs) > 0 {
		replyCur, err := m.comments.Find(ctx,
			bson.D{{Key: "parent_id", Value: bson.D{{Key: "$in", Value: rootIDs}}}},
			options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
		)
		if err != nil {
			return nil, fmt.Errorf("%s: find replies: %w", op, err)
		}

		if err := replyCur.All(ctx, &replyDocs); err != nil {
			return nil, fmt.Errorf("%s: decode replies: %w", op, err)
		}
	}

	// Лайки зрителя по этому видео.
	likedSet := map[string]struct{}{}
	if viewerID != uuid.Nil {
		likeCur, err := m.likes.Find(ctx, bson.D{
			{Key: "video_id", Value: videoID},
			{Key: "user_id", Value: viewerID.String()},
		})
		if err != nil {
			return nil, fmt.Errorf("%s: find likes: %w", op, err)
		}

		var likeRows []likeDoc
		if err := likeCur.All(ctx, &likeRows); err != nil {
			return nil, fmt.Errorf("%s: decode likes: %w", op, err)
		}

		for i := range likeRows {
			likedSet[likeRows[i].CommentID] = struct{}{}
		}
	}

	// Сборка дерева.
	byRoot := make(map[string][]models.Comment, len(rootDocs))
	for i := range replyDocs {
		reply := replyDocs[i].toModel()
		_, reply.LikedByMe = likedSet[reply.ID]
		byRoot[reply.ParentID] = append(byRoot[reply.ParentID], reply)
	}

	out := make([]models.Comment, 0, len(rootDocs))
	for i := range rootDocs {
		root := rootDocs[i].toModel()
		_, root.LikedByMe = likedSet[root.ID]
		root.Replies = byRoot[root.ID]
		out = append(out, root)
	}

	return out, nil
}

// CommentCount возвращает общее число комментариев видео (корни + ответы).
func (m *Mongo) CommentCount(ctx context.Context, videoID string) (int64, error) {
	const op = "storage/mongo/CommentCount"

	n, err := m.comments.CountDocuments(ctx, bson.D{{Key: "video_id", Value: strings.TrimSpace(videoID)}})
	if err != nil {
		return 0, fmt.Errorf("%s: count: %w", op, err)
	}

	return n, nil
}

// CreateComment создаёт корневой комментарий или ответ.
//   - Локальный (provisional) ID входа игнорируется: _id назначает Mongo.
//   - Для ответа родитель обязан существовать и быть корнем
//     (ErrNotFound / ErrConflict соответственно) — дерево двухуровневое.
func (m *Mongo) CreateComment(ctx context.Context, comment models.Comment) (*models.Comment, error) {
	const op = "storage/mongo/CreateComment"

	now := toMS(time.Now())

	parentID := strings.TrimSpace(comment.ParentID)
	if parentID != "" {
		parentOID, err := primitive.ObjectIDFromHex(parentID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		var parent commentDoc
		if err := m.comments.FindOne(ctx, bson.D{{Key: "_id", Value: parentOID}}).Decode(&parent); err != nil {
			if errors.Is(err, mongodriver.ErrNoDocuments) {
				return nil, fmt.Errorf("%s: parent: %w", op, storage.ErrNotFound)
			}

			return nil, fmt.Errorf("%s: find parent: %w", op, err)
		}

		// Ответ на ответ запрещён.
		if parent.ParentID != "" {
			return nil, fmt.Errorf("%s: reply to reply: %w", op, storage.ErrConflict)
		}

		// video_id наследуется от родителя (защита от рассинхрона).
		comment.VideoID = parent.VideoID
	}

	doc := commentDoc{
		VideoID:    strings.TrimSpace(comment.VideoID),
		ParentID:   parentID,
		AuthorID:   comment.Author.ID.String(),
		Username:   comment.Author.Username,
		AvatarURL:  comment.Author.AvatarURL,
		IsVerified: comment.Author.IsVerified,
		Content:    comment.Content,
		LikeCount:  0,
		CreatedAt:  now,
	}

	res, err := m.comments.InsertOne(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("%s: insert: %w", op, err)
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		// Mongo всегда возвращает ObjectID.
		return nil, fmt.Errorf("%s: inserted id type", op)
	}

	created := comment
	created.ID = oid.Hex()
	created.ParentID = parentID
	created.VideoID = doc.VideoID
	created.LikeCount = 0
	created.LikedByMe = false
	created.CreatedAt = now
	created.Replies = nil

	return &created, nil
}

// ToggleCommentLike идемпотентно переключает лайк пары (commentID, userID):
// существующая строка удаляется (unlike), отсутствующая — вставляется (like);
// счётчик like_count на комментарии корректируется в том же вызове.
// Возвращает итоговое состояние liked.
func (m *Mongo) ToggleCommentLike(ctx context.Context, commentID string, userID uuid.UUID, videoID string) (bool, error) {
	const op = "storage/mongo/ToggleCommentLike"

	oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(commentID))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	// Комментарий обязан существовать: лайк по устаревшему id — NotFound.
	if err := m.comments.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Err(); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return false, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return false, fmt.Errorf("%s: find comment: %w", op, err)
	}

	filter := bson.D{
		{Key: "comment_id", Value: oid.Hex()},
		{Key: "user_id", Value: userID.String()},
	}

	del, err := m.likes.DeleteOne(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("%s: delete like: %w", op, err)
	}

	if del.DeletedCount == 1 {
		// Был лайк — сняли.
		if _, err := m.comments.UpdateByID(ctx, oid, bson.D{
			{Key: "$inc", Value: bson.D{{Key: "like_count", Value: -1}}},
		}); err != nil {
			return false, fmt.Errorf("%s: dec counter: %w", op, err)
		}

		return false, nil
	}

	row := likeDoc{
		CommentID: oid.Hex(),
		UserID:    userID.String(),
		VideoID:   strings.TrimSpace(videoID),
		CreatedAt: toMS(time.Now()),
	}

	if _, err := m.likes.InsertOne(ctx, row); err != nil {
		// Гонка двух toggle: уникальный индекс удержал одну строку — лайк уже стоит.
		if mongodriver.IsDuplicateKeyError(err) {
			return true, nil
		}

		return false, fmt.Errorf("%s: insert like: %w", op, err)
	}

	if _, err := m.comments.UpdateByID(ctx, oid, bson.D{
		{Key: "$inc", Value: bson.D{{Key: "like_count", Value: 1}}},
	}); err != nil {
		return false, fmt.Errorf("%s: inc counter: %w", op, err)
	}

	return true, nil
}

// DeleteComment удаляет комментарий; для корня — вместе с ответами и всеми
// строками лайков ветки. Если записи нет — ErrNotFound.
func (m *Mongo) DeleteComment(ctx context.Context, commentID string, userID uuid.UUID, videoID string) error {
	const op = "storage/mongo/DeleteComment"

	oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(commentID))
	if err != nil {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	var doc commentDoc
	if err := m.comments.FindOneAndDelete(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return fmt.Errorf("%s: delete: %w", op, err)
	}

	branch := []string{oid.Hex()}

	if doc.ParentID == "" {
		// Корень: собрать и удалить ответы.
		ids, err := m.comments.Distinct(ctx, "_id", bson.D{{Key: "parent_id", Value: oid.Hex()}})
		if err != nil {
			return fmt.Errorf("%s: collect replies: %w", op, err)
		}

		for _, raw := range ids {
			if replyOID, ok := raw.(primitive.ObjectID); ok {
				branch = append(branch, replyOID.Hex())
			}
		}

		if _, err := m.comments.DeleteMany(ctx, bson.D{{Key: "parent_id", Value: oid.Hex()}}); err != nil {
			return fmt.Errorf("%s: delete replies: %w", op, err)
		}
	}

	if _, err := m.likes.DeleteMany(ctx, bson.D{
		{Key: "comment_id", Value: bson.D{{Key: "$in", Value: branch}}},
	}); err != nil {
		return fmt.Errorf("%s: delete likes: %w", op, err)
	}

	return nil
}

// VideoByID возвращает справочную запись видео.
func (m *Mongo) VideoByID(ctx context.Context, videoID string) (*models.Video, error) {
	const op = "storage/mongo/VideoByID"

	videoID = strings.TrimSpace(videoID)

	var doc videoDoc
	if err := m.videos.FindOne(ctx, bson.D{{Key: "_id", Value: videoID}}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: find: %w", op, err)
	}

	authorID, _ := uuid.Parse(doc.AuthorID)

	return &models.Video{
		ID:          doc.ID,
		AuthorID:    authorID,
		PointsAward: doc.PointsAward,
	}, nil
}
