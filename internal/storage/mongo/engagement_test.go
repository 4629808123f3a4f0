package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/brucelancer/tunnel-ad-main-sub003/internal/config"
	"github.com/brucelancer/tunnel-ad-main-sub003/internal/models"
	"github.com/brucelancer/tunnel-ad-main-sub003/internal/storage"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"go.mongodb.org/mongo-driver/bson"
)

// testTimeout — общий дедлайн на операции с БД в тестах.
const testTimeout = 10 * time.Second

// TestMain запускает MongoDB в контейнере один раз на весь пакет тестов.
// Адрес контейнера прокидывается в ENV DATABASE_URL, а каждая спецификация
// создаёт свою БД с уникальным именем (см. newTestConfig).
func TestMain(m *testing.M) {
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		os.Exit(m.Run())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "mongo:7.0",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(90 * time.Second),
	}

	mongoC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})

	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start mongo testcontainer: %v\n", err)
		os.Exit(1)
	}

	host, err := mongoC.Host(ctx)
	if err != nil {
		_ = mongoC.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}

	port, err := mongoC.MappedPort(ctx, "27017/tcp")
	if err != nil {
		_ = mongoC.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get mapped port: %v\n", err)
		os.Exit(1)
	}

	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
	_ = os.Setenv("DATABASE_URL", uri)

	code := m.Run()

	// Гасим контейнер *после* выполнения пакета тестов.
	_ = mongoC.Terminate(context.Background())
	os.Exit(code)
}

// newTestConfig создаёт конфиг с отдельной тестовой БД.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()

	baseURL := os.Getenv("DATABASE_URL")
	if baseURL == "" {
		baseURL = "mongodb://localhost:27017"
	}

	dbName := "engagement_test_" + uuid.New().String()
	if baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL + dbName
	} else {
		baseURL = baseURL + "/" + dbName
	}

	return &config.Config{
		DB: config.DBConfig{
			URL: baseURL,
		},
		Limits: config.LimitsConfig{
			MaxCommentLength: 2000,
		},
	}
}

// mustNewMongo создаёт подключение к созданной Test DB и регистрирует очистку по завершении теста.
func mustNewMongo(t *testing.T, cfg *config.Config) *Mongo {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	m, err := New(ctx, cfg)
	if err != nil {
		t.Skipf("cannot connect to MongoDB: %v (DATABASE_URL=%s)", err, cfg.DB.URL)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = m.db.Drop(ctx)
		_ = m.Close(ctx)
	})

	return m
}

// seedVideo вставляет справочную запись видео.
func seedVideo(t *testing.T, m *Mongo, id string, authorID uuid.UUID, award int64) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	_, err := m.videos.InsertOne(ctx, videoDoc{ID: id, AuthorID: authorID.String(), PointsAward: award})
	if err != nil {
		t.Fatalf("seed video: %v", err)
	}
}

// TestCreateRootComment_AssignsServerFields — сервер назначает id и created_at,
// локальный provisional id входа игнорируется.
func TestCreateRootComment_AssignsServerFields(t *testing.T) {
	m := mustNewMongo(t, newTestConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	before := toMS(time.Now())

	out, err := m.CreateComment(ctx, models.Comment{
		ID:      "local-" + uuid.NewString(),
		VideoID: "v1",
		Author:  models.User{ID: uuid.New(), Username: "alice"},
		Content: "hello world",
	})
	if err != nil {
		t.Fatalf("CreateComment(root) error: %v", err)
	}

	if out.ID == "" || out.ID[:6] == "local-" {
		t.Fatalf("expected server-assigned ID, got %q", out.ID)
	}

	if out.ParentID != "" {
		t.Fatalf("root ParentID must be empty, got %q", out.ParentID)
	}

	if out.CreatedAt.Before(before) {
		t.Fatalf("CreatedAt %v before insert time %v", out.CreatedAt, before)
	}

	if out.LikeCount != 0 || out.LikedByMe {
		t.Fatalf("fresh comment must have zero likes: count=%d, liked=%v", out.LikeCount, out.LikedByMe)
	}
}

// TestCreateReply_InheritsVideoID — ответ принудительно наследует video_id родителя.
func TestCreateReply_InheritsVideoID(t *testing.T) {
	m := mustNewMongo(t, newTestConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	root, err := m.CreateComment(ctx, models.Comment{
		VideoID: "v1",
		Author:  models.User{ID: uuid.New(), Username: "bob"},
		Content: "root",
	})
	if err != nil {
		t.Fatalf("CreateComment(root) error: %v", err)
	}

	reply, err := m.CreateComment(ctx, models.Comment{
		// Даже если video_id «левый» — в ответе он обязан совпасть с родителем.
		VideoID:  "other",
		ParentID: root.ID,
		Author:   models.User{ID: uuid.New(), Username: "carol"},
		Content:  "reply",
	})
	if err != nil {
		t.Fatalf("CreateComment(reply) error: %v", err)
	}

	if reply.ParentID != root.ID {
		t.Fatalf("reply.ParentID = %q, want %q", reply.ParentID, root.ID)
	}

	if reply.VideoID != root.VideoID {
		t.Fatalf("reply.VideoID = %q, want %q", reply.VideoID, root.VideoID)
	}
}

// TestCreateReply_ParentNotFound — ответ на несуществующий родитель.
func TestCreateReply_ParentNotFound(t *testing.T) {
	m := mustNewMongo(t, newTestConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	_, err := m.CreateComment(ctx, models.Comment{
		VideoID:  "v1",
		ParentID: "65e0a0c9fd2f000000000000", // валидный hex ObjectID, но документа нет.
		Author:   models.User{ID: uuid.New(), Username: "dave"},
		Content:  "orphan",
	})

	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

// TestCreateReply_ToReplyRejected — дерево двухуровневое: ответ на ответ запрещён.
func TestCreateReply_ToReplyRejected(t *testing.T) {
	m := mustNewMongo(t, newTestConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	root, err := m.CreateComment(ctx, models.Comment{
		VideoID: "v1",
		Author:  models.User{ID: uuid.New(), Username: "u"},
		Content: "root",
	})
	if err != nil {
		t.Fatalf("CreateComment(root) error: %v", err)
	}

	reply, err := m.CreateComment(ctx, models.Comment{
		ParentID: root.ID,
		Author:   models.User{ID: uuid.New(), Username: "u"},
		Content:  "reply",
	})
	if err != nil {
		t.Fatalf("CreateComment(reply) error: %v", err)
	}

	_, err = m.CreateComment(ctx, models.Comment{
		ParentID: reply.ID,
		Author:   models.User{ID: uuid.New(), Username: "u"},
		Content:  "reply to reply",
	})

	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("want ErrConflict on reply to reply, got %v", err)
	}
}

// TestCommentsByVideo_TreeAndOrder — корни от новых к старым, ответы от
// старых к новым, LikedByMe по лайкам зрителя.
func TestCommentsByVideo_TreeAndOrder(t *testing.T) {
	m := mustNewMongo(t, newTestConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	viewer := uuid.New()

	// 2 корня с паузой -> однозначный порядок по created_at.
	first, err := m.CreateComment(ctx, models.Comment{
		VideoID: "v1",
		Author:  models.User{ID: uuid.New(), Username: "u"},
		Content: "older root",
	})
	if err != nil {
		t.Fatalf("CreateComment error: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	second, err := m.CreateComment(ctx, models.Comment{
		VideoID: "v1",
		Author:  models.User{ID: uuid.New(), Username: "u"},
		Content: "newer root",
	})
	if err != nil {
		t.Fatalf("CreateComment error: %v", err)
	}

	// 2 ответа у старшего корня.
	for i := 0; i < 2; i++ {
		if _, err := m.CreateComment(ctx, models.Comment{
			ParentID: first.ID,
			Author:   models.User{ID: uuid.New(), Username: "u"},
			Content:  fmt.Sprintf("reply %d", i),
		}); err != nil {
			t.Fatalf("CreateComment(reply %d) error: %v", i, err)
		}

		time.Sleep(10 * time.Millisecond)
	}

	// Лайк зрителя на новом корне.
	if _, err := m.ToggleCommentLike(ctx, second.ID, viewer, "v1"); err != nil {
		t.Fatalf("ToggleCommentLike error: %v", err)
	}

	tree, err := m.CommentsByVideo(ctx, "v1", viewer)
	if err != nil {
		t.Fatalf("CommentsByVideo error: %v", err)
	}

	if len(tree) != 2 {
		t.Fatalf("roots len=%d, want 2", len(tree))
	}

	if tree[0].ID != second.ID {
		t.Fatalf("roots order: want newest first (%s), got %s", second.ID, tree[0].ID)
	}

	if !tree[0].LikedByMe || tree[0].LikeCount != 1 {
		t.Fatalf("viewer like not reflected: liked=%v, count=%d", tree[0].LikedByMe, tree[0].LikeCount)
	}

	replies := tree[1].Replies
	if len(replies) != 2 {
		t.Fatalf("replies len=%d, want 2", len(replies))
	}

	if replies[0].CreatedAt.After(replies[1].CreatedAt) {
		t.Fatalf("replies order ASC violated: %v THEN %v", replies[0].CreatedAt, replies[1].CreatedAt)
	}
}

// TestCommentCount — счётчик учитывает корни и ответы.
func TestCommentCount(t *testing.T) {
	m := mustNewMongo(t, newTestConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	root, err := m.CreateComment(ctx, models.Comment{
		VideoID: "v1",
		Author:  models.User{ID: uuid.New(), Username: "u"},
		Content: "root",
	})
	if err != nil {
		t.Fatalf("CreateComment(root) error: %v", err)
	}

	if _, err := m.CreateComment(ctx, models.Comment{
		ParentID: root.ID,
		Author:   models.User{ID: uuid.New(), Username: "u"},
		Content:  "reply",
	}); err != nil {
		t.Fatalf("CreateComment(reply) error: %v", err)
	}

	n, err := m.CommentCount(ctx, "v1")
	if err != nil {
		t.Fatalf("CommentCount error: %v", err)
	}

	if n != 2 {
		t.Fatalf("count=%d, want 2", n)
	}
}

// TestToggleCommentLike_Symmetry — like/unlike возвращает счётчик к исходному,
// строка лайка не задваивается.
func TestToggleCommentLike_Symmetry(t *testing.T) {
	m := mustNewMongo(t, newTestConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	c, err := m.CreateComment(ctx, models.Comment{
		VideoID: "v1",
		Author:  models.User{ID: uuid.New(), Username: "u"},
		Content: "likeable",
	})
	if err != nil {
		t.Fatalf("CreateComment error: %v", err)
	}

	user := uuid.New()

	liked, err := m.ToggleCommentLike(ctx, c.ID, user, "v1")
	if err != nil || !liked {
		t.Fatalf("first toggle: liked=%v, err=%v; want true, nil", liked, err)
	}

	liked, err = m.ToggleCommentLike(ctx, c.ID, user, "v1")
	if err != nil || liked {
		t.Fatalf("second toggle: liked=%v, err=%v; want false, nil", liked, err)
	}

	var doc commentDoc
	oidFilter := bson.D{{Key: "content", Value: "likeable"}}
	if err := m.comments.FindOne(ctx, oidFilter).Decode(&doc); err != nil {
		t.Fatalf("find comment: %v", err)
	}

	if doc.LikeCount != 0 {
		t.Fatalf("like_count=%d after symmetric toggle, want 0", doc.LikeCount)
	}
}

// TestToggleCommentLike_UnknownComment — лайк по устаревшему id.
func TestToggleCommentLike_UnknownComment(t *testing.T) {
	m := mustNewMongo(t, newTestConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	_, err := m.ToggleCommentLike(ctx, "65e0a0c9fd2f000000000000", uuid.New(), "v1")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

// TestDeleteComment_RootCascades — удаление корня уносит ответы и лайки ветки.
func TestDeleteComment_RootCascades(t *testing.T) {
	m := mustNewMongo(t, newTestConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	author := uuid.New()

	root, err := m.CreateComment(ctx, models.Comment{
		VideoID: "v1",
		Author:  models.User{ID: author, Username: "u"},
		Content: "root",
	})
	if err != nil {
		t.Fatalf("CreateComment(root) error: %v", err)
	}

	reply, err := m.CreateComment(ctx, models.Comment{
		ParentID: root.ID,
		Author:   models.User{ID: uuid.New(), Username: "u"},
		Content:  "reply",
	})
	if err != nil {
		t.Fatalf("CreateComment(reply) error: %v", err)
	}

	if _, err := m.ToggleCommentLike(ctx, reply.ID, uuid.New(), "v1"); err != nil {
		t.Fatalf("ToggleCommentLike error: %v", err)
	}

	if err := m.DeleteComment(ctx, root.ID, author, "v1"); err != nil {
		t.Fatalf("DeleteComment error: %v", err)
	}

	n, err := m.CommentCount(ctx, "v1")
	if err != nil {
		t.Fatalf("CommentCount error: %v", err)
	}

	if n != 0 {
		t.Fatalf("count=%d after root delete, want 0", n)
	}

	likes, err := m.likes.CountDocuments(ctx, bson.D{{Key: "video_id", Value: "v1"}})
	if err != nil {
		t.Fatalf("count likes: %v", err)
	}

	if likes != 0 {
		t.Fatalf("likes=%d after root delete, want 0", likes)
	}
}

// TestDeleteComment_ReplyOnly — удаление ответа не трогает корень и соседей.
func TestDeleteComment_ReplyOnly(t *testing.T) {
	m := mustNewMongo(t, newTestConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	root, err := m.CreateComment(ctx, models.Comment{
		VideoID: "v1",
		Author:  models.User{ID: uuid.New(), Username: "u"},
		Content: "root",
	})
	if err != nil {
		t.Fatalf("CreateComment(root) error: %v", err)
	}

	replyAuthor := uuid.New()
	reply, err := m.CreateComment(ctx, models.Comment{
		ParentID: root.ID,
		Author:   models.User{ID: replyAuthor, Username: "u"},
		Content:  "reply",
	})
	if err != nil {
		t.Fatalf("CreateComment(reply) error: %v", err)
	}

	if err := m.DeleteComment(ctx, reply.ID, replyAuthor, "v1"); err != nil {
		t.Fatalf("DeleteComment(reply) error: %v", err)
	}

	tree, err := m.CommentsByVideo(ctx, "v1", uuid.Nil)
	if err != nil {
		t.Fatalf("CommentsByVideo error: %v", err)
	}

	if len(tree) != 1 || len(tree[0].Replies) != 0 {
		t.Fatalf("tree after reply delete: roots=%d, replies=%d; want 1, 0", len(tree), len(tree[0].Replies))
	}
}

// TestDeleteComment_NotFound — повторное удаление отдаёт ErrNotFound.
func TestDeleteComment_NotFound(t *testing.T) {
	m := mustNewMongo(t, newTestConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	err := m.DeleteComment(ctx, "65e0a0c9fd2f000000000000", uuid.New(), "v1")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

// TestVideoByID — справочная запись и отсутствие записи.
func TestVideoByID(t *testing.T) {
	m := mustNewMongo(t, newTestConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	owner := uuid.New()
	seedVideo(t, m, "v1", owner, 10)

	v, err := m.VideoByID(ctx, "v1")
	if err != nil {
		t.Fatalf("VideoByID error: %v", err)
	}

	if v.AuthorID != owner || v.PointsAward != 10 {
		t.Fatalf("video = %+v, want author=%s award=10", v, owner)
	}

	if _, err := m.VideoByID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("want ErrNotFound for unknown video, got %v", err)
	}
}

// TestEnsureIndexes_Created — индексы, создаваемые ensureIndexes, существуют.
func TestEnsureIndexes_Created(t *testing.T) {
	m := mustNewMongo(t, newTestConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	haveNames := map[string]bool{}

	cur, err := m.comments.Indexes().List(ctx)
	if err != nil {
		t.Fatalf("comments Indexes().List error: %v", err)
	}
	for cur.Next(ctx) {
		var spec map[string]any
		if err := cur.Decode(&spec); err != nil {
			t.Fatalf("decode index spec: %v", err)
		}
		if name, _ := spec["name"].(string); name != "" {
			haveNames[name] = true
		}
	}
	_ = cur.Close(ctx)

	likeCur, err := m.likes.Indexes().List(ctx)
	if err != nil {
		t.Fatalf("likes Indexes().List error: %v", err)
	}
	for likeCur.Next(ctx) {
		var spec map[string]any
		if err := likeCur.Decode(&spec); err != nil {
			t.Fatalf("decode index spec: %v", err)
		}
		if name, _ := spec["name"].(string); name != "" {
			haveNames[name] = true
		}
	}
	_ = likeCur.Close(ctx)

	for _, want := range []string{"video_parent_created_desc", "parent_created_asc", "comment_user_unique"} {
		if !haveNames[want] {
			t.Fatalf("index %q not found; have %v", want, haveNames)
		}
	}
}
