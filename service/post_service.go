package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"student-polling-backend/models"
	"student-polling-backend/repository"
)

// CreatePostInput is what an administrator submits for a new post.
type CreatePostInput struct {
	Title    string
	Content  string
	Category models.PostCategory
}

type PostService struct {
	repo repository.PostRepository
	log  *slog.Logger
	now  func() time.Time
}

func NewPostService(repo repository.PostRepository, log *slog.Logger) *PostService {
	return &PostService{repo: repo, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// CreatePost publishes a post dated today, authored by author.
func (s *PostService) CreatePost(ctx context.Context, in CreatePostInput, author string) (*models.Post, error) {
	title := strings.TrimSpace(in.Title)
	content := strings.TrimSpace(in.Content)
	switch {
	case title == "":
		return nil, invalidf("title is required")
	case tooLong(title, models.MaxTitleLen):
		return nil, invalidf("title longer than %d characters", models.MaxTitleLen)
	case tooLong(author, models.MaxAuthorLen):
		return nil, invalidf("author longer than %d characters", models.MaxAuthorLen)
	case content == "":
		return nil, invalidf("content is required")
	case !in.Category.Valid():
		return nil, invalidf("unknown category %q", in.Category)
	}

	post := &models.Post{
		Title:       title,
		Content:     content,
		Author:      author,
		Category:    in.Category,
		PublishDate: s.now().Format(models.PublishDateLayout),
	}
	if err := s.repo.CreatePost(ctx, post); err != nil {
		return nil, storageErr(err)
	}
	s.log.Info("post created", "post_id", post.ID, "category", post.Category)
	return post, nil
}

// ListPosts returns posts newest first; an empty category lists all of them.
func (s *PostService) ListPosts(ctx context.Context, category string) ([]models.Post, error) {
	c := models.PostCategory(category)
	if c != "" && !c.Valid() {
		return nil, invalidf("unknown category %q", category)
	}
	posts, err := s.repo.ListPosts(ctx, c)
	if err != nil {
		return nil, storageErr(err)
	}
	return posts, nil
}

func (s *PostService) GetPost(ctx context.Context, postID string) (*models.Post, error) {
	post, err := s.repo.GetPost(ctx, postID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return post, nil
}

func (s *PostService) DeletePost(ctx context.Context, postID string) error {
	err := s.repo.DeletePost(ctx, postID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrPostNotFound
	}
	if err != nil {
		return storageErr(err)
	}
	s.log.Info("post deleted", "post_id", postID)
	return nil
}
