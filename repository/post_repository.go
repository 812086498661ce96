package repository

import (
	"context"

	"student-polling-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PostRepository stores board posts.
type PostRepository interface {
	CreatePost(ctx context.Context, post *models.Post) error
	// ListPosts returns posts newest first; an empty category lists all.
	ListPosts(ctx context.Context, category models.PostCategory) ([]models.Post, error)
	GetPost(ctx context.Context, postID string) (*models.Post, error)
	DeletePost(ctx context.Context, postID string) error
}

type GormPostRepository struct {
	db *gorm.DB
}

func NewGormPostRepository(db *gorm.DB) *GormPostRepository {
	return &GormPostRepository{db: db}
}

func (r *GormPostRepository) CreatePost(ctx context.Context, post *models.Post) error {
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	return wrapErr("create post", r.db.WithContext(ctx).Create(post).Error)
}

func (r *GormPostRepository) ListPosts(ctx context.Context, category models.PostCategory) ([]models.Post, error) {
	query := r.db.WithContext(ctx)
	if category != "" {
		query = query.Where("category = ?", category)
	}

	var posts []models.Post
	if err := query.Order("created_at DESC").Find(&posts).Error; err != nil {
		return nil, wrapErr("list posts", err)
	}
	return posts, nil
}

func (r *GormPostRepository) GetPost(ctx context.Context, postID string) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).First(&post, "id = ?", postID).Error; err != nil {
		return nil, wrapErr("get post", err)
	}
	return &post, nil
}

func (r *GormPostRepository) DeletePost(ctx context.Context, postID string) error {
	res := r.db.WithContext(ctx).Where("id = ?", postID).Delete(&models.Post{})
	if res.Error != nil {
		return wrapErr("delete post", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
