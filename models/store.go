package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a project or clip id does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence port for projects and clips.
type Store interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	// GetProjectByAudioHash returns (nil, nil) when no project has the hash.
	GetProjectByAudioHash(ctx context.Context, hash string) (*Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
	// UpdateProject applies column updates without changing status.
	UpdateProject(ctx context.Context, id string, updates map[string]interface{}) error
	// TransitionProject conditionally moves the project to status `to`,
	// applying `extra` column updates in the same statement. The update only
	// happens if the current status is one of `from`; the returned bool says
	// whether the transition won. Every `from` entry must be legal per the
	// transition table.
	TransitionProject(ctx context.Context, id, to string, from []string, extra map[string]interface{}) (bool, error)
	DeleteProject(ctx context.Context, id string) error

	CreateClip(ctx context.Context, c *Clip) error
	GetClips(ctx context.Context, projectID string) ([]Clip, error)
	DeleteClips(ctx context.Context, projectID string) error
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateProject(ctx context.Context, p *Project) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *GormStore) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *GormStore) GetProjectByAudioHash(ctx context.Context, hash string) (*Project, error) {
	if hash == "" {
		return nil, nil
	}
	var p Project
	if err := s.db.WithContext(ctx).First(&p, "audio_hash = ?", hash).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (s *GormStore) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&projects).Error; err != nil {
		return nil, err
	}
	return projects, nil
}

func (s *GormStore) UpdateProject(ctx context.Context, id string, updates map[string]interface{}) error {
	merged := map[string]interface{}{"updated_at": time.Now()}
	for k, v := range updates {
		merged[k] = v
	}
	res := s.db.WithContext(ctx).Model(&Project{}).Where("id = ?", id).Updates(merged)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionProject is a compare-and-swap on status: the conditional UPDATE
// closes the race between two concurrent run-start requests, since only one
// of them can match the `status IN` predicate.
func (s *GormStore) TransitionProject(ctx context.Context, id, to string, from []string, extra map[string]interface{}) (bool, error) {
	for _, f := range from {
		if !CanTransition(f, to) {
			return false, fmt.Errorf("illegal transition %s -> %s", f, to)
		}
	}
	updates := map[string]interface{}{"status": to, "updated_at": time.Now()}
	for k, v := range extra {
		updates[k] = v
	}
	res := s.db.WithContext(ctx).Model(&Project{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) DeleteProject(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&Project{}, "id = ?", id).Error
}

func (s *GormStore) CreateClip(ctx context.Context, c *Clip) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *GormStore) GetClips(ctx context.Context, projectID string) ([]Clip, error) {
	var clips []Clip
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("sequence_order ASC").
		Find(&clips).Error
	if err != nil {
		return nil, err
	}
	return clips, nil
}

func (s *GormStore) DeleteClips(ctx context.Context, projectID string) error {
	return s.db.WithContext(ctx).Delete(&Clip{}, "project_id = ?", projectID).Error
}
