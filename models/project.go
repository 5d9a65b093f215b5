package models

import "time"

// Project lifecycle statuses. A project moves
// pending -> analyzing -> generating -> ready_to_render -> rendering -> completed,
// with failed reachable from the working states and generating re-enterable
// from completed or failed (a new take).
const (
	StatusPending       = "pending"
	StatusAnalyzing     = "analyzing"
	StatusGenerating    = "generating"
	StatusReadyToRender = "ready_to_render"
	StatusRendering     = "rendering"
	StatusCompleted     = "completed"
	StatusFailed        = "failed"
)

const (
	QualityFast = "fast"
	QualityHigh = "high"
)

// ActiveStatuses are the states with a run in flight. A new run may not be
// started while the project sits in any of them.
var ActiveStatuses = []string{StatusAnalyzing, StatusGenerating, StatusReadyToRender, StatusRendering}

// StartSources are the states a fresh generation run may start from.
var StartSources = []string{StatusPending, StatusCompleted, StatusFailed}

// transitionSources maps a target status to every status it may be entered
// from. All status changes go through Store.TransitionProject, which consults
// this table, so transition legality lives in exactly one place.
var transitionSources = map[string][]string{
	StatusAnalyzing:     {StatusPending, StatusGenerating},
	StatusGenerating:    {StatusAnalyzing, StatusPending, StatusCompleted, StatusFailed},
	StatusReadyToRender: {StatusGenerating},
	StatusRendering:     {StatusReadyToRender},
	StatusCompleted:     {StatusRendering},
	StatusFailed:        {StatusAnalyzing, StatusGenerating, StatusRendering},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to string) bool {
	for _, s := range transitionSources[to] {
		if s == from {
			return true
		}
	}
	return false
}

// IsActive reports whether the status represents in-progress pipeline work.
func IsActive(status string) bool {
	for _, s := range ActiveStatuses {
		if s == status {
			return true
		}
	}
	return false
}

type Project struct {
	ID               string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Title            string    `json:"title"`
	Prompt           string    `json:"prompt"`
	OriginalAudioUrl string    `json:"originalAudioUrl"`
	AudioFilename    string    `json:"audioFilename"`
	AudioHash        string    `gorm:"index;type:varchar(64)" json:"audioHash"`
	Status           string    `json:"status"`
	Quality          string    `json:"quality"`
	Duration         int       `json:"duration"`
	BPM              int       `gorm:"column:bpm" json:"bpm"`
	Lyrics           string    `gorm:"type:text" json:"lyrics"`
	Mood             string    `json:"mood"`
	Progress         int       `json:"progress"`
	TotalClips       int       `json:"totalClips"`
	GeneratedClips   int       `json:"generatedClips"`
	TakeNumber       int       `json:"takeNumber"`
	OutputVideoUrl   string    `gorm:"type:text" json:"outputVideoUrl"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (Project) TableName() string {
	return "project"
}
