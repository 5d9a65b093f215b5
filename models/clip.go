package models

import "time"

const (
	ClipStatusPending   = "pending"
	ClipStatusGenerated = "generated"
)

// FallbackPrompt marks a clip that was rendered as a deterministic
// placeholder after visual synthesis failed for its segment.
const FallbackPrompt = "Fallback visual"

// Clip is one generated video segment. SequenceOrder is 0-based and dense:
// once a run completes, a project's clips cover [0, totalClips).
type Clip struct {
	ID            string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId     string    `gorm:"index;type:varchar(64)" json:"projectId"`
	Url           string    `json:"url"`
	PromptUsed    string    `gorm:"type:text" json:"promptUsed"`
	Duration      int       `json:"duration"`
	SequenceOrder int       `json:"sequenceOrder"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (Clip) TableName() string {
	return "clip"
}
