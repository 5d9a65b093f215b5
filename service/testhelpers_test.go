package service

import (
	"context"
	"fmt"
	"sync"

	"TrackToVideo-server/models"
)

// fakeStore is an in-memory models.Store that honors the same
// compare-and-swap semantics as the gorm implementation. It also records
// every progress value written so tests can assert monotonicity.
type fakeStore struct {
	mu          sync.Mutex
	projects    map[string]*models.Project
	clips       map[string][]models.Clip
	progressLog map[string][]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:    make(map[string]*models.Project),
		clips:       make(map[string][]models.Clip),
		progressLog: make(map[string][]int),
	}
}

func (s *fakeStore) CreateProject(_ context.Context, p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *fakeStore) GetProject(_ context.Context, id string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) GetProjectByAudioHash(_ context.Context, hash string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hash == "" {
		return nil, nil
	}
	for _, p := range s.projects {
		if p.AudioHash == hash {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListProjects(_ context.Context) ([]models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, *p)
	}
	return out, nil
}

func (s *fakeStore) UpdateProject(_ context.Context, id string, updates map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return models.ErrNotFound
	}
	s.apply(p, updates)
	return nil
}

func (s *fakeStore) TransitionProject(_ context.Context, id, to string, from []string, extra map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range from {
		if !models.CanTransition(f, to) {
			return false, fmt.Errorf("illegal transition %s -> %s", f, to)
		}
	}
	p, ok := s.projects[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, f := range from {
		if p.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	p.Status = to
	s.apply(p, extra)
	return true, nil
}

func (s *fakeStore) apply(p *models.Project, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "progress":
			p.Progress = v.(int)
			s.progressLog[p.ID] = append(s.progressLog[p.ID], p.Progress)
		case "generated_clips":
			p.GeneratedClips = v.(int)
		case "total_clips":
			p.TotalClips = v.(int)
		case "take_number":
			p.TakeNumber = v.(int)
		case "prompt":
			p.Prompt = v.(string)
		case "lyrics":
			p.Lyrics = v.(string)
		case "mood":
			p.Mood = v.(string)
		case "output_video_url":
			p.OutputVideoUrl = v.(string)
		}
	}
}

func (s *fakeStore) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, id)
	return nil
}

func (s *fakeStore) CreateClip(_ context.Context, c *models.Clip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clips[c.ProjectId] = append(s.clips[c.ProjectId], *c)
	return nil
}

func (s *fakeStore) GetClips(_ context.Context, projectID string) ([]models.Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Clip, len(s.clips[projectID]))
	copy(out, s.clips[projectID])
	return out, nil
}

func (s *fakeStore) DeleteClips(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clips, projectID)
	return nil
}

// fakeProvider scripts analysis results and per-clip frame failures.
type fakeProvider struct {
	analysis     AnalysisResult
	analyzeErr   error
	failFrames   map[int]bool
	analyzeCalls int
	frameCalls   []FrameRequest
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) AnalyzeAudio(_ context.Context, _ AnalyzeRequest) (AnalysisResult, error) {
	f.analyzeCalls++
	if f.analyzeErr != nil {
		return AnalysisResult{}, f.analyzeErr
	}
	return f.analysis, nil
}

func (f *fakeProvider) GenerateFrame(_ context.Context, req FrameRequest) (VisualFrame, error) {
	f.frameCalls = append(f.frameCalls, req)
	if f.failFrames[req.ClipIndex] {
		return VisualFrame{}, fmt.Errorf("synthesis failed for clip %d", req.ClipIndex)
	}
	return VisualFrame{ImageData: []byte("png"), Width: 1280, Height: 720}, nil
}

// fakeEncoder records calls instead of shelling out.
type fakeEncoder struct {
	duration      float64
	stillCalls    []StillClipOptions
	fallbackCalls []FallbackClipOptions
	concatCalls   [][]string
	concatErr     error
}

func (f *fakeEncoder) ProbeDuration(_ context.Context, _ string) (float64, error) {
	return f.duration, nil
}

func (f *fakeEncoder) RenderStillClip(_ context.Context, opts StillClipOptions) error {
	f.stillCalls = append(f.stillCalls, opts)
	return nil
}

func (f *fakeEncoder) RenderFallbackClip(_ context.Context, opts FallbackClipOptions) error {
	f.fallbackCalls = append(f.fallbackCalls, opts)
	return nil
}

func (f *fakeEncoder) ConcatWithAudio(_ context.Context, clipPaths []string, _, _ string) error {
	f.concatCalls = append(f.concatCalls, clipPaths)
	return f.concatErr
}

type fakeObjects struct {
	uploads []string
	removed []string
}

func (f *fakeObjects) UploadFile(_ context.Context, _, objectName, _ string) (string, error) {
	f.uploads = append(f.uploads, objectName)
	return "http://objects.local/" + objectName, nil
}

func (f *fakeObjects) Remove(_ context.Context, objectName string) error {
	f.removed = append(f.removed, objectName)
	return nil
}
