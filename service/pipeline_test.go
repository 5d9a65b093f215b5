package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"TrackToVideo-server/models"
)

type pipelineEnv struct {
	store    *fakeStore
	provider *fakeProvider
	encoder  *fakeEncoder
	objects  *fakeObjects
	pipeline *Pipeline
}

func newPipelineEnv(t *testing.T) *pipelineEnv {
	t.Helper()
	uploads := t.TempDir()
	output := t.TempDir()

	store := newFakeStore()
	provider := &fakeProvider{
		analysis: AnalysisResult{
			Mood:         "dreamy",
			Energy:       "medium",
			VisualPrompt: "slow drifting nebulae in violet and teal",
			Sections: []Section{
				{Name: "intro", StartPercent: 0, EndPercent: 20, VisualHint: "soft fade-in"},
				{Name: "chorus", StartPercent: 20, EndPercent: 100, VisualHint: "pulsing light"},
			},
		},
		failFrames: map[int]bool{},
	}
	encoder := &fakeEncoder{duration: 30}
	objects := &fakeObjects{}

	return &pipelineEnv{
		store:    store,
		provider: provider,
		encoder:  encoder,
		objects:  objects,
		pipeline: NewPipeline(store, provider, encoder, objects, uploads, output),
	}
}

func (e *pipelineEnv) seedProject(t *testing.T, status, quality string, duration int) *models.Project {
	t.Helper()
	p := &models.Project{
		ID:               "p1",
		Title:            "Test Track",
		OriginalAudioUrl: "track.mp3",
		AudioFilename:    "track.mp3",
		AudioHash:        "deadbeef",
		Status:           status,
		Quality:          quality,
		Duration:         duration,
		TakeNumber:       1,
		CreatedAt:        time.Now(),
	}
	if err := e.store.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	audioPath := filepath.Join(e.pipeline.uploadsDir, p.OriginalAudioUrl)
	if err := os.WriteFile(audioPath, []byte("fake audio"), 0o644); err != nil {
		t.Fatalf("seed audio file: %v", err)
	}
	return p
}

func TestPipelineRunCompletes(t *testing.T) {
	env := newPipelineEnv(t)
	env.seedProject(t, models.StatusPending, models.QualityFast, 30)

	env.pipeline.Run(context.Background(), "p1", "audio/mpeg")

	p, err := env.store.GetProject(context.Background(), "p1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want %s", p.Status, models.StatusCompleted)
	}
	if p.Progress != 100 {
		t.Errorf("progress = %d, want 100", p.Progress)
	}
	if p.OutputVideoUrl == "" {
		t.Error("completed project has empty outputVideoUrl")
	}
	if p.TotalClips != 6 || p.GeneratedClips != 6 {
		t.Errorf("clips = %d/%d, want 6/6", p.GeneratedClips, p.TotalClips)
	}
	if p.Mood != "dreamy" {
		t.Errorf("mood = %q, want %q", p.Mood, "dreamy")
	}

	clips, _ := env.store.GetClips(context.Background(), "p1")
	if len(clips) != 6 {
		t.Fatalf("clip count = %d, want 6", len(clips))
	}
	for i, c := range clips {
		if c.SequenceOrder != i {
			t.Errorf("clip %d sequenceOrder = %d", i, c.SequenceOrder)
		}
		if c.Status != models.ClipStatusGenerated {
			t.Errorf("clip %d status = %s", i, c.Status)
		}
		if c.Duration != 5 {
			t.Errorf("clip %d duration = %d, want 5", i, c.Duration)
		}
		if c.PromptUsed == models.FallbackPrompt {
			t.Errorf("clip %d unexpectedly used the fallback prompt", i)
		}
	}
	if len(env.encoder.concatCalls) != 1 || len(env.encoder.concatCalls[0]) != 6 {
		t.Errorf("concat calls = %v, want one call with 6 clips", env.encoder.concatCalls)
	}
	if len(env.objects.uploads) != 1 || env.objects.uploads[0] != FinalObjectName("p1") {
		t.Errorf("object uploads = %v", env.objects.uploads)
	}
}

func TestPipelineProgressIsMonotonic(t *testing.T) {
	env := newPipelineEnv(t)
	env.seedProject(t, models.StatusPending, models.QualityFast, 30)

	env.pipeline.Run(context.Background(), "p1", "audio/mpeg")

	progress := env.store.progressLog["p1"]
	if len(progress) == 0 {
		t.Fatal("no progress updates recorded")
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress decreased: %v", progress)
		}
	}
	if progress[len(progress)-1] != 100 {
		t.Errorf("final progress = %d, want 100", progress[len(progress)-1])
	}
}

func TestPipelineClipFailureFallsBack(t *testing.T) {
	env := newPipelineEnv(t)
	env.provider.failFrames[2] = true
	env.seedProject(t, models.StatusPending, models.QualityFast, 30)

	env.pipeline.Run(context.Background(), "p1", "audio/mpeg")

	p, _ := env.store.GetProject(context.Background(), "p1")
	if p.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want completed despite one clip failure", p.Status)
	}
	if p.GeneratedClips != 6 {
		t.Errorf("generatedClips = %d, want 6", p.GeneratedClips)
	}

	clips, _ := env.store.GetClips(context.Background(), "p1")
	if len(clips) != 6 {
		t.Fatalf("clip count = %d, want 6", len(clips))
	}
	if clips[2].PromptUsed != models.FallbackPrompt {
		t.Errorf("clip 2 promptUsed = %q, want fallback sentinel", clips[2].PromptUsed)
	}
	if clips[1].PromptUsed == models.FallbackPrompt {
		t.Error("clip 1 should not be a fallback")
	}
	if len(env.encoder.fallbackCalls) != 1 {
		t.Fatalf("fallback renders = %d, want 1", len(env.encoder.fallbackCalls))
	}
	if got := env.encoder.fallbackCalls[0].ClipIndex; got != 2 {
		t.Errorf("fallback clip index = %d, want 2", got)
	}
}

func TestPipelineAnalysisFailureFailsRun(t *testing.T) {
	env := newPipelineEnv(t)
	env.provider.analyzeErr = errors.New("provider unreachable")
	env.seedProject(t, models.StatusPending, models.QualityFast, 30)

	env.pipeline.Run(context.Background(), "p1", "audio/mpeg")

	p, _ := env.store.GetProject(context.Background(), "p1")
	if p.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", p.Status)
	}
	if p.OutputVideoUrl != "" {
		t.Error("failed first run should not set outputVideoUrl")
	}
	clips, _ := env.store.GetClips(context.Background(), "p1")
	if len(clips) != 0 {
		t.Errorf("clip count = %d, want 0", len(clips))
	}
}

func TestPipelineFailedRetakeKeepsOldOutput(t *testing.T) {
	env := newPipelineEnv(t)
	p := env.seedProject(t, models.StatusCompleted, models.QualityFast, 30)
	env.store.UpdateProject(context.Background(), p.ID, map[string]interface{}{
		"output_video_url": "http://objects.local/projects/p1/final.mp4",
	})
	env.provider.analyzeErr = errors.New("provider unreachable")

	// The generate entrypoint claims the project before the run starts.
	ok, err := env.store.TransitionProject(context.Background(), p.ID, models.StatusGenerating,
		models.StartSources, map[string]interface{}{"take_number": 2})
	if err != nil || !ok {
		t.Fatalf("claim for retake failed: ok=%v err=%v", ok, err)
	}

	env.pipeline.Run(context.Background(), p.ID, "audio/mpeg")

	got, _ := env.store.GetProject(context.Background(), p.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.OutputVideoUrl == "" {
		t.Error("failed retake cleared the previous take's output url")
	}
}

func TestPipelineRetakeRerunsAnalysisAndClearsClips(t *testing.T) {
	env := newPipelineEnv(t)
	p := env.seedProject(t, models.StatusCompleted, models.QualityFast, 30)
	env.store.CreateClip(context.Background(), &models.Clip{
		ID: "old-clip", ProjectId: p.ID, SequenceOrder: 0,
		PromptUsed: "stale prompt", Status: models.ClipStatusGenerated,
	})

	ok, err := env.store.TransitionProject(context.Background(), p.ID, models.StatusGenerating,
		models.StartSources, map[string]interface{}{
			"take_number": 2, "progress": 0, "generated_clips": 0, "total_clips": 0,
		})
	if err != nil || !ok {
		t.Fatalf("claim for retake failed: ok=%v err=%v", ok, err)
	}

	env.pipeline.Run(context.Background(), p.ID, "audio/mpeg")

	if env.provider.analyzeCalls != 1 {
		t.Errorf("analyze calls = %d, want 1 (retake must re-run analysis)", env.provider.analyzeCalls)
	}
	got, _ := env.store.GetProject(context.Background(), p.ID)
	if got.TakeNumber != 2 {
		t.Errorf("takeNumber = %d, want 2", got.TakeNumber)
	}
	clips, _ := env.store.GetClips(context.Background(), p.ID)
	if len(clips) != 6 {
		t.Fatalf("clip count = %d, want 6 fresh clips", len(clips))
	}
	for _, c := range clips {
		if c.ID == "old-clip" {
			t.Error("stale clip survived the retake")
		}
	}
}

func TestPipelineRunBacksOffWhenNotStartable(t *testing.T) {
	env := newPipelineEnv(t)
	env.seedProject(t, models.StatusRendering, models.QualityFast, 30)

	env.pipeline.Run(context.Background(), "p1", "audio/mpeg")

	p, _ := env.store.GetProject(context.Background(), "p1")
	if p.Status != models.StatusRendering {
		t.Fatalf("status = %s, want rendering untouched by the losing run", p.Status)
	}
}

func TestPipelineRenderWithoutClipsFails(t *testing.T) {
	env := newPipelineEnv(t)
	env.seedProject(t, models.StatusReadyToRender, models.QualityFast, 30)

	env.pipeline.Render(context.Background(), "p1")

	p, _ := env.store.GetProject(context.Background(), "p1")
	if p.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed when there is nothing to assemble", p.Status)
	}
}

func TestPipelineEncoderFailureDuringAssembly(t *testing.T) {
	env := newPipelineEnv(t)
	env.encoder.concatErr = errors.New("mux failed")
	env.seedProject(t, models.StatusPending, models.QualityFast, 30)

	env.pipeline.Run(context.Background(), "p1", "audio/mpeg")

	p, _ := env.store.GetProject(context.Background(), "p1")
	if p.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", p.Status)
	}
	if p.OutputVideoUrl != "" {
		t.Error("failed assembly must not publish an output url")
	}
}

func TestClipPlanFor(t *testing.T) {
	tests := []struct {
		name         string
		quality      string
		duration     int
		wantTotal    int
		wantDuration int
		wantWidth    int
	}{
		{"fast 30s", models.QualityFast, 30, 6, 5, 1280},
		{"high 30s", models.QualityHigh, 30, 8, 4, 1920},
		{"fast 31s rounds up", models.QualityFast, 31, 7, 5, 1280},
		{"unknown duration defaults to 30s", models.QualityFast, 0, 6, 5, 1280},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plan := clipPlanFor(tc.quality, tc.duration)
			if plan.TotalClips != tc.wantTotal {
				t.Errorf("totalClips = %d, want %d", plan.TotalClips, tc.wantTotal)
			}
			if plan.ClipDuration != tc.wantDuration {
				t.Errorf("clipDuration = %d, want %d", plan.ClipDuration, tc.wantDuration)
			}
			if plan.Width != tc.wantWidth {
				t.Errorf("width = %d, want %d", plan.Width, tc.wantWidth)
			}
		})
	}
}

func TestSectionHintFor(t *testing.T) {
	sections := []Section{
		{Name: "intro", StartPercent: 0, EndPercent: 10, VisualHint: "fade in"},
		{Name: "verse", StartPercent: 10, EndPercent: 50},
		{Name: "outro", StartPercent: 90},
	}
	tests := []struct {
		name     string
		position float64
		want     string
	}{
		{"start hits intro hint", 0, "fade in"},
		{"falls back to section name without hint", 0.3, "verse"},
		{"open-ended span runs to the end", 0.95, "outro"},
		{"gap between sections yields nothing", 0.7, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := sectionHintFor(sections, tc.position); got != tc.want {
				t.Errorf("sectionHintFor(%v) = %q, want %q", tc.position, got, tc.want)
			}
		})
	}
}

func TestBuildClipPrompt(t *testing.T) {
	analysis := AnalysisResult{Mood: "dark", Energy: "high"}

	withHint := buildClipPrompt("neon city", "strobing alleys", analysis, 1, 4, 0.25)
	if want := "neon city. Current section: strobing alleys. Clip 2 of 4. dark mood, high energy."; withHint != want {
		t.Errorf("with hint = %q, want %q", withHint, want)
	}

	withoutHint := buildClipPrompt("neon city", "", analysis, 2, 4, 0.5)
	if want := "neon city. Clip 3 of 4, position 50% through the song. dark mood."; withoutHint != want {
		t.Errorf("without hint = %q, want %q", withoutHint, want)
	}

	noEnergy := buildClipPrompt("neon city", "hint", AnalysisResult{Mood: "calm"}, 0, 2, 0)
	if want := "neon city. Current section: hint. Clip 1 of 2. calm mood, medium energy."; noEnergy != want {
		t.Errorf("default energy = %q, want %q", noEnergy, want)
	}
}
