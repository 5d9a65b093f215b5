package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"TrackToVideo-server/models"

	"github.com/google/uuid"
)

// errNotStartable means the status compare-and-swap lost: another run owns
// the project. The loser must back off without touching the project's state.
var errNotStartable = errors.New("project is not in a startable state")

// Progress checkpoints. Exact values are hand-tuned stage weights; only the
// ordering is load-bearing: progress never decreases within a run.
const (
	progressAnalysisStart = 5
	progressAnalysisDone  = 10
	progressClipsDone     = 90
	progressRenderStart   = 92
	progressRenderMux     = 95
	progressComplete      = 100
)

const (
	fastClipDuration = 5
	highClipDuration = 4
	fastCRF          = 23
	highCRF          = 18

	defaultTrackDuration = 30
)

type clipPlan struct {
	TotalClips   int
	ClipDuration int
	Width        int
	Height       int
	CRF          int
}

// clipPlanFor derives segment count and encode settings from the quality
// mode: high quality means shorter segments at full HD.
func clipPlanFor(quality string, duration int) clipPlan {
	if duration <= 0 {
		duration = defaultTrackDuration
	}
	if quality == models.QualityHigh {
		return clipPlan{
			TotalClips:   ceilDiv(duration, highClipDuration),
			ClipDuration: highClipDuration,
			Width:        1920,
			Height:       1080,
			CRF:          highCRF,
		}
	}
	return clipPlan{
		TotalClips:   ceilDiv(duration, fastClipDuration),
		ClipDuration: fastClipDuration,
		Width:        1280,
		Height:       720,
		CRF:          fastCRF,
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Pipeline drives a project through analysis, per-segment generation and
// final assembly. One Run owns the project's status row for its duration;
// different projects' runs are independent.
type Pipeline struct {
	store      models.Store
	provider   VisualProvider
	encoder    Encoder
	objects    ObjectStore
	uploadsDir string
	outputDir  string
}

func NewPipeline(store models.Store, provider VisualProvider, encoder Encoder, objects ObjectStore, uploadsDir, outputDir string) *Pipeline {
	return &Pipeline{
		store:      store,
		provider:   provider,
		encoder:    encoder,
		objects:    objects,
		uploadsDir: uploadsDir,
		outputDir:  outputDir,
	}
}

// FinalObjectName is the deterministic object-store key for a project's
// final video, so delete can clean it up without tracking extra state.
func FinalObjectName(projectID string) string {
	return fmt.Sprintf("projects/%s/final.mp4", projectID)
}

// Run executes the full pipeline: analysis, clip generation, then assembly.
// Business failures mark the project failed; they are not returned so the
// queue does not retry a run the user must restart explicitly.
func (p *Pipeline) Run(ctx context.Context, projectID, mimeType string) {
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		log.Printf("[pipeline] project %s not found: %v", projectID, err)
		return
	}

	if err := p.generateClips(ctx, project, mimeType); err != nil {
		log.Printf("[pipeline] generation failed for project %s: %v", projectID, err)
		if !errors.Is(err, errNotStartable) {
			p.fail(ctx, projectID)
		}
		return
	}

	project, err = p.store.GetProject(ctx, projectID)
	if err != nil || project.Status != models.StatusReadyToRender {
		return
	}
	if err := p.renderFinal(ctx, project); err != nil {
		log.Printf("[pipeline] render failed for project %s: %v", projectID, err)
		p.fail(ctx, projectID)
	}
}

// Render runs only the assembly stage, for projects already sitting in
// ready_to_render (or claimed into rendering by the render entrypoint).
func (p *Pipeline) Render(ctx context.Context, projectID string) {
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		log.Printf("[pipeline] project %s not found: %v", projectID, err)
		return
	}
	if err := p.renderFinal(ctx, project); err != nil {
		log.Printf("[pipeline] render failed for project %s: %v", projectID, err)
		if !errors.Is(err, errNotStartable) {
			p.fail(ctx, projectID)
		}
	}
}

func (p *Pipeline) generateClips(ctx context.Context, project *models.Project, mimeType string) error {
	ok, err := p.store.TransitionProject(ctx, project.ID, models.StatusAnalyzing,
		[]string{models.StatusPending, models.StatusGenerating},
		map[string]interface{}{"progress": progressAnalysisStart})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("project %s: %w", project.ID, errNotStartable)
	}

	audioPath := filepath.Join(p.uploadsDir, project.OriginalAudioUrl)
	audioData, err := os.ReadFile(audioPath)
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}

	userPrompt := strings.TrimSpace(project.Prompt)
	analysis, err := p.provider.AnalyzeAudio(ctx, AnalyzeRequest{
		AudioData:  audioData,
		MimeType:   mimeType,
		UserPrompt: userPrompt,
	})
	if err != nil {
		return fmt.Errorf("audio analysis: %w", err)
	}

	finalPrompt := analysis.VisualPrompt
	if finalPrompt == "" {
		finalPrompt = userPrompt
	}
	if finalPrompt == "" {
		finalPrompt = DefaultVisualPrompt
	}

	ok, err = p.store.TransitionProject(ctx, project.ID, models.StatusGenerating,
		[]string{models.StatusAnalyzing},
		map[string]interface{}{
			"prompt":   finalPrompt,
			"lyrics":   analysis.Transcription,
			"mood":     analysis.Mood,
			"progress": progressAnalysisDone,
		})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("project %s left analyzing unexpectedly", project.ID)
	}
	log.Printf("[%s] analysis complete for project %s. Mood: %s. Auto-style: %v",
		p.provider.Name(), project.ID, analysis.Mood, userPrompt == "")

	plan := clipPlanFor(project.Quality, project.Duration)
	if err := p.store.UpdateProject(ctx, project.ID, map[string]interface{}{"total_clips": plan.TotalClips}); err != nil {
		return err
	}
	// A fresh take starts from a clean slate; whatever clips a previous run
	// left behind are cleared here, not on failure.
	if err := p.store.DeleteClips(ctx, project.ID); err != nil {
		return fmt.Errorf("clear clips: %w", err)
	}

	for i := 0; i < plan.TotalClips; i++ {
		position := float64(i) / float64(plan.TotalClips)
		hint := sectionHintFor(analysis.Sections, position)
		clipPrompt := buildClipPrompt(finalPrompt, hint, analysis, i, plan.TotalClips, position)

		videoName := fmt.Sprintf("clip_%s_%d_%s.mp4", project.ID, i, uuid.NewString())
		videoPath := filepath.Join(p.outputDir, videoName)

		promptUsed := clipPrompt
		if err := p.renderClip(ctx, project.ID, plan, clipPrompt, hint, analysis, i, videoPath); err != nil {
			// One segment's failure never fails the run: render a
			// deterministic placeholder and keep going.
			log.Printf("[pipeline] clip %d/%d failed for project %s, using fallback: %v",
				i+1, plan.TotalClips, project.ID, err)
			if err := p.encoder.RenderFallbackClip(ctx, FallbackClipOptions{
				OutputPath: videoPath,
				Duration:   plan.ClipDuration,
				Width:      plan.Width,
				Height:     plan.Height,
				ClipIndex:  i,
				TotalClips: plan.TotalClips,
			}); err != nil {
				return fmt.Errorf("fallback clip %d: %w", i, err)
			}
			promptUsed = models.FallbackPrompt
		}

		clip := &models.Clip{
			ID:            uuid.NewString(),
			ProjectId:     project.ID,
			Url:           "/generated/" + videoName,
			PromptUsed:    promptUsed,
			Duration:      plan.ClipDuration,
			SequenceOrder: i,
			Status:        models.ClipStatusGenerated,
			CreatedAt:     time.Now(),
		}
		if err := p.store.CreateClip(ctx, clip); err != nil {
			return fmt.Errorf("persist clip %d: %w", i, err)
		}

		progress := progressAnalysisDone + int(math.Round(80*position))
		if err := p.store.UpdateProject(ctx, project.ID, map[string]interface{}{
			"progress":        progress,
			"generated_clips": i + 1,
		}); err != nil {
			return err
		}
		log.Printf("clip %d/%d generated for project %s", i+1, plan.TotalClips, project.ID)
	}

	ok, err = p.store.TransitionProject(ctx, project.ID, models.StatusReadyToRender,
		[]string{models.StatusGenerating},
		map[string]interface{}{"progress": progressClipsDone})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("project %s left generating unexpectedly", project.ID)
	}
	return nil
}

func (p *Pipeline) renderClip(ctx context.Context, projectID string, plan clipPlan, prompt, hint string, analysis AnalysisResult, index int, videoPath string) error {
	frame, err := p.provider.GenerateFrame(ctx, FrameRequest{
		Prompt:      prompt,
		ClipIndex:   index,
		TotalClips:  plan.TotalClips,
		Mood:        analysis.Mood,
		Energy:      analysis.Energy,
		Quality:     qualityForCRF(plan.CRF),
		SectionHint: hint,
	})
	if err != nil {
		return err
	}

	imagePath := filepath.Join(p.outputDir, fmt.Sprintf("image_%s_%d_%s.png", projectID, index, uuid.NewString()))
	if err := os.WriteFile(imagePath, frame.ImageData, 0o644); err != nil {
		return fmt.Errorf("write frame image: %w", err)
	}
	defer os.Remove(imagePath)

	return p.encoder.RenderStillClip(ctx, StillClipOptions{
		ImagePath:  imagePath,
		OutputPath: videoPath,
		Duration:   plan.ClipDuration,
		Width:      frame.Width,
		Height:     frame.Height,
		CRF:        plan.CRF,
	})
}

func (p *Pipeline) renderFinal(ctx context.Context, project *models.Project) error {
	switch project.Status {
	case models.StatusReadyToRender:
		ok, err := p.store.TransitionProject(ctx, project.ID, models.StatusRendering,
			[]string{models.StatusReadyToRender},
			map[string]interface{}{"progress": progressRenderStart})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("project %s: %w", project.ID, errNotStartable)
		}
	case models.StatusRendering:
		// The render entrypoint already claimed the project.
		if err := p.store.UpdateProject(ctx, project.ID, map[string]interface{}{"progress": progressRenderStart}); err != nil {
			return err
		}
	default:
		return fmt.Errorf("project %s has status %s: %w", project.ID, project.Status, errNotStartable)
	}

	clips, err := p.store.GetClips(ctx, project.ID)
	if err != nil {
		return err
	}
	if len(clips) == 0 {
		return fmt.Errorf("no clips to render for project %s", project.ID)
	}

	clipPaths := make([]string, 0, len(clips))
	for _, c := range clips {
		clipPaths = append(clipPaths, filepath.Join(p.outputDir, filepath.Base(c.Url)))
	}
	audioPath := filepath.Join(p.uploadsDir, project.OriginalAudioUrl)
	outputPath := filepath.Join(p.outputDir, fmt.Sprintf("final_%s_%s.mp4", project.ID, uuid.NewString()))

	log.Printf("[pipeline] rendering project %s from %d clips", project.ID, len(clips))
	if err := p.store.UpdateProject(ctx, project.ID, map[string]interface{}{"progress": progressRenderMux}); err != nil {
		return err
	}

	if err := p.encoder.ConcatWithAudio(ctx, clipPaths, audioPath, outputPath); err != nil {
		return fmt.Errorf("final mux: %w", err)
	}

	videoURL, err := p.objects.UploadFile(ctx, outputPath, FinalObjectName(project.ID), "video/mp4")
	if err != nil {
		return fmt.Errorf("upload final video: %w", err)
	}
	os.Remove(outputPath)

	ok, err := p.store.TransitionProject(ctx, project.ID, models.StatusCompleted,
		[]string{models.StatusRendering},
		map[string]interface{}{
			"output_video_url": videoURL,
			"progress":         progressComplete,
		})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("project %s left rendering unexpectedly", project.ID)
	}
	log.Printf("[pipeline] render complete for project %s", project.ID)
	return nil
}

// fail marks the project failed. A prior take's output URL is left in place;
// only a newly completed run replaces it.
func (p *Pipeline) fail(ctx context.Context, projectID string) {
	_, err := p.store.TransitionProject(ctx, projectID, models.StatusFailed,
		[]string{models.StatusAnalyzing, models.StatusGenerating, models.StatusRendering}, nil)
	if err != nil {
		log.Printf("[pipeline] could not mark project %s failed: %v", projectID, err)
	}
}

// sectionHintFor picks the first section whose span contains the normalized
// position. Spans arrive as percentages; a missing end means "to the end".
func sectionHintFor(sections []Section, position float64) string {
	for _, s := range sections {
		start := s.StartPercent / 100
		end := s.EndPercent / 100
		if s.EndPercent == 0 {
			end = 1
		}
		if position >= start && position <= end {
			if s.VisualHint != "" {
				return s.VisualHint
			}
			return s.Name
		}
	}
	return ""
}

func buildClipPrompt(finalPrompt, hint string, analysis AnalysisResult, index, total int, position float64) string {
	if hint != "" {
		energy := analysis.Energy
		if energy == "" {
			energy = "medium"
		}
		return fmt.Sprintf("%s. Current section: %s. Clip %d of %d. %s mood, %s energy.",
			finalPrompt, hint, index+1, total, analysis.Mood, energy)
	}
	return fmt.Sprintf("%s. Clip %d of %d, position %d%% through the song. %s mood.",
		finalPrompt, index+1, total, int(math.Round(position*100)), analysis.Mood)
}

func qualityForCRF(crf int) string {
	if crf == highCRF {
		return models.QualityHigh
	}
	return models.QualityFast
}
