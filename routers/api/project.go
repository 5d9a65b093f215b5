package api

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"TrackToVideo-server/models"
	"TrackToVideo-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handler carries the collaborators the HTTP layer needs. Everything is
// injected; there are no package-level singletons.
type Handler struct {
	Store      models.Store
	Queue      service.Enqueuer
	Encoder    service.Encoder
	Objects    service.ObjectStore
	UploadsDir string
	OutputDir  string
}

func NewHandler(store models.Store, queue service.Enqueuer, encoder service.Encoder, objects service.ObjectStore, uploadsDir, outputDir string) *Handler {
	return &Handler{
		Store:      store,
		Queue:      queue,
		Encoder:    encoder,
		Objects:    objects,
		UploadsDir: uploadsDir,
		OutputDir:  outputDir,
	}
}

var mimeByExt = map[string]string{
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
	".m4a": "audio/mp4",
}

func mimeForExt(ext string) string {
	if m, ok := mimeByExt[strings.ToLower(ext)]; ok {
		return m
	}
	return "audio/mpeg"
}

// CreateProject accepts the multipart upload, runs the deduplication gate
// and kicks off the full pipeline in the background.
func (h *Handler) CreateProject(c *gin.Context) {
	file, err := c.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no audio file uploaded"})
		return
	}

	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		title = "Untitled Project"
	}
	prompt := strings.TrimSpace(c.PostForm("prompt"))
	quality := models.QualityFast
	if strings.TrimSpace(c.PostForm("quality")) == models.QualityHigh {
		quality = models.QualityHigh
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read upload: " + err.Error()})
		return
	}
	audioData, err := io.ReadAll(src)
	src.Close()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read upload: " + err.Error()})
		return
	}

	sum := sha256.Sum256(audioData)
	audioHash := hex.EncodeToString(sum[:])

	// Deduplication gate: byte-identical re-uploads resolve to the existing
	// project instead of starting redundant generation work.
	existing, err := h.Store.GetProjectByAudioHash(c.Request.Context(), audioHash)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash lookup failed: " + err.Error()})
		return
	}
	if existing != nil {
		c.JSON(http.StatusOK, duplicateResponse(existing))
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	storedName := uuid.NewString() + ext
	audioPath := filepath.Join(h.UploadsDir, storedName)
	if err := os.WriteFile(audioPath, audioData, 0o644); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store upload: " + err.Error()})
		return
	}

	duration := 0
	if probed, err := h.Encoder.ProbeDuration(c.Request.Context(), audioPath); err != nil {
		log.Printf("audio probe failed for %s: %v", storedName, err)
	} else {
		duration = int(math.Round(probed))
	}

	project := &models.Project{
		ID:               uuid.NewString(),
		Title:            title,
		Prompt:           prompt,
		OriginalAudioUrl: storedName,
		AudioFilename:    file.Filename,
		AudioHash:        audioHash,
		Status:           models.StatusPending,
		Quality:          quality,
		Duration:         duration,
		BPM:              120,
		TakeNumber:       1,
		CreatedAt:        time.Now(),
	}
	if err := h.Store.CreateProject(c.Request.Context(), project); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create project: " + err.Error()})
		return
	}

	mimeType := file.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = mimeForExt(ext)
	}
	if err := h.Queue.EnqueueGenerate(project.ID, mimeType); err != nil {
		log.Printf("enqueue generate for project %s failed: %v", project.ID, err)
	}

	c.JSON(http.StatusCreated, project)
}

func duplicateResponse(p *models.Project) gin.H {
	return gin.H{
		"project":   p,
		"duplicate": true,
	}
}

func (h *Handler) ListProjects(c *gin.Context) {
	projects, err := h.Store.ListProjects(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list projects: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, projects)
}

func (h *Handler) GetProject(c *gin.Context) {
	projectID := c.Param("project_id")
	project, err := h.Store.GetProject(c.Request.Context(), projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		return
	}
	clips, err := h.Store.GetClips(c.Request.Context(), projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load clips: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"project": project,
		"clips":   clips,
	})
}

// StartGeneration begins a new take. The status compare-and-swap is the
// only admission control: if the project sits in any active state the swap
// loses and the caller gets a conflict, with nothing mutated.
func (h *Handler) StartGeneration(c *gin.Context) {
	projectID := c.Param("project_id")
	project, err := h.Store.GetProject(c.Request.Context(), projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		return
	}

	ok, err := h.Store.TransitionProject(c.Request.Context(), projectID, models.StatusGenerating,
		models.StartSources,
		map[string]interface{}{
			"progress":        0,
			"generated_clips": 0,
			"total_clips":     0,
			"take_number":     project.TakeNumber + 1,
		})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "start generation: " + err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "project is already being processed"})
		return
	}

	mimeType := mimeForExt(filepath.Ext(project.AudioFilename))
	if err := h.Queue.EnqueueGenerate(projectID, mimeType); err != nil {
		log.Printf("enqueue generate for project %s failed: %v", projectID, err)
	}

	c.JSON(http.StatusOK, gin.H{"message": "generation started", "projectId": projectID})
}

// StartRender re-triggers just the assembly stage on a project sitting in
// ready_to_render.
func (h *Handler) StartRender(c *gin.Context) {
	projectID := c.Param("project_id")
	if _, err := h.Store.GetProject(c.Request.Context(), projectID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		return
	}

	ok, err := h.Store.TransitionProject(c.Request.Context(), projectID, models.StatusRendering,
		[]string{models.StatusReadyToRender},
		map[string]interface{}{"progress": 92})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "start render: " + err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "project is not ready to render"})
		return
	}

	if err := h.Queue.EnqueueRender(projectID); err != nil {
		log.Printf("enqueue render for project %s failed: %v", projectID, err)
	}

	c.JSON(http.StatusOK, gin.H{"message": "rendering started", "projectId": projectID})
}

// DeleteProject removes the project, its clips and every media artifact:
// segment files, the final video object and the original audio.
func (h *Handler) DeleteProject(c *gin.Context) {
	projectID := c.Param("project_id")
	project, err := h.Store.GetProject(c.Request.Context(), projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		return
	}

	clips, err := h.Store.GetClips(c.Request.Context(), projectID)
	if err == nil {
		for _, clip := range clips {
			clipPath := filepath.Join(h.OutputDir, filepath.Base(clip.Url))
			if err := os.Remove(clipPath); err != nil && !os.IsNotExist(err) {
				log.Printf("remove clip file %s: %v", clipPath, err)
			}
		}
	}
	if project.OutputVideoUrl != "" {
		if err := h.Objects.Remove(c.Request.Context(), service.FinalObjectName(projectID)); err != nil {
			log.Printf("remove final video object for project %s: %v", projectID, err)
		}
	}
	if project.OriginalAudioUrl != "" {
		audioPath := filepath.Join(h.UploadsDir, project.OriginalAudioUrl)
		if err := os.Remove(audioPath); err != nil && !os.IsNotExist(err) {
			log.Printf("remove audio file %s: %v", audioPath, err)
		}
	}

	if err := h.Store.DeleteClips(c.Request.Context(), projectID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete clips: " + err.Error()})
		return
	}
	if err := h.Store.DeleteProject(c.Request.Context(), projectID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete project: " + err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}
