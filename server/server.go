// Package server exposes the show-and-tell service over REST and
// websockets: teach session control, recording and plan storage, plan
// synthesis, and live run streams.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	showandtell "github.com/jianyangg/show-and-tell"
	"github.com/jianyangg/show-and-tell/browser"
	"github.com/jianyangg/show-and-tell/plan"
	"github.com/jianyangg/show-and-tell/store"
)

// Server routes HTTP traffic to the service.
type Server struct {
	svc    *showandtell.Service
	engine *gin.Engine
}

// New builds the router. The permissive CORS policy exists for the
// operator frontend, which is served from its own dev origin.
func New(svc *showandtell.Service) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	s := &Server{svc: svc, engine: engine}
	s.routes()
	return s
}

// Handler returns the root HTTP handler, used directly by tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on the configured address until the listener fails.
func (s *Server) Run() error {
	return s.engine.Run(s.svc.Config().Addr)
}

func (s *Server) routes() {
	s.engine.POST("/teach/start", s.teachStart)
	s.engine.POST("/teach/stop", s.teachStop)
	s.engine.GET("/teach/status", s.teachStatus)
	s.engine.POST("/teach/marker", s.teachMarker)
	s.engine.GET("/ws/teach/:teachId", s.teachSocket)

	s.engine.POST("/recordings/start", s.recordingStart)
	s.engine.POST("/recordings/:id/keystrokes", s.recordingKeystrokes)
	s.engine.POST("/recordings/:id/stop", s.recordingStop)
	s.engine.GET("/recordings/:id/bundle", s.recordingBundle)
	s.engine.DELETE("/recordings/:id/audio", s.recordingDeleteAudio)
	s.engine.GET("/recordings", s.recordingList)

	s.engine.POST("/plans/synthesize", s.planSynthesize)
	s.engine.GET("/plans", s.planList)
	s.engine.GET("/plans/:id", s.planGet)
	s.engine.POST("/plans/:id/save", s.planSave)

	s.engine.POST("/runs/start", s.runStart)
	s.engine.POST("/runs/:id/abort", s.runAbort)
	s.engine.POST("/runs/:id/capture", s.runCapture)
	s.engine.GET("/ws/runs/:runId", s.runSocket)
}

func notFound(c *gin.Context, what string) {
	c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
}

// --- teach ---

type teachStartRequest struct {
	Title    string `json:"title"`
	StartURL string `json:"startUrl"`
}

func (s *Server) teachStart(c *gin.Context) {
	var req teachStartRequest
	_ = c.ShouldBindJSON(&req)

	session, rec, err := s.svc.StartTeach(c.Request.Context(), req.Title, req.StartURL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"teachId":     session.ID,
		"recordingId": rec.RecordingID,
		"viewport": gin.H{
			"width":  browser.RunnerViewport.Width,
			"height": browser.RunnerViewport.Height,
		},
		"thumbnail": nil,
	})
}

type teachStopRequest struct {
	TeachID        string `json:"teachId"`
	AudioWavBase64 string `json:"audioWavBase64"`
	Transcript     string `json:"transcript"`
}

func (s *Server) teachStop(c *gin.Context) {
	var req teachStopRequest
	_ = c.ShouldBindJSON(&req)

	rec, err := s.svc.StopTeach(c.Request.Context(), req.TeachID, req.AudioWavBase64, req.Transcript)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var frames, markers, events int
	if rec.Bundle != nil {
		frames = len(rec.Bundle.Frames)
		markers = len(rec.Bundle.Markers)
		events = len(rec.Bundle.Events)
	}
	c.JSON(http.StatusOK, gin.H{
		"recordingId": rec.RecordingID,
		"frames":      frames,
		"markers":     markers,
		"events":      events,
		"hasAudio":    rec.Bundle != nil && rec.Bundle.AudioWavBase64 != "",
	})
}

func (s *Server) teachStatus(c *gin.Context) {
	session := s.svc.Teach.Active()
	if session == nil {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"active":      true,
		"teachId":     session.ID,
		"recordingId": session.RecordingID,
		"events":      session.EventCount(),
	})
}

type teachMarkerRequest struct {
	Label string `json:"label"`
}

func (s *Server) teachMarker(c *gin.Context) {
	var req teachMarkerRequest
	_ = c.ShouldBindJSON(&req)

	session := s.svc.Teach.Active()
	if session == nil {
		notFound(c, "teach session")
		return
	}
	session.AddMarker(req.Label)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// --- recordings ---

type recordingStartRequest struct {
	Title string `json:"title"`
}

func (s *Server) recordingStart(c *gin.Context) {
	var req recordingStartRequest
	_ = c.ShouldBindJSON(&req)

	rec := s.svc.Recordings.Start(req.Title, "", "")
	c.JSON(http.StatusOK, gin.H{
		"recordingId": rec.RecordingID,
		"title":       rec.Title,
		"status":      rec.Status,
		"createdAt":   rec.CreatedAt.UTC().Format(time.RFC3339),
	})
}

type keystrokesRequest struct {
	Events []plan.RecordingEvent `json:"events"`
}

func (s *Server) recordingKeystrokes(c *gin.Context) {
	var req keystrokesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed events payload"})
		return
	}
	if err := s.svc.Recordings.AppendEvents(c.Param("id"), req.Events); err != nil {
		notFound(c, "recording")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": len(req.Events)})
}

type recordingStopRequest struct {
	StartURL       string                 `json:"startUrl"`
	Frames         []plan.RecordingFrame  `json:"frames"`
	Markers        []plan.RecordingMarker `json:"markers"`
	AudioWavBase64 string                 `json:"audioWavBase64"`
	Transcript     string                 `json:"transcript"`
}

// recordingStop finalizes a recording whose frames and events were
// captured by the client rather than a live teach session.
func (s *Server) recordingStop(c *gin.Context) {
	var req recordingStopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed bundle payload"})
		return
	}

	recordingID := c.Param("id")
	rec, err := s.svc.Recordings.Get(recordingID)
	if err != nil {
		notFound(c, "recording")
		return
	}

	bundle := plan.RecordingBundle{
		RecordingID:    recordingID,
		StartURL:       req.StartURL,
		Frames:         req.Frames,
		Events:         rec.Events,
		Markers:        req.Markers,
		AudioWavBase64: req.AudioWavBase64,
		Transcript:     req.Transcript,
	}
	rec, err = s.svc.Recordings.Complete(recordingID, bundle)
	if err != nil {
		notFound(c, "recording")
		return
	}
	c.JSON(http.StatusOK, recordingDetail(rec))
}

func recordingDetail(rec store.StoredRecording) gin.H {
	detail := gin.H{
		"recordingId": rec.RecordingID,
		"title":       rec.Title,
		"status":      rec.Status,
		"startUrl":    rec.StartURL,
		"createdAt":   rec.CreatedAt.UTC().Format(time.RFC3339),
	}
	if rec.Bundle != nil {
		detail["frames"] = len(rec.Bundle.Frames)
		detail["markers"] = len(rec.Bundle.Markers)
		detail["events"] = len(rec.Bundle.Events)
		detail["hasAudio"] = rec.Bundle.AudioWavBase64 != ""
		detail["hasTranscript"] = rec.Bundle.Transcript != ""
	}
	return detail
}

func (s *Server) recordingBundle(c *gin.Context) {
	rec, err := s.svc.Recordings.Get(c.Param("id"))
	if err != nil {
		notFound(c, "recording")
		return
	}
	detail := recordingDetail(rec)
	detail["bundle"] = rec.Bundle
	c.JSON(http.StatusOK, detail)
}

func (s *Server) recordingDeleteAudio(c *gin.Context) {
	preserved, err := s.svc.Recordings.StripAudio(c.Param("id"))
	if err != nil {
		notFound(c, "recording")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "transcript_preserved": preserved})
}

func (s *Server) recordingList(c *gin.Context) {
	recordings := s.svc.Recordings.List()
	out := make([]gin.H, 0, len(recordings))
	for _, rec := range recordings {
		out = append(out, recordingDetail(rec))
	}
	c.JSON(http.StatusOK, gin.H{"recordings": out})
}

// --- plans ---

type synthesizeRequest struct {
	RecordingID string `json:"recordingId"`
	PlanName    string `json:"planName"`
}

func (s *Server) planSynthesize(c *gin.Context) {
	var req synthesizeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RecordingID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recordingId is required"})
		return
	}

	stored, err := s.svc.SynthesizePlan(c.Request.Context(), req.RecordingID, req.PlanName)
	switch {
	case errors.Is(err, store.ErrNotFound):
		notFound(c, "recording")
		return
	case errors.Is(err, showandtell.ErrNoFrames):
		c.JSON(http.StatusBadRequest, gin.H{"error": "recording has no frames to synthesize from"})
		return
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, planDetail(stored, true))
}

func planDetail(stored store.StoredPlan, debug bool) gin.H {
	detail := gin.H{
		"planId":       stored.PlanID,
		"recordingId":  stored.RecordingID,
		"name":         stored.Plan.Name,
		"plan":         stored.Plan,
		"hasVariables": stored.HasVariables,
		"createdAt":    stored.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":    stored.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if debug {
		detail["prompt"] = stored.Prompt
		detail["rawResponse"] = stored.RawResponse
	}
	return detail
}

func (s *Server) planList(c *gin.Context) {
	summaries := s.svc.Plans.List()
	out := make([]gin.H, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, gin.H{
			"planId":       summary.PlanID,
			"recordingId":  summary.RecordingID,
			"name":         summary.Name,
			"hasVariables": summary.HasVariables,
			"updatedAt":    summary.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"plans": out})
}

func (s *Server) planGet(c *gin.Context) {
	stored, err := s.svc.Plans.Get(c.Param("id"))
	if err != nil {
		notFound(c, "plan")
		return
	}
	c.JSON(http.StatusOK, planDetail(stored, false))
}

type planSaveRequest struct {
	Name string     `json:"name"`
	Plan *plan.Plan `json:"plan"`
}

func (s *Server) planSave(c *gin.Context) {
	var req planSaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed plan payload"})
		return
	}
	stored, err := s.svc.Plans.Update(c.Param("id"), req.Name, req.Plan)
	if err != nil {
		notFound(c, "plan")
		return
	}
	c.JSON(http.StatusOK, planDetail(stored, false))
}

// --- runs ---

type runStartRequest struct {
	PlanID    string         `json:"planId"`
	StartURL  string         `json:"startUrl"`
	Variables map[string]any `json:"variables"`
}

func (s *Server) runStart(c *gin.Context) {
	var req runStartRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PlanID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "planId is required"})
		return
	}

	run, err := s.svc.StartRun(req.PlanID, req.StartURL, req.Variables)
	var missing *showandtell.MissingVariablesError
	switch {
	case errors.Is(err, store.ErrNotFound):
		notFound(c, "plan")
		return
	case errors.As(err, &missing):
		c.JSON(http.StatusBadRequest, gin.H{"error": missing.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runId": run.ID})
}

func (s *Server) runAbort(c *gin.Context) {
	runID := c.Param("id")
	if !s.svc.AbortRun(runID) {
		notFound(c, "run")
		return
	}
	c.JSON(http.StatusOK, gin.H{"runId": runID, "status": "aborting"})
}

func (s *Server) runCapture(c *gin.Context) {
	frame, ok := s.svc.LatestFrame(c.Param("id"))
	if !ok {
		notFound(c, "run")
		return
	}
	if frame == nil {
		c.JSON(http.StatusOK, gin.H{"ok": false, "message": "No screenshot available yet..."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "frame": frame})
}
