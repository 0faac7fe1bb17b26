// Package api exposes the precision-landing HTTP surface: settings CRUD,
// enable state, loop start/stop/status, and single-shot connectivity tests
// for the video stream and the vehicle gateway.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/rmackay9/blueos-precision-landing/internal/httputil"
	"github.com/rmackay9/blueos-precision-landing/internal/landing"
	"github.com/rmackay9/blueos-precision-landing/internal/settings"
	"github.com/rmackay9/blueos-precision-landing/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// ServiceName identifies this service to the host.
const ServiceName = "precision-landing"

// SourceFactory builds a fresh frame source. The probe endpoints need their
// own source so they never touch the running loop's pipeline.
type SourceFactory func() landing.FrameSource

type Server struct {
	store      *settings.Store
	loop       *landing.Loop
	monitor    landing.OrientationMonitor
	detector   landing.TagDetector
	newSource  SourceFactory
	probeLimit time.Duration
}

func NewServer(store *settings.Store, loop *landing.Loop, monitor landing.OrientationMonitor, detector landing.TagDetector, newSource SourceFactory) *Server {
	return &Server{
		store:      store,
		loop:       loop,
		monitor:    monitor,
		detector:   detector,
		newSource:  newSource,
		probeLimit: landing.DefaultProbeTimeout,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/register_service", s.registerService)
	mux.HandleFunc("/precision-landing/get-settings", s.getSettings)
	mux.HandleFunc("/precision-landing/save-settings", s.saveSettings)
	mux.HandleFunc("/precision-landing/get-enabled-state", s.getEnabledState)
	mux.HandleFunc("/precision-landing/save-enabled-state", s.saveEnabledState)
	mux.HandleFunc("/precision-landing/status", s.status)
	mux.HandleFunc("/precision-landing/start", s.start)
	mux.HandleFunc("/precision-landing/stop", s.stop)
	mux.HandleFunc("/precision-landing/test", s.testStream)
	mux.HandleFunc("/precision-landing/test-mavlink", s.testMAVLink)
	return mux
}

// registerService describes the service to the host's service discovery.
func (s *Server) registerService(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"name":        "Precision Landing",
		"description": "AprilTag visual guidance for precision landing",
		"icon":        "mdi-quadcopter",
		"company":     "ArduPilot",
		"version":     version.Version,
		"webpage":     "https://github.com/rmackay9/blueos-precision-landing",
		"api":         "/precision-landing",
	})
}

type settingsResponse struct {
	Success  bool                     `json:"success"`
	Settings settings.Settings        `json:"settings"`
	Profiles []settings.CameraProfile `json:"profiles"`
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	st, err := s.store.Get()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to load settings: %v", err))
		return
	}
	profiles, err := s.store.Profiles()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to load camera profiles: %v", err))
		return
	}

	httputil.WriteJSONOK(w, settingsResponse{Success: true, Settings: st, Profiles: profiles})
}

type saveSettingsRequest struct {
	Settings settings.Settings       `json:"settings"`
	Profile  *settings.CameraProfile `json:"profile,omitempty"`
}

func (s *Server) saveSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req saveSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Invalid settings payload: %v", err))
		return
	}

	if req.Profile != nil {
		if req.Profile.CameraType == "" {
			httputil.BadRequest(w, "Camera type is required")
			return
		}
		if req.Profile.HorizontalFOVDeg <= 0 || req.Profile.HorizontalFOVDeg >= 180 {
			httputil.BadRequest(w, "Horizontal FOV must be between 0 and 180 degrees")
			return
		}
		if err := s.store.SaveProfile(*req.Profile); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to save camera profile: %v", err))
			return
		}
	}

	cur, err := s.store.Get()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to load settings: %v", err))
		return
	}
	// The enable flag is owned by save-enabled-state, which also reconciles
	// the running loop; this path must not flip it.
	req.Settings.Enabled = cur.Enabled

	if err := s.store.Save(req.Settings); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to save settings: %v", err))
		return
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"success": true,
		"message": "Settings saved",
	})
}

func (s *Server) getEnabledState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	st, err := s.store.Get()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to load settings: %v", err))
		return
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"success": true,
		"enabled": st.Enabled,
	})
}

type enabledStateRequest struct {
	Enabled bool `json:"enabled"`
}

// saveEnabledState persists the enable flag and reconciles the loop with it:
// enabling starts the loop, disabling stops it.
func (s *Server) saveEnabledState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req enabledStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Invalid payload: %v", err))
		return
	}

	if err := s.store.SetEnabled(req.Enabled); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to save enabled state: %v", err))
		return
	}

	var msg string
	if req.Enabled {
		if err := s.startLoop(); err != nil && err != landing.ErrAlreadyRunning {
			httputil.WriteJSONOK(w, map[string]interface{}{
				"success": false,
				"enabled": true,
				"message": fmt.Sprintf("Enabled, but failed to start: %v", err),
			})
			return
		}
		msg = "Precision landing enabled"
	} else {
		if err := s.loop.Stop(); err != nil && err != landing.ErrNotRunning {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to stop: %v", err))
			return
		}
		msg = "Precision landing disabled"
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"success": true,
		"enabled": req.Enabled,
		"message": msg,
	})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"success": true,
		"state":   s.loop.State().String(),
		"running": s.loop.Running(),
	})
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	profile, err := s.requestedProfile(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	if err := s.loop.Start(*profile); err != nil {
		if err == landing.ErrAlreadyRunning {
			httputil.WriteJSONOK(w, map[string]interface{}{
				"success": false,
				"message": err.Error(),
			})
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("Failed to start: %v", err))
		return
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"success": true,
		"message": "Precision landing started",
	})
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	if err := s.loop.Stop(); err != nil {
		httputil.WriteJSONOK(w, map[string]interface{}{
			"success": false,
			"message": err.Error(),
		})
		return
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"success": true,
		"message": "Precision landing stopped",
	})
}

// streamRequest carries the optional camera overrides a start or test
// request may name.
type streamRequest struct {
	CameraType string `json:"camera_type"`
	StreamURL  string `json:"rtsp"`
}

// startLoop assembles a Profile from the stored settings and launches the
// loop with it.
func (s *Server) startLoop() error {
	profile, err := s.currentProfile()
	if err != nil {
		return err
	}
	return s.loop.Start(*profile)
}

// requestedProfile resolves the camera profile for a start or test request.
// An explicit camera type selects that stored profile and an explicit rtsp
// URL overrides the profile's stream; with neither the stored last-used
// profile applies.
func (s *Server) requestedProfile(r *http.Request) (*landing.Profile, error) {
	camType := r.URL.Query().Get("type")
	streamURL := r.URL.Query().Get("rtsp")
	if camType == "" && streamURL == "" {
		var req streamRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			return nil, fmt.Errorf("invalid request payload: %v", err)
		}
		camType, streamURL = req.CameraType, req.StreamURL
	}

	if camType == "" && streamURL == "" {
		return s.currentProfile()
	}

	st, err := s.store.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	var cam *settings.CameraProfile
	if camType != "" {
		cam, err = s.store.Profile(camType)
		if err != nil {
			return nil, fmt.Errorf("failed to load camera profile: %w", err)
		}
		if cam == nil {
			return nil, fmt.Errorf("unknown camera type %q", camType)
		}
	} else {
		cam, err = s.store.LastUsed()
		if err != nil {
			return nil, fmt.Errorf("failed to load camera profile: %w", err)
		}
		if cam == nil {
			return nil, fmt.Errorf("no camera profile configured")
		}
	}
	if streamURL != "" {
		cam.StreamURL = streamURL
	}

	return assembleProfile(st, cam), nil
}

func (s *Server) currentProfile() (*landing.Profile, error) {
	st, err := s.store.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	cam, err := s.store.LastUsed()
	if err != nil {
		return nil, fmt.Errorf("failed to load camera profile: %w", err)
	}
	if cam == nil {
		return nil, fmt.Errorf("no camera profile configured")
	}
	return assembleProfile(st, cam), nil
}

func assembleProfile(st settings.Settings, cam *settings.CameraProfile) *landing.Profile {
	return &landing.Profile{
		CameraType:       cam.CameraType,
		StreamURL:        cam.StreamURL,
		HorizontalFOVDeg: cam.HorizontalFOVDeg,
		Detector: landing.DetectorParams{
			Family:   st.DetectorFamily,
			TargetID: st.DetectorTargetID,
			Accuracy: st.DetectorAccuracy,
		},
		GatingEnabled:  st.GatingEnabled,
		LensCorrection: st.LensCorrection,
		SystemID:       st.GatewaySystemID,
	}
}

// testStream runs a single-shot probe against the configured stream: open,
// grab one frame, try one detection, close. It uses a fresh frame source and
// never disturbs a running loop.
func (s *Server) testStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	profile, err := s.requestedProfile(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	result := landing.Probe(r.Context(), s.newSource(), s.detector,
		profile.StreamURL, profile.Detector, s.probeLimit)
	httputil.WriteJSONOK(w, result)
}

// testMAVLink checks vehicle connectivity by fetching the gimbal orientation
// through the telemetry bridge.
func (s *Server) testMAVLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	profile, err := s.currentProfile()
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	q, ok := s.monitor.Orientation(r.Context(), profile.SystemID)
	if !ok {
		httputil.WriteJSONOK(w, map[string]interface{}{
			"success": false,
			"message": "No gimbal orientation telemetry received from the vehicle",
		})
		return
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"success":     true,
		"message":     "Vehicle telemetry connection successful",
		"orientation": q,
	})
}
