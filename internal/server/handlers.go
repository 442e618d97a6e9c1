package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Fenveireth/lightspark/internal/logging"
	"github.com/Fenveireth/lightspark/internal/security"
	"github.com/Fenveireth/lightspark/internal/session"
	"github.com/Fenveireth/lightspark/internal/shared/id"
	"github.com/Fenveireth/lightspark/internal/trust"
	"github.com/Fenveireth/lightspark/internal/urlinfo"
)

// Handlers implements the HTTP API against the session registry and
// the trust store.
type Handlers struct {
	sessions *session.Manager
	trust    *trust.Store
	logger   *logging.Logger
}

func newHandlers(sessions *session.Manager, trustStore *trust.Store, logger *logging.Logger) *Handlers {
	return &Handlers{
		sessions: sessions,
		trust:    trustStore,
		logger:   logger,
	}
}

// Root returns service information.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "policyd",
		"version": "1.0",
	})
}

// Health returns service health.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"service":  "policyd",
		"sessions": h.sessions.Len(),
	})
}

// session resolves the :id parameter or writes the error response.
func (h *Handlers) session(c *gin.Context) (*session.Session, bool) {
	s, err := h.sessions.Get(id.SessionID(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return s, true
}

// CreateSession registers content loaded from a declared origin.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req struct {
		Origin  string `json:"origin" binding:"required"`
		Sandbox string `json:"sandbox"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	var sandbox security.Sandbox
	if req.Sandbox != "" {
		s, err := security.ParseSandbox(req.Sandbox)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sandbox = s
	}

	s, err := h.sessions.Create(req.Origin, sandbox)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	meta, err := h.sessions.Describe(s.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, meta)
}

// ListSessions lists live sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.sessions.List()})
}

// GetSession returns one session's metadata.
func (h *Handlers) GetSession(c *gin.Context) {
	meta, err := h.sessions.Describe(id.SessionID(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, meta)
}

// DeleteSession removes a session.
func (h *Handlers) DeleteSession(c *gin.Context) {
	if err := h.sessions.Delete(id.SessionID(c.Param("id"))); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// evaluateRequest is the JSON shape of both evaluation endpoints.
// Omitted masks default to the permissive ones; callers narrow them.
type evaluateRequest struct {
	Target                 string   `json:"target" binding:"required"`
	Header                 string   `json:"header"`
	LoadPending            *bool    `json:"load_pending"`
	AllowedRemote          []string `json:"allowed_remote"`
	AllowedLocal           []string `json:"allowed_local"`
	RestrictLocalDirectory bool     `json:"restrict_local_directory"`
}

func (r *evaluateRequest) loadPending() bool {
	return r.LoadPending == nil || *r.LoadPending
}

func maskOrDefault(names []string, def security.Sandbox) (security.Sandbox, error) {
	if names == nil {
		return def, nil
	}
	return security.ParseSandboxMask(names)
}

func verdictResponse(v security.Verdict) gin.H {
	return gin.H{
		"verdict": v,
		"granted": v.Granted(),
		"reason":  v.Reason(),
	}
}

// EvaluateURL produces the access verdict for a target resource.
func (h *Handlers) EvaluateURL(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	target, err := urlinfo.Parse(req.Target)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	allowedRemote, err := maskOrDefault(req.AllowedRemote, security.SandboxRemote)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	allowedLocal, err := maskOrDefault(req.AllowedLocal, security.LocalSandboxes)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	v := s.Security.EvaluateURL(c.Request.Context(), target, security.Evaluation{
		LoadPending:            req.loadPending(),
		AllowedRemote:          allowedRemote,
		AllowedLocal:           allowedLocal,
		RestrictLocalDirectory: req.RestrictLocalDirectory,
	})
	c.JSON(http.StatusOK, verdictResponse(v))
}

// EvaluateHeader decides whether a request header may cross domains.
func (h *Handlers) EvaluateHeader(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.Header == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "header is required"})
		return
	}

	target, err := urlinfo.Parse(req.Target)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	v := s.Security.EvaluateHeader(c.Request.Context(), target, req.Header, req.loadPending())
	c.JSON(http.StatusOK, verdictResponse(v))
}

func policyResponse(f *security.URLPolicyFile) gin.H {
	return gin.H{
		"id":           f.ID(),
		"url":          f.URL().String(),
		"original_url": f.OriginalURL().String(),
		"subtype":      f.Subtype().String(),
		"master":       f.IsMaster(),
		"loaded":       f.IsLoaded(),
		"valid":        f.IsValid(),
		"ignored":      f.IsIgnored(),
		"digest":       f.Digest(),
		"content_type": f.ContentType(),
	}
}

// AddPolicy registers a policy-file URL, optionally loading it at once.
func (h *Handlers) AddPolicy(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req struct {
		URL  string `json:"url" binding:"required"`
		Load bool   `json:"load"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	f := s.Security.AddPolicyFile(req.URL)
	if f == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "local URLs publish no policy files"})
		return
	}

	if req.Load && !f.IsLoaded() {
		if err := s.Security.LoadPolicyFile(c.Request.Context(), f); err != nil && !errors.Is(err, security.ErrAlreadyLoaded) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusCreated, policyResponse(f))
}

// LoadPolicy drives a registered policy file through its load.
func (h *Handlers) LoadPolicy(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	f := s.Security.AddPolicyFile(req.URL)
	if f == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "local URLs publish no policy files"})
		return
	}

	if err := s.Security.LoadPolicyFile(c.Request.Context(), f); err != nil {
		if errors.Is(err, security.ErrAlreadyLoaded) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, policyResponse(f))
}

// ListPolicies lists every policy file the session knows.
func (h *Handlers) ListPolicies(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	files := s.Security.PolicyFiles()
	out := make([]gin.H, 0, len(files))
	for _, f := range files {
		out = append(out, policyResponse(f))
	}
	c.JSON(http.StatusOK, gin.H{"policies": out})
}

// GetSandbox returns the sandbox classification and settings state.
func (h *Handlers) GetSandbox(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sandbox":        s.Security.SandboxType().Name(),
		"title":          s.Security.SandboxType().Title(),
		"exact_settings": s.Security.ExactSettings(),
		"locked":         s.Security.ExactSettingsLocked(),
	})
}

// SetSandbox reclassifies the session's content.
func (h *Handlers) SetSandbox(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req struct {
		Sandbox string `json:"sandbox" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	sandbox, err := security.ParseSandbox(req.Sandbox)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.Security.SetSandboxType(sandbox)
	c.JSON(http.StatusOK, gin.H{"sandbox": sandbox.Name()})
}

// SetExactSettings stores the exact-settings flag; with lock set the
// value becomes final for the session's lifetime.
func (h *Handlers) SetExactSettings(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req struct {
		Value *bool `json:"value" binding:"required"`
		Lock  bool  `json:"lock"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	s.Security.SetExactSettings(*req.Value, req.Lock)
	c.JSON(http.StatusOK, gin.H{
		"exact_settings": s.Security.ExactSettings(),
		"locked":         s.Security.ExactSettingsLocked(),
	})
}

// TrustCheck reports whether a local path falls under a trusted entry.
func (h *Handlers) TrustCheck(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}
	if h.trust == nil {
		c.JSON(http.StatusOK, gin.H{"path": path, "trusted": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "trusted": h.trust.IsTrusted(path)})
}
