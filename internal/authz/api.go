package authz

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dhawalhost/vineseal/internal/audit"
	"github.com/dhawalhost/vineseal/internal/capability"
	"github.com/dhawalhost/vineseal/internal/engine"
	"github.com/dhawalhost/vineseal/internal/invite"
	"github.com/dhawalhost/vineseal/internal/policy"
	"github.com/dhawalhost/vineseal/internal/relationship"
	"github.com/dhawalhost/vineseal/pkg/middleware"
	"github.com/dhawalhost/vineseal/pkg/observability"
)

// HTTPHandler exposes the authorization core over HTTP.
type HTTPHandler struct {
	engine        *engine.Engine
	relationships relationship.Service
	capabilities  *capability.Service
	invitations   *invite.Service
	auditSvc      audit.Service
	metrics       *observability.Metrics
	logger        *zap.Logger
	validate      *validator.Validate
}

// NewHTTPHandler creates a new HTTPHandler.
func NewHTTPHandler(
	eng *engine.Engine,
	relationships relationship.Service,
	capabilities *capability.Service,
	invitations *invite.Service,
	auditSvc audit.Service,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		engine:        eng,
		relationships: relationships,
		capabilities:  capabilities,
		invitations:   invitations,
		auditSvc:      auditSvc,
		metrics:       metrics,
		logger:        logger,
		validate:      validator.New(),
	}
}

// RegisterRoutes registers the authorization routes.
func (h *HTTPHandler) RegisterRoutes(router *gin.Engine, jwtSecret string) {
	api := router.Group("/api/v1")
	api.Use(middleware.Auth(jwtSecret))

	authzGroup := api.Group("/authz")
	{
		authzGroup.POST("/check", h.check)
		authzGroup.POST("/explain", h.explain)

		authzGroup.POST("/relationships", h.grantRelationship)
		authzGroup.DELETE("/relationships", h.revokeRelationship)
		authzGroup.GET("/resources/:type/:id/relationships", h.resourceRelationships)
		authzGroup.GET("/subjects/:id/relationships", h.subjectRelationships)

		tokenGroup := authzGroup.Group("/tokens")
		{
			tokenGroup.POST("", h.issueToken)
			tokenGroup.POST("/verify", h.verifyToken)
			tokenGroup.POST("/inspect", h.inspectToken)
			tokenGroup.GET("", h.listTokens)
			tokenGroup.DELETE("", h.revokeToken)
			tokenGroup.DELETE("/:id", h.revokeTokenByID)
			tokenGroup.POST("/cleanup", h.cleanupTokens)
		}

		inviteGroup := authzGroup.Group("/invitations")
		{
			inviteGroup.POST("", h.issueInvitation)
			inviteGroup.POST("/redeem", h.redeemInvitation)
		}
	}

	api.GET("/audit/events", h.queryAudit)
}

func (h *HTTPHandler) check(c *gin.Context) {
	var req CheckRequest
	if !h.bind(c, &req) {
		return
	}

	subject, resource := h.buildRequest(c, req.Subject, req.Resource)
	decision := h.engine.Check(c.Request.Context(), subject, req.Action, resource)
	h.metrics.DecisionsTotal.WithLabelValues(decision.Outcome).Inc()

	c.JSON(http.StatusOK, decision)
}

func (h *HTTPHandler) explain(c *gin.Context) {
	var req ExplainRequest
	if !h.bind(c, &req) {
		return
	}

	subject, resource := h.buildRequest(c, req.Subject, req.Resource)
	explanation := h.engine.Explain(c.Request.Context(), subject, req.Action, resource, !req.DryRun)

	c.JSON(http.StatusOK, explanation)
}

// buildRequest converts the request inputs into engine types, materializing
// the resource relations from the graph when the caller did not supply them.
func (h *HTTPHandler) buildRequest(c *gin.Context, si SubjectInput, ri ResourceInput) (policy.Subject, policy.Resource) {
	subject := policy.Subject{ID: si.ID, Role: si.Role, Attrs: si.Attrs}
	resource := policy.Resource{ID: ri.ID, Type: ri.Type, Attrs: ri.Attrs, Relations: ri.Relations}

	if resource.Relations == nil {
		relations, err := h.relationships.RelationshipsForResource(
			c.Request.Context(), resource.Type, resource.ID, relationship.QueryOptions{})
		if err != nil {
			// A failed lookup means no relationship escalation, not a failed check.
			h.logger.Warn("relations lookup failed, checking without relationships",
				zap.String("resource_id", resource.ID), zap.Error(err))
		} else {
			resource.Relations = relations
		}
	}
	return subject, resource
}

func (h *HTTPHandler) grantRelationship(c *gin.Context) {
	caller, ok := middleware.SubjectFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req GrantRequest
	if !h.bind(c, &req) {
		return
	}

	id, err := h.relationships.AddRelationship(c.Request.Context(), relationship.GrantInput{
		SubjectID:    req.SubjectID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		RelationKind: req.RelationKind,
		GrantedBy:    caller.ID,
		ExpiresAt:    req.ExpiresAt,
		Metadata:     req.Metadata,
	})
	if err != nil {
		h.logger.Error("relationship grant failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not grant relationship"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"edge_id": id})
}

func (h *HTTPHandler) revokeRelationship(c *gin.Context) {
	caller, ok := middleware.SubjectFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req RevokeRequest
	if !h.bind(c, &req) {
		return
	}

	err := h.relationships.RemoveRelationship(c.Request.Context(),
		req.SubjectID, req.ResourceType, req.ResourceID, req.RelationKind, caller.ID)
	if err != nil {
		h.logger.Error("relationship revoke failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not revoke relationship"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) resourceRelationships(c *gin.Context) {
	includeExpired := c.Query("include_expired") == "true"
	relations, err := h.relationships.RelationshipsForResource(
		c.Request.Context(), c.Param("type"), c.Param("id"),
		relationship.QueryOptions{IncludeExpired: includeExpired})
	if err != nil {
		h.logger.Error("resource relationships query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not query relationships"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"relations": relations})
}

func (h *HTTPHandler) subjectRelationships(c *gin.Context) {
	includeExpired := c.Query("include_expired") == "true"
	edges, err := h.relationships.RelationshipsForSubject(
		c.Request.Context(), c.Param("id"), c.Query("resource_type"),
		relationship.QueryOptions{IncludeExpired: includeExpired})
	if err != nil {
		h.logger.Error("subject relationships query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not query relationships"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"edges": edges})
}

func (h *HTTPHandler) issueToken(c *gin.Context) {
	caller, ok := middleware.SubjectFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req IssueTokenRequest
	if !h.bind(c, &req) {
		return
	}

	rawSecret, err := h.capabilities.Issue(c.Request.Context(),
		caller.ID, req.ResourceType, req.ResourceID, req.Action,
		time.Duration(req.TTLSeconds)*time.Second,
		capability.IssueOptions{
			SubjectID: req.SubjectID,
			MaxUses:   req.MaxUses,
			Metadata:  req.Metadata,
		})
	if err != nil {
		h.logger.Error("capability token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}

	// The raw secret appears in this response and nowhere else.
	c.JSON(http.StatusCreated, gin.H{"token": rawSecret})
}

func (h *HTTPHandler) verifyToken(c *gin.Context) {
	var req VerifyTokenRequest
	if !h.bind(c, &req) {
		return
	}

	valid := h.capabilities.Verify(c.Request.Context(),
		req.Token, req.ResourceType, req.ResourceID, req.Action, req.SubjectID)

	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

func (h *HTTPHandler) inspectToken(c *gin.Context) {
	var req TokenRequest
	if !h.bind(c, &req) {
		return
	}

	t, ok := h.capabilities.Inspect(c.Request.Context(), req.Token)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
		return
	}

	c.JSON(http.StatusOK, t)
}

func (h *HTTPHandler) listTokens(c *gin.Context) {
	caller, ok := middleware.SubjectFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	tokens, err := h.capabilities.ListByIssuer(c.Request.Context(), caller.ID)
	if err != nil {
		h.logger.Error("capability token list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list tokens"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

func (h *HTTPHandler) revokeToken(c *gin.Context) {
	caller, ok := middleware.SubjectFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req TokenRequest
	if !h.bind(c, &req) {
		return
	}

	if !h.capabilities.Revoke(c.Request.Context(), req.Token, caller.ID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) revokeTokenByID(c *gin.Context) {
	caller, ok := middleware.SubjectFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	if !h.capabilities.RevokeByID(c.Request.Context(), c.Param("id"), caller.ID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) cleanupTokens(c *gin.Context) {
	n, err := h.capabilities.CleanupExpired(c.Request.Context())
	if err != nil {
		h.logger.Error("capability token cleanup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cleanup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": n})
}

func (h *HTTPHandler) issueInvitation(c *gin.Context) {
	caller, ok := middleware.SubjectFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req IssueInvitationRequest
	if !h.bind(c, &req) {
		return
	}

	token, err := h.invitations.Issue(c.Request.Context(),
		caller.ID, req.RecipientID, req.InvitationID,
		time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.logger.Error("invitation issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue invitation"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"token": token})
}

func (h *HTTPHandler) redeemInvitation(c *gin.Context) {
	caller, ok := middleware.SubjectFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req RedeemInvitationRequest
	if !h.bind(c, &req) {
		return
	}

	invitationID, err := h.invitations.Redeem(c.Request.Context(), req.Token, caller.ID)
	if err != nil {
		switch {
		case errors.Is(err, invite.ErrExpiredToken):
			c.JSON(http.StatusGone, gin.H{"error": "invitation has expired"})
		case errors.Is(err, invite.ErrAlreadyUsed):
			c.JSON(http.StatusConflict, gin.H{"error": "invitation was already used"})
		case errors.Is(err, invite.ErrWrongRecipient), errors.Is(err, invite.ErrInvalidToken):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invitation token is invalid"})
		default:
			h.logger.Error("invitation redeem failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not redeem invitation"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"invitation_id": invitationID})
}

func (h *HTTPHandler) queryAudit(c *gin.Context) {
	params := audit.QueryParams{}
	if v := c.Query("subject_id"); v != "" {
		params.SubjectID = &v
	}
	if v := c.Query("action"); v != "" {
		params.Action = &v
	}
	if v := c.Query("resource_type"); v != "" {
		params.ResourceType = &v
	}
	if v := c.Query("resource_id"); v != "" {
		params.ResourceID = &v
	}
	if v := c.Query("outcome"); v != "" {
		params.Outcome = &v
	}

	events, total, err := h.auditSvc.Query(c.Request.Context(), params)
	if err != nil {
		h.logger.Error("audit query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not query audit events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "total": total})
}

// bind decodes and validates the JSON body, writing the error response on
// failure.
func (h *HTTPHandler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}
