package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"txprop/internal/core/apperror"
	"txprop/internal/domain/member"
	"txprop/internal/infrastructure/http/v1/dto"
	"txprop/pkg/logger"
)

// MemberHandler exposes the join variants over HTTP.
type MemberHandler struct {
	*BaseHandler
	service *member.Service
}

// NewMemberHandler creates a new member handler.
func NewMemberHandler(base *BaseHandler, service *member.Service) *MemberHandler {
	return &MemberHandler{BaseHandler: base, service: service}
}

// Join runs one join variant and reports which rows were committed.
// A failed join still answers with the committed rows, under the error's
// status code.
// POST /api/v1/members
func (h *MemberHandler) Join(c *gin.Context) {
	var req dto.JoinRequest
	if !h.BindJSON(c, &req) {
		return
	}

	mode, err := member.ParseJoinMode(req.Mode)
	if err != nil {
		h.Error(c, err)
		return
	}
	if _, err := member.NewMember(req.Username); err != nil {
		h.Error(c, err)
		return
	}

	ctx := c.Request.Context()
	joinErr := h.service.Join(ctx, req.Username, mode)

	resp, err := h.lookup(ctx, req.Username)
	if err != nil {
		h.Error(c, err)
		return
	}
	resp.Mode = string(mode)

	if joinErr != nil {
		logger.Info(ctx, "join failed", "mode", mode, "username", req.Username, "error", joinErr)
		resp.Error = joinErr.Error()
		c.JSON(apperror.GetHTTPStatus(joinErr), resp)
		return
	}
	h.Created(c, resp)
}

// GetMember returns a member by username.
// GET /api/v1/members/:username
func (h *MemberHandler) GetMember(c *gin.Context) {
	m, err := h.service.FindMember(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromMember(m))
}

// GetLog returns a log entry by message.
// GET /api/v1/logs/:message
func (h *MemberHandler) GetLog(c *gin.Context) {
	l, err := h.service.FindLog(c.Request.Context(), c.Param("message"))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromLog(l))
}

func (h *MemberHandler) lookup(ctx context.Context, username string) (dto.JoinResponse, error) {
	var resp dto.JoinResponse

	m, err := h.service.FindMember(ctx, username)
	switch {
	case err == nil:
		mr := dto.FromMember(m)
		resp.Member = &mr
	case !apperror.IsNotFound(err):
		return resp, err
	}

	l, err := h.service.FindLog(ctx, username)
	switch {
	case err == nil:
		lr := dto.FromLog(l)
		resp.Log = &lr
	case !apperror.IsNotFound(err):
		return resp, err
	}
	return resp, nil
}
