package controller

import (
	"context"
	"errors"
	"strconv"

	"simoj/internal/common/http/middleware"
	"simoj/internal/judge/model"
	"simoj/internal/judge/repository"
	"simoj/internal/judge/service"
	appErr "simoj/pkg/errors"
	"simoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// QueueStatser reports queue depth.
type QueueStatser interface {
	Stats(ctx context.Context) (model.QueueStats, error)
}

// RoundRebuilder recomputes a round's ranking from scratch.
type RoundRebuilder interface {
	RebuildRound(ctx context.Context, roundID int64) (int, error)
}

// UserReader loads callers to check their privileges.
type UserReader interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
}

// JudgeController handles submission, ranking and queue endpoints.
type JudgeController struct {
	submit  *service.SubmitService
	ranking *service.RankingService
	rebuild RoundRebuilder
	queue   QueueStatser
	users   UserReader
}

// NewJudgeController creates a new controller.
func NewJudgeController(submit *service.SubmitService, ranking *service.RankingService, rebuild RoundRebuilder, queue QueueStatser, users UserReader) *JudgeController {
	return &JudgeController{submit: submit, ranking: ranking, rebuild: rebuild, queue: queue, users: users}
}

// CreateSubmission queues a submission for the calling user.
func (h *JudgeController) CreateSubmission(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		response.Unauthorized(c, "Missing user id")
		return
	}
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	sub, err := h.submit.Create(c.Request.Context(), service.SubmitInput{
		UserID:  userID,
		RoundID: req.RoundID,
		TaskID:  req.TaskID,
		Source:  []byte(req.Source),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, SubmitResponse{
		SubmissionID: sub.ID,
		Status:       string(sub.Status),
		Queued:       sub.Queued,
	})
}

// GetSubmission returns status and points of one submission.
func (h *JudgeController) GetSubmission(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	sub, err := h.submit.GetSubmission(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, sub)
}

// GetRanking returns a round ranking; ?source=compute bypasses the ranks table.
// Callers without a user id are treated as normal users.
func (h *JudgeController) GetRanking(c *gin.Context) {
	roundID, ok := parseID(c)
	if !ok {
		response.BadRequest(c, "Invalid round id")
		return
	}
	source, err := service.ParseRankingSource(c.Query("source"))
	if err != nil {
		response.Error(c, err)
		return
	}
	viewer, err := h.viewerType(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	entries, err := h.ranking.GetRanking(c.Request.Context(), roundID, source, viewer)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, RankingResponse{RoundID: roundID, Source: string(source), Entries: entries})
}

// RebuildRanking recomputes every rank of a round. Teachers and admins only.
func (h *JudgeController) RebuildRanking(c *gin.Context) {
	roundID, ok := parseID(c)
	if !ok {
		response.BadRequest(c, "Invalid round id")
		return
	}
	if err := h.requirePrivileged(c); err != nil {
		response.Error(c, err)
		return
	}
	users, err := h.rebuild.RebuildRound(c.Request.Context(), roundID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, RebuildResponse{RoundID: roundID, Users: users})
}

// QueueStats reports how many submissions wait and how many are being judged.
func (h *JudgeController) QueueStats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}

func (h *JudgeController) requirePrivileged(c *gin.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return appErr.New(appErr.Unauthorized).WithMessage("Missing user id")
	}
	user, err := h.loadUser(c, userID)
	if err != nil {
		return err
	}
	if !user.Type.Privileged() {
		return appErr.New(appErr.PermissionDenied)
	}
	return nil
}

func (h *JudgeController) viewerType(c *gin.Context) (model.UserType, error) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return model.UserNormal, nil
	}
	user, err := h.loadUser(c, userID)
	if err != nil {
		return "", err
	}
	return user.Type, nil
}

func (h *JudgeController) loadUser(c *gin.Context, userID int64) (*model.User, error) {
	user, err := h.users.GetUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, appErr.New(appErr.Unauthorized).WithMessage("Unknown user")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get user failed")
	}
	return user, nil
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
