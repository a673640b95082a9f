package server

import (
	"errors"
	"log/slog"
	"strings"

	"campus/internal/middleware"
	"campus/internal/models"
	"campus/internal/service"

	"github.com/gofiber/fiber/v2"
)

// statusForError maps engine error codes onto HTTP statuses.
func statusForError(err error) int {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		return fiber.StatusInternalServerError
	}
	switch appErr.Code {
	case models.CodePermissionDenied:
		return fiber.StatusForbidden
	case models.CodeNotFound:
		return fiber.StatusNotFound
	case models.CodeValidation, models.CodeParentNotFound, models.CodeEditWindowExpired, models.CodeAlreadyDeleted:
		return fiber.StatusBadRequest
	case models.CodeUnauthorized:
		return fiber.StatusUnauthorized
	default:
		return fiber.StatusInternalServerError
	}
}

// respondServiceError writes err with its mapped status. Unmapped errors get a generic body
// and are logged with their cause.
func respondServiceError(c *fiber.Ctx, operation string, err error) error {
	status := statusForError(err)
	if status == fiber.StatusInternalServerError {
		middleware.Logger.ErrorContext(c.UserContext(), "comment operation failed",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
		return models.RespondWithError(c, status, errors.New("internal"))
	}
	return models.RespondWithError(c, status, err)
}

// ListComments returns one page of a thread.
func (s *Server) ListComments(c *fiber.Ctx) error {
	entityType, err := parseEntityType(c, "entityType")
	if err != nil {
		return nil
	}
	entityID, err := parseID(c, "entityId")
	if err != nil {
		return nil
	}
	userID, _ := currentUser(c)
	q := parseListQuery(c)

	result, err := s.commentService.ListComments(c.UserContext(), service.ListCommentsInput{
		EntityType:       entityType,
		EntityID:         entityID,
		RequestingUserID: userID,
		Page:             q.Page,
		Limit:            q.Limit,
		Sort:             q.Sort,
	})
	if err != nil {
		return respondServiceError(c, "list", err)
	}
	return c.JSON(result)
}

// GetComment returns a single comment.
func (s *Server) GetComment(c *fiber.Ctx) error {
	userID, _ := currentUser(c)
	comment, err := s.commentService.GetComment(c.UserContext(), c.Params("commentId"), userID)
	if err != nil {
		return respondServiceError(c, "get", err)
	}
	return c.JSON(fiber.Map{"comment": comment})
}

type createCommentRequest struct {
	EntityType      string  `json:"entityType"`
	EntityID        uint    `json:"entityId"`
	Content         string  `json:"content"`
	ParentCommentID *string `json:"parentCommentId"`
}

// CreateComment posts a comment or a reply.
func (s *Server) CreateComment(c *fiber.Ctx) error {
	var req createCommentRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body"))
	}
	if req.EntityID == 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid entity ID"))
	}
	if req.ParentCommentID != nil && strings.TrimSpace(*req.ParentCommentID) == "" {
		req.ParentCommentID = nil
	}

	userID, _ := currentUser(c)
	created, err := s.commentService.CreateComment(c.UserContext(), service.CreateCommentInput{
		UserID:     userID,
		EntityType: models.EntityType(strings.ToLower(strings.TrimSpace(req.EntityType))),
		EntityID:   req.EntityID,
		Content:    req.Content,
		ParentID:   req.ParentCommentID,
	})
	if err != nil {
		return respondServiceError(c, "create", err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"comment": created})
}

// UpdateComment edits a comment's content within the edit window.
func (s *Server) UpdateComment(c *fiber.Ctx) error {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body"))
	}

	userID, _ := currentUser(c)
	updated, err := s.commentService.UpdateComment(c.UserContext(), service.UpdateCommentInput{
		UserID:    userID,
		CommentID: c.Params("commentId"),
		Content:   req.Content,
	})
	if err != nil {
		return respondServiceError(c, "update", err)
	}
	return c.JSON(fiber.Map{"comment": updated})
}

// DeleteComment soft-deletes a comment.
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	userID, role := currentUser(c)
	if err := s.commentService.DeleteComment(c.UserContext(), service.DeleteCommentInput{
		UserID:    userID,
		UserRole:  role,
		CommentID: c.Params("commentId"),
	}); err != nil {
		return respondServiceError(c, "delete", err)
	}
	return c.JSON(fiber.Map{})
}

// ToggleCommentLike likes or unlikes a comment for the caller.
func (s *Server) ToggleCommentLike(c *fiber.Ctx) error {
	userID, _ := currentUser(c)
	result, err := s.commentService.ToggleLike(c.UserContext(), c.Params("commentId"), userID)
	if err != nil {
		return respondServiceError(c, "like", err)
	}
	return c.JSON(result)
}
