package server

import (
	"errors"
	"strings"
	"unicode"

	"campus/internal/models"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper. Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

// listQuery holds the parsed page/limit/sort query parameters. Clamping is the engine's job.
type listQuery struct {
	Page  int
	Limit int
	Sort  string
}

func parseListQuery(c *fiber.Ctx) listQuery {
	return listQuery{
		Page:  c.QueryInt("page", 1),
		Limit: c.QueryInt("limit", 0),
		Sort:  strings.ToLower(strings.TrimSpace(c.Query("sort"))),
	}
}

// parseID extracts a route parameter by name as a positive uint.
// On failure it writes a 400 JSON response and returns errResponseWritten.
// The error message is derived from the parameter name (e.g. "entityId" -> "Invalid entity ID").
func parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid "+humanizeParam(param)))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// parseEntityType reads an entity type route parameter, writing a 400 on failure.
func parseEntityType(c *fiber.Ctx, param string) (models.EntityType, error) {
	entityType, ok := models.ParseEntityType(c.Params(param))
	if !ok {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid entity type"))
		return "", errResponseWritten
	}
	return entityType, nil
}

// humanizeParam converts a route param name into a human-readable label.
// Examples: "id" -> "ID", "entityId" -> "entity ID", "commentId" -> "comment ID".
func humanizeParam(param string) string {
	if param == "id" {
		return "ID"
	}
	if strings.HasSuffix(param, "Id") {
		words := splitCamel(param[:len(param)-2])
		return strings.ToLower(strings.Join(words, " ")) + " ID"
	}
	return param
}

// splitCamel splits a camelCase string into words.
func splitCamel(s string) []string {
	var words []string
	start := 0
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			words = append(words, s[start:i])
			start = i
		}
	}
	words = append(words, s[start:])
	return words
}

// currentUser returns the identity AuthRequired stored in locals.
func currentUser(c *fiber.Ctx) (uint, models.Role) {
	userID, _ := c.Locals("userID").(uint)
	role, ok := c.Locals("userRole").(models.Role)
	if !ok {
		role = models.RoleStudent
	}
	return userID, role
}
