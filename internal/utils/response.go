package utils

import (
	"github.com/gofiber/fiber/v2"
)

// SuccessResponse sends a success JSON response
func SuccessResponse(c *fiber.Ctx, data any, message string, code ...int) error {
	statusCode := fiber.StatusOK
	if len(code) > 0 {
		statusCode = code[0]
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"success": true,
		"data":    data,
		"message": message,
	})
}

// ErrorResponse sends an error JSON response. If no explicit status code is
// provided, 500 Internal Server Error is used.
func ErrorResponse(c *fiber.Ctx, message string, code ...int) error {
	statusCode := fiber.StatusInternalServerError
	if len(code) > 0 {
		statusCode = code[0]
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

// OAuthErrorResponse sends an RFC 6749 §5.2 error body. The status defaults
// to 400 Bad Request unless an explicit code is provided.
func OAuthErrorResponse(c *fiber.Ctx, errCode, errorDescription string, code ...int) error {
	statusCode := fiber.StatusBadRequest
	if len(code) > 0 {
		statusCode = code[0]
	}

	body := fiber.Map{"error": errCode}
	if errorDescription != "" {
		body["error_description"] = errorDescription
	}

	return c.Status(statusCode).JSON(body)
}
