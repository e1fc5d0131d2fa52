package usercontext

import "github.com/gofiber/fiber/v2"

// OperatorContext is the authenticated operator of an admin request
type OperatorContext struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles"`
}

// HasRole checks the operator roles
func (o OperatorContext) HasRole(role string) bool {
	for _, r := range o.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// GetOperator retrieves the operator from fiber context.
// Returns the zero context when the request was not authenticated.
func GetOperator(c *fiber.Ctx) OperatorContext {
	if ctx, ok := c.Locals(KeyOperator).(OperatorContext); ok {
		return ctx
	}
	return OperatorContext{}
}

// IsAuthenticated checks if an operator is attached to the request
func IsAuthenticated(c *fiber.Ctx) bool {
	return GetOperator(c).Subject != ""
}

// SetOperator attaches the operator to the request
func SetOperator(c *fiber.Ctx, op OperatorContext) {
	c.Locals(KeyOperator, op)
	c.Locals(KeySubject, op.Subject)
}
