package usercontext

// Locals keys set by the authentication middleware
const (
	KeyOperator = "OPERATOR_CONTEXT"
	KeySubject  = "operator_subject"
)

// Operator roles accepted on the admin API
const (
	RoleAdmin   = "admin"
	RoleFinance = "finance"
	RoleService = "service"
)
