package middlewares

// gin context keys
const (
	CtxRequestID = "request_id"
	CtxJobID     = "job_id"

	ctxUserIDKey = "auth.userID"
	ctxEmailKey  = "auth.email"
	ctxRoleKey   = "auth.role"
)
