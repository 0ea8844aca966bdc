package globals

var (
	// JwtSecret signs and verifies access tokens. Set from JWT_SECRET at startup.
	JwtSecret = []byte("your_secret_key")
)

// Context keys
type ContextKey string

const RoleKey ContextKey = "role"
const UserIDKey ContextKey = "userId"
