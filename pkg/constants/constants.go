package constants

type contextKey int

const (
	TxKey contextKey = iota
	PoolKey
	LoggerKey
	RequestIDKey
	AuthorIDKey
	ModeratorIDKey
)
