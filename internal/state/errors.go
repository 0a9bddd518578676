package state

// Error is a business rejection with a stable code. Rejections leave state
// untouched; they are not failures of the system.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Identity / authorization
var (
	ErrUnauthorized = newError("Unauthorized", "caller is not authorized")
	ErrNotAdmin     = newError("NotAdmin", "caller is not the configured admin")
)

// Lifecycle
var (
	ErrMarketNotActive         = newError("MarketNotActive", "market is not active")
	ErrMarketEnded             = newError("MarketEnded", "market has ended")
	ErrMarketNotEnded          = newError("MarketNotEnded", "market has not ended")
	ErrMarketNotReadyForVoting = newError("MarketNotReadyForVoting", "market is not open for voting")
	ErrInvalidResolutionMethod = newError("InvalidResolutionMethod", "operation not valid for the market's resolution method")
	ErrNotResolved             = newError("NotResolved", "market is not resolved")
)

// Economic
var (
	ErrInsufficientBalance = newError("InsufficientBalance", "insufficient balance")
	ErrInsufficientShares  = newError("InsufficientShares", "insufficient shares")
	ErrSlippageExceeded    = newError("SlippageExceeded", "price per share outside slippage bound")
	ErrInvalidOutcome      = newError("InvalidOutcome", "invalid outcome")
	ErrNoPosition          = newError("NoPosition", "no position in market")
	ErrNoWinnings          = newError("NoWinnings", "no winnings to claim")
	ErrInvalidOutcomeCount = newError("InvalidOutcomeCount", "invalid number of outcomes")
	ErrDurationTooShort    = newError("DurationTooShort", "market duration below minimum")
	ErrInvalidAmount       = newError("InvalidAmount", "invalid amount")
)

// Consensus
var (
	ErrAlreadyVoted   = newError("AlreadyVoted", "already voted in this market")
	ErrOracleNotReady = newError("OracleNotReady", "oracle has no votes to tally")
)

// Not found
var (
	ErrPlayerNotFound = newError("PlayerNotFound", "player not found")
	ErrMarketNotFound = newError("MarketNotFound", "market not found")
	ErrGuildNotFound  = newError("GuildNotFound", "guild not found")
)

// Peripheral bookkeeping
var (
	ErrPlayerAlreadyExists       = newError("PlayerAlreadyExists", "player already registered")
	ErrDailyRewardAlreadyClaimed = newError("DailyRewardAlreadyClaimed", "daily reward already claimed")
	ErrAlreadyInGuild            = newError("AlreadyInGuild", "player already in a guild")
	ErrNotGuildMember            = newError("NotGuildMember", "player is not in a guild")
	ErrInvalidConfig             = newError("InvalidConfig", "invalid game configuration")
)
