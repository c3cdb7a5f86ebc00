package store

// QueueItem is one unit of undelivered work, durable across restarts.
// It carries exactly the remaining unfinished work of its session:
// AudioPath when transcription is still needed, PromptText when only
// the language-model call remains.
type QueueItem struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Mode       string `gorm:"not null"`
	AudioPath  string
	PromptText string
	Model      string `gorm:"not null"`
	CreatedAt  int64  `gorm:"not null"` // unix ms of first failure
	RetryCount int    `gorm:"not null;default:0"`
	// LastAttempt is unix ms of the most recent failed replay, used
	// for the retry backoff window. Zero until the first retry.
	LastAttempt int64
}

// UsageRecord is one row per successfully delivered session.
// Append-only.
type UsageRecord struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Text       string `gorm:"not null"`
	Mode       string
	Model      string
	WordCount  int
	DurationMs int64
	CostCents  int64 // hundredths of a cent for precision
	Timestamp  int64 `gorm:"index;not null"` // unix ms
}

// StatsSnapshot is derived, never stored.
type StatsSnapshot struct {
	TotalWords          int64
	TotalTranscriptions int64
	TotalDurationMs     int64
	TotalCostCents      int64
}

// Setting is a persisted key/value pair (selected microphone,
// preferred model).
type Setting struct {
	Key   string `gorm:"primaryKey"`
	Value string `gorm:"not null"`
}

// ConversationMessage is one side of a prompt exchange, kept so
// follow-up prompts carry context.
type ConversationMessage struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Role      string `gorm:"not null"` // "user" or "assistant"
	Content   string `gorm:"not null"`
	Timestamp int64  `gorm:"index;not null"` // unix ms
}
