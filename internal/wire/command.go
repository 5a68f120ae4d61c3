package wire

import (
	"hedge-sync-go/internal/models"
)

// Command actions understood by the command server.
const (
	ActionPause       = "PAUSE"
	ActionResume      = "RESUME"
	ActionStatus      = "STATUS"
	ActionPing        = "PING"
	ActionConfig      = "CONFIG"
	ActionGetHistory  = "GET_HISTORY"
	ActionGetCurveKey = "GET_CURVE_KEY"
	ActionGetEvents   = "GET_EVENTS"
)

// Error codes carried by failed replies.
const (
	CodeUnknownCommand = "ERROR_UNKNOWN_COMMAND"
	CodeBadRequest     = "ERROR_BAD_REQUEST"
	CodeLicense        = "ERROR_LICENSE"
	CodeNotEnabled     = "ERROR_NOT_ENABLED"
	CodeInternal       = "ERROR_INTERNAL"
	CodeTimeout        = "ERROR_TIMEOUT"
)

// Request is a command sent to the master.
type Request struct {
	Action string `json:"action"`
	Days   int    `json:"days,omitempty"`
	Since  uint64 `json:"since,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// ReplyHeader is embedded in every reply.
type ReplyHeader struct {
	Success   bool   `json:"success"`
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

// OK builds a successful header.
func OK(action, ts string) ReplyHeader {
	return ReplyHeader{Success: true, Action: action, Timestamp: ts}
}

// Failure builds a failed header.
func Failure(action, ts, code, msg string) ReplyHeader {
	return ReplyHeader{Success: false, Action: action, Timestamp: ts, Error: msg, Code: code}
}

// PauseReply answers PAUSE and RESUME.
type PauseReply struct {
	ReplyHeader
	IsPaused bool `json:"isPaused"`
}

// PingReply answers PING.
type PingReply struct {
	ReplyHeader
	Pong          bool  `json:"pong"`
	UptimeSeconds int64 `json:"uptimeSeconds"`
}

// StatusReply answers STATUS.
type StatusReply struct {
	ReplyHeader
	AccountID          string  `json:"accountId"`
	Platform           string  `json:"platform"`
	IsPaused           bool    `json:"isPaused"`
	IsLicenseValid     bool    `json:"isLicenseValid"`
	LicenseStatus      string  `json:"licenseStatus"`
	LicenseError       string  `json:"licenseError,omitempty"`
	LicenseExpiresAt   string  `json:"licenseExpiresAt,omitempty"`
	NextLicenseCheckAt string  `json:"nextLicenseCheckAt,omitempty"`
	OpenPositions      int     `json:"openPositions"`
	EventIndex         uint64  `json:"eventIndex"`
	TransportDegraded  bool    `json:"transportDegraded"`
	LastError          string  `json:"lastError,omitempty"`
	Balance            float64 `json:"balance"`
	Equity             float64 `json:"equity"`
	UptimeSeconds      int64   `json:"uptimeSeconds"`
}

// ConfigReply answers CONFIG with the static configuration.
type ConfigReply struct {
	ReplyHeader
	Transport         string `json:"transport"`
	DataPort          int    `json:"dataPort"`
	CommandPort       int    `json:"commandPort"`
	DataEndpoint      string `json:"dataEndpoint"`
	CommandEndpoint   string `json:"commandEndpoint"`
	PollIntervalMs    int64  `json:"pollIntervalMs"`
	PublishIntervalMs int64  `json:"publishIntervalMs"`
	HeartbeatMs       int64  `json:"heartbeatIntervalMs"`
	LicenseCheckSec   int64  `json:"licenseCheckIntervalSec"`
	CurveEnabled      bool   `json:"curveEnabled"`
	CurvePublicKey    string `json:"curvePublicKey,omitempty"`
	Version           string `json:"version"`
}

// HistoryReply answers GET_HISTORY.
type HistoryReply struct {
	ReplyHeader
	Days            int           `json:"days"`
	Count           int           `json:"count"`
	Deals           []models.Deal `json:"deals"`
	NetProfit       float64       `json:"netProfit"`
	ProfitableDeals int           `json:"profitableDeals"`
	WinRate         float64       `json:"winRate"`
}

// CurveKeyReply answers GET_CURVE_KEY.
type CurveKeyReply struct {
	ReplyHeader
	CurvePublicKey string `json:"curvePublicKey"`
}

// EventsReply answers GET_EVENTS with journaled envelopes in index order.
type EventsReply struct {
	ReplyHeader
	Since      uint64       `json:"since"`
	LastIndex  uint64       `json:"lastIndex"`
	Count      int          `json:"count"`
	Events     []RawMessage `json:"events"`
	Truncated  bool         `json:"truncated"`
	OldestKept uint64       `json:"oldestKept"`
}
