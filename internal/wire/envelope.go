package wire

import "hedge-sync-go/internal/models"

// MessageType identifies the payload carried by an envelope.
type MessageType string

const (
	TypeConnected        MessageType = "CONNECTED"
	TypeAccountUpdate    MessageType = "ACCOUNT_UPDATE"
	TypePositionOpened   MessageType = "POSITION_OPENED"
	TypePositionClosed   MessageType = "POSITION_CLOSED"
	TypePositionReversed MessageType = "POSITION_REVERSED"
	TypePositionModified MessageType = "POSITION_MODIFIED"
	TypeDisconnected     MessageType = "DISCONNECTED"
	TypeHeartbeat        MessageType = "HEARTBEAT"
	TypeSnapshot         MessageType = "SNAPSHOT"
)

// IsEvent reports whether t is a discrete, sequenced event.
func (t MessageType) IsEvent() bool {
	switch t {
	case TypeConnected, TypeAccountUpdate, TypePositionOpened, TypePositionClosed,
		TypePositionReversed, TypePositionModified, TypeDisconnected:
		return true
	}
	return false
}

// Topic is the subscription prefix a message is published under.
type Topic string

const (
	TopicEvent     Topic = "EVENT"
	TopicSnapshot  Topic = "SNAPSHOT"
	TopicHeartbeat Topic = "HEARTBEAT"
)

// TopicFor returns the topic a message type is published on.
func TopicFor(t MessageType) Topic {
	switch t {
	case TypeSnapshot:
		return TopicSnapshot
	case TypeHeartbeat:
		return TopicHeartbeat
	default:
		return TopicEvent
	}
}

// RoleMaster is the only role this module publishes as.
const RoleMaster = "master"

// Envelope is an outgoing broadcast message.
type Envelope struct {
	Type       MessageType `json:"type"`
	EventIndex uint64      `json:"eventIndex"`
	Timestamp  string      `json:"timestamp"`
	Platform   string      `json:"platform"`
	AccountID  string      `json:"accountId"`
	SessionID  string      `json:"sessionId,omitempty"`
	Role       string      `json:"role"`
	Data       any         `json:"data"`
}

// RawEnvelope is an incoming broadcast message with an undecoded payload.
type RawEnvelope struct {
	Type       MessageType `json:"type"`
	EventIndex uint64      `json:"eventIndex"`
	Timestamp  string      `json:"timestamp"`
	Platform   string      `json:"platform"`
	AccountID  string      `json:"accountId"`
	SessionID  string      `json:"sessionId,omitempty"`
	Role       string      `json:"role"`
	Data       RawMessage  `json:"data"`
}

// ConnectedData announces the master with its full starting state.
type ConnectedData struct {
	Account      models.Account    `json:"account"`
	Positions    []models.Position `json:"positions"`
	Version      string            `json:"version"`
	EventDriven  bool              `json:"eventDriven"`
	CurveEnabled bool              `json:"curveEnabled"`
}

// AccountUpdateData reports a balance change.
type AccountUpdateData struct {
	Account         models.Account `json:"account"`
	PreviousBalance float64        `json:"previousBalance"`
}

// OpenedData carries a newly opened position.
type OpenedData struct {
	Position models.Position `json:"position"`
}

// ClosedData carries the final state and realized result of a closed position.
type ClosedData struct {
	Position       models.Position `json:"position"`
	ClosePrice     float64         `json:"closePrice"`
	RealizedProfit float64         `json:"realizedProfit"`
	CloseTime      string          `json:"closeTime"`
}

// ReversedData carries a position whose direction flipped under the same ticket.
type ReversedData struct {
	Ticket         int64           `json:"ticket"`
	Previous       models.Position `json:"previous"`
	Current        models.Position `json:"current"`
	RealizedProfit float64         `json:"realizedProfit"`
}

// ModifiedData carries a stop-loss, take-profit or volume change.
type ModifiedData struct {
	Ticket         int64   `json:"ticket"`
	Symbol         string  `json:"symbol"`
	PreviousSL     float64 `json:"previousSl"`
	PreviousTP     float64 `json:"previousTp"`
	NewSL          float64 `json:"newSl"`
	NewTP          float64 `json:"newTp"`
	PreviousVolume float64 `json:"previousVolume"`
	NewVolume      float64 `json:"newVolume"`
}

// DisconnectedData is the last event of a master's lifetime.
type DisconnectedData struct {
	Reason string `json:"reason"`
}

// HeartbeatData is a liveness probe with account metrics and no positions.
type HeartbeatData struct {
	Balance        float64 `json:"balance"`
	Equity         float64 `json:"equity"`
	Margin         float64 `json:"margin"`
	FreeMargin     float64 `json:"freeMargin"`
	Profit         float64 `json:"profit"`
	OpenPositions  int     `json:"openPositions"`
	IsPaused       bool    `json:"isPaused"`
	IsLicenseValid bool    `json:"isLicenseValid"`
	LicenseStatus  string  `json:"licenseStatus"`
	LicenseError   string  `json:"licenseError,omitempty"`
	UptimeSeconds  int64   `json:"uptimeSeconds"`
}

// SnapshotData is the full reconciliation state.
type SnapshotData struct {
	Account        models.Account    `json:"account"`
	Positions      []models.Position `json:"positions"`
	IsPaused       bool              `json:"isPaused"`
	IsLicenseValid bool              `json:"isLicenseValid"`
}
