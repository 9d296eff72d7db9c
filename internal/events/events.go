package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type 标识一次状态变更事件。
type Type string

const (
	TypeAgentRegistered     Type = "agent.registered"
	TypeStakeAdded          Type = "agent.stake_added"
	TypeWithdrawalRequested Type = "agent.withdrawal_requested"
	TypeWithdrawalExecuted  Type = "agent.withdrawal_executed"
	TypeWithdrawalCancelled Type = "agent.withdrawal_cancelled"
	TypeAgentSlashed        Type = "agent.slashed"
	TypeAgentDeactivated    Type = "agent.deactivated"
	TypeAgentReactivated    Type = "agent.reactivated"
	TypeTradeRecorded       Type = "agent.trade_recorded"
	TypeAdminProposed       Type = "protocol.admin_proposed"
	TypeAdminAccepted       Type = "protocol.admin_accepted"
	TypeProtocolPaused      Type = "protocol.paused"
	TypeProtocolUnpaused    Type = "protocol.unpaused"
	TypeTreasuryWithdrawn   Type = "protocol.treasury_withdrawn"
	TypePositionOpened      Type = "position.opened"
	TypePositionClosed      Type = "position.closed"
	TypePositionValueSet    Type = "position.value_updated"
	TypeEmergencyWithdrawal Type = "position.emergency_withdrawn"
	TypeDisputeFiled        Type = "dispute.filed"
	TypeDisputeResolved     Type = "dispute.resolved"
	TypeTierVerified        Type = "reputation.tier_verified"
	TypeTierConfigured      Type = "reputation.tier_configured"
	TypeVerifyingKeySet     Type = "reputation.verifying_key_set"
)

// Event 是对外发布的状态变更通知。
type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	OccurredAt int64          `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// New 构造一条带唯一 ID 的事件。
func New(eventType Type, payload map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().Unix(),
		Payload:    payload,
	}
}

// Publisher 负责将事件投递到外部总线。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}
