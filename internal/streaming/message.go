package streaming

import (
	"encoding/json"
	"errors"
	"time"

	"feeindex/internal/domain"

	"github.com/shopspring/decimal"
)

type MessageType string

const (
	MessageTypeScanRequest MessageType = "scan_request"
	MessageTypeFee         MessageType = "fee"
)

// Message is the payload of every record on the scan and fee topics.
type Message struct {
	Type       MessageType       `json:"type"`
	Pool       string            `json:"pool"`
	TraceID    string            `json:"trace_id,omitempty"`
	TaskID     string            `json:"task_id,omitempty"`
	Action     domain.ActionType `json:"action,omitempty"`
	TxHash     string            `json:"tx_hash,omitempty"`
	Amount     *decimal.Decimal  `json:"amount,omitempty"`
	Status     domain.RateStatus `json:"status,omitempty"`
	ProducedAt time.Time         `json:"produced_at"`
}

func Encode(msg Message) ([]byte, error) {
	if err := validate(msg); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if err := validate(msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func validate(msg Message) error {
	if msg.Pool == "" {
		return errors.New("pool is required")
	}
	switch msg.Type {
	case MessageTypeScanRequest:
		if msg.TaskID == "" {
			return errors.New("task_id is required")
		}
	case MessageTypeFee:
		if msg.TxHash == "" || msg.Amount == nil {
			return errors.New("tx_hash and amount are required")
		}
	case "":
		return errors.New("message type is required")
	default:
		return errors.New("unknown message type " + string(msg.Type))
	}
	return nil
}

// ScanTask rebuilds the task carried by a scan request.
func (m Message) ScanTask() domain.ScanTask {
	return domain.ScanTask{ID: m.TaskID, Action: m.Action, State: domain.TaskPending}
}
