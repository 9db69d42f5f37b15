package translate

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/nhle/auditwatch/internal/model"
)

// Source tables the translator understands.
const (
	TableMessages    = "messages"
	TableAuditStatus = "audit_status_updates"
	TablePayments    = "payment_transactions"
)

var (
	errUnknownTable = errors.New("unknown table")
	errNotInsert    = errors.New("not an insert")
)

// RowID is a primary or foreign key. Keys arrive as JSON strings (uuid)
// or numbers (bigint) depending on the table.
type RowID string

func (id *RowID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RowID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("row id: %w", err)
	}
	*id = RowID(n.String())
	return nil
}

// MessageRow is a row of the messages table.
type MessageRow struct {
	ID             RowID  `json:"id" validate:"required"`
	SenderID       RowID  `json:"sender_id" validate:"required"`
	RecipientID    RowID  `json:"recipient_id" validate:"required"`
	Content        string `json:"content" validate:"required"`
	AuditRequestID RowID  `json:"audit_request_id"`
}

// AuditStatusRow is a row of the audit_status_updates table.
type AuditStatusRow struct {
	ID             RowID  `json:"id" validate:"required"`
	AuditRequestID RowID  `json:"audit_request_id" validate:"required"`
	Status         string `json:"status" validate:"required"`
	Message        string `json:"message"`
	UserID         RowID  `json:"user_id"`
}

// PaymentRow is a row of the payment_transactions table.
type PaymentRow struct {
	ID             RowID       `json:"id" validate:"required"`
	Amount         json.Number `json:"amount" validate:"required"`
	Currency       string      `json:"currency"`
	Status         string      `json:"status" validate:"required"`
	AuditRequestID RowID       `json:"audit_request_id"`
	UserID         RowID       `json:"user_id"`
}

// Event is a decoded row insert. The set of implementations is closed:
// MessageInserted, AuditStatusInserted and PaymentInserted.
type Event interface {
	event()
}

type MessageInserted struct{ Row MessageRow }

type AuditStatusInserted struct{ Row AuditStatusRow }

type PaymentInserted struct{ Row PaymentRow }

func (MessageInserted) event()     {}
func (AuditStatusInserted) event() {}
func (PaymentInserted) event()     {}

// Decode parses a raw change into a typed Event. Only inserts on the known
// tables decode; required fields are checked.
func Decode(v *validator.Validate, ev model.ChangeEvent) (Event, error) {
	if ev.Type != model.EventInsert {
		return nil, fmt.Errorf("%s on %s: %w", ev.Type, ev.Table, errNotInsert)
	}

	switch ev.Table {
	case TableMessages:
		var row MessageRow
		if err := decodeRow(v, ev.Record, &row); err != nil {
			return nil, err
		}
		return MessageInserted{Row: row}, nil
	case TableAuditStatus:
		var row AuditStatusRow
		if err := decodeRow(v, ev.Record, &row); err != nil {
			return nil, err
		}
		return AuditStatusInserted{Row: row}, nil
	case TablePayments:
		var row PaymentRow
		if err := decodeRow(v, ev.Record, &row); err != nil {
			return nil, err
		}
		return PaymentInserted{Row: row}, nil
	default:
		return nil, fmt.Errorf("%q: %w", ev.Table, errUnknownTable)
	}
}

func decodeRow(v *validator.Validate, raw json.RawMessage, row interface{}) error {
	if len(raw) == 0 {
		return errors.New("empty record")
	}
	if err := json.Unmarshal(raw, row); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	if err := v.Struct(row); err != nil {
		return fmt.Errorf("validating record: %w", err)
	}
	return nil
}
