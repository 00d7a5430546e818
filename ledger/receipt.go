package ledger

// Receipt statuses reported by the ledger once a submission has been
// durably included.
const (
	ReceiptStatusOK     = "ok"
	ReceiptStatusFailed = "failed"
)

// Event is one event emitted during transaction execution. Attributes are
// flat string pairs; typed decoding happens in the escrow package.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Receipt is the durable confirmation record for an accepted submission.
type Receipt struct {
	TxHash    string  `json:"txHash"`
	Height    uint64  `json:"height"`
	Status    string  `json:"status"`
	Reason    string  `json:"reason,omitempty"`
	Events    []Event `json:"events"`
	Timestamp int64   `json:"timestamp"`
}

// Failed reports whether the ledger included but reverted the submission.
func (r *Receipt) Failed() bool {
	return r != nil && r.Status == ReceiptStatusFailed
}
