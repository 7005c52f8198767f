package protocol

import (
	"github.com/google/uuid"

	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/models"
)

const (
	CommandAdd    = "add"
	CommandUpdate = "update"
	CommandRemove = "remove"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Command is the envelope the content side sends to the store owner
type Command struct {
	ID    string            `json:"id"`
	Type  string            `json:"type"` // "add", "update", "remove"
	Entry models.StockEntry `json:"entry"`
}

// Ack acknowledges one command by ID
type Ack struct {
	ID      string             `json:"id"`
	Status  string             `json:"status"` // "success", "error"
	Message string             `json:"message,omitempty"`
	Entry   *models.StockEntry `json:"entry,omitempty"`
}

func (a Ack) OK() bool { return a.Status == StatusSuccess }

// NewCommand stamps a fresh ID. Retries must resend the same Command, not a
// new one.
func NewCommand(typ string, entry models.StockEntry) Command {
	return Command{ID: uuid.NewString(), Type: typ, Entry: entry}
}

const EventPrice = "price"

// Event is pushed by the store owner to every connected content context
type Event struct {
	Type   string              `json:"type"`
	Update *models.StockUpdate `json:"update,omitempty"`
}
