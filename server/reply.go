package server

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/numkem/hookscript/executor"
)

// Reply is what a serve request gets back. Body is the exchange body after the
// script ran: the payload on success, the original body otherwise.
type Reply struct {
	Result *executor.InvocationResult `json:"result,omitempty"`
	Body   string                     `json:"body"`
	Error  string                     `json:"error,omitempty"`
}

func replyMessage(msg *nats.Msg, rep *Reply, fields log.Fields) error {
	// Send a reply if the message has a reply subject
	if msg.Reply == "" {
		return nil
	}

	payload, err := json.Marshal(rep)
	if err != nil {
		log.WithFields(fields).Errorf("failed to serialize script reply to JSON: %v", err)
		return fmt.Errorf("failed to serialize script reply to JSON: %w", err)
	}

	log.WithFields(fields).Debugf("sent reply: %s", string(payload))
	if err := msg.Respond(payload); err != nil {
		log.WithFields(fields).Errorf("failed to publish reply after running script: %v", err)
		return err
	}

	return nil
}

func replyWithError(msg *nats.Msg, resErr error, fields log.Fields) {
	log.WithFields(fields).Error(resErr)
	replyMessage(msg, &Reply{Error: resErr.Error()}, fields)
}
