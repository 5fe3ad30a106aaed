package rabbitmq

import (
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

// JobMessage is the queue payload. Token is the caller's credential, if any;
// the job row itself never stores it.
type JobMessage struct {
	JobID string `json:"job_id"`
	Token string `json:"token,omitempty"`
}

var ErrBadMessage = errors.New("rabbitmq: bad job message")

func DecodeJob(body []byte) (JobMessage, error) {
	var m JobMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return JobMessage{}, errors.Join(ErrBadMessage, err)
	}
	if m.JobID == "" {
		return JobMessage{}, ErrBadMessage
	}
	return m, nil
}

func RetryQueue(queue string) string { return queue + ".retry" }

func DeadLetterQueue(queue string) string { return queue + ".dlq" }

// DeclareTopology declares the main queue, its retry queue and its DLQ.
// Publisher and worker call it with the same arguments so the declarations
// never conflict.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	mainQ := queue
	retryQ := RetryQueue(queue)
	dlqQ := DeadLetterQueue(queue)

	// DLQ
	if _, err := ch.QueueDeclare(
		dlqQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	// Retry queue: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(
		retryQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": mainQ,
		},
	); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	_, err := ch.QueueDeclare(
		mainQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		},
	)
	return err
}
