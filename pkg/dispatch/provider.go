package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voyagerhq/voyager/pkg/models"
)

// SendRequest is everything a provider needs to submit one message.
type SendRequest struct {
	CustomerID string
	Phone      string
	TemplateID string
	Body       string
	Variables  map[string]string
	Buttons    []models.Button
}

// Submission is the provider's acknowledgement. The final outcome
// arrives later through the delivery webhook.
type Submission struct {
	MessageID   string
	SubmittedAt time.Time
}

// Provider submits messages to a messaging channel.
type Provider interface {
	Send(ctx context.Context, req *SendRequest) (*Submission, error)
}

// PermanentError marks a send failure that retrying cannot fix, such as
// an invalid recipient or a rejected template.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent send failure: %s", e.Reason)
}

// IsPermanent reports whether err is a non-retryable provider failure.
func IsPermanent(err error) bool {
	var permanent *PermanentError

	return errors.As(err, &permanent)
}
