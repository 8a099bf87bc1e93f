package alerts

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidCluster means the monitor cluster label does not follow the
	// webmonitor/_log/_metric naming convention.
	ErrInvalidCluster = errors.New("invalid cluster")
	// ErrMissingField means a required label or annotation was absent
	ErrMissingField = errors.New("missing required field")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Annotations are the free-text parts of an event. Extra keys are ignored.
type Annotations struct {
	Summary     string `json:"summary" validate:"required"`
	Description string `json:"description" validate:"required"`
}

// RawEvent is one anomaly report as submitted to the receiver
type RawEvent struct {
	Labels      map[string]string `json:"labels" validate:"required"`
	Annotations Annotations       `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
}

// Validate checks that the required fields are present
func (e RawEvent) Validate() error {
	if err := validate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s", ErrMissingField, strings.ToLower(verrs[0].Field()))
		}
		return fmt.Errorf("%w: %v", ErrMissingField, err)
	}
	return nil
}

// PayloadAdapter turns a receiver request body into raw events
type PayloadAdapter interface {
	// GetSourceType returns the source type name (e.g., "alertmanager")
	GetSourceType() string

	// ParsePayload parses the raw request body. A single request can carry
	// many events.
	ParsePayload(body []byte) ([]RawEvent, error)
}

// BaseAdapter provides common functionality for all adapters
type BaseAdapter struct {
	SourceType string
}

// GetSourceType returns the source type name
func (b *BaseAdapter) GetSourceType() string {
	return b.SourceType
}
