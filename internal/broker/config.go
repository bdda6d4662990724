package broker

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Config is the broker connection configuration. Retries and RequiredAcks
// are fixed when the handle is dialed; AckTimeout is the default bound for
// each publish call.
type Config struct {
	Brokers      []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	Topic        string        `env:"KAFKA_TOPIC" envDefault:"user-events"`
	ClientID     string        `env:"KAFKA_CLIENT_ID" envDefault:"lifecycle-publisher"`
	Retries      int           `env:"KAFKA_RETRIES" envDefault:"3"`
	RequiredAcks RequiredAcks  `env:"KAFKA_REQUIRED_ACKS" envDefault:"all"`
	AckTimeout   time.Duration `env:"KAFKA_ACK_TIMEOUT" envDefault:"10s"`
	DialTimeout  time.Duration `env:"KAFKA_DIAL_TIMEOUT" envDefault:"5s"`
}

// Validate reports configuration that can never connect.
func (c Config) Validate() error {
	var errs []error
	if len(c.Brokers) == 0 {
		errs = append(errs, errors.New("at least one broker address is required"))
	}
	for _, b := range c.Brokers {
		if strings.TrimSpace(b) == "" {
			errs = append(errs, errors.New("broker address must not be empty"))
			break
		}
	}
	if c.Topic == "" {
		errs = append(errs, errors.New("topic is required"))
	}
	if c.Retries < 0 {
		errs = append(errs, fmt.Errorf("retries must be >= 0, got %d", c.Retries))
	}
	if c.AckTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ack timeout must be positive, got %s", c.AckTimeout))
	}

	return errors.Join(errs...)
}

// RequiredAcks is how many replicas must confirm an append before the
// broker acknowledges it.
type RequiredAcks int

const (
	AcksAll RequiredAcks = iota
	AcksLeader
	AcksNone
)

func (a RequiredAcks) String() string {
	switch a {
	case AcksAll:
		return "all"
	case AcksLeader:
		return "leader"
	case AcksNone:
		return "none"
	default:
		return fmt.Sprintf("RequiredAcks(%d)", int(a))
	}
}

// UnmarshalText accepts all/-1, leader/one/1 and none/0.
func (a *RequiredAcks) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "all", "-1":
		*a = AcksAll
	case "leader", "one", "1":
		*a = AcksLeader
	case "none", "0":
		*a = AcksNone
	default:
		return fmt.Errorf("invalid required acks %q: want all, leader or none", text)
	}
	return nil
}

func (a RequiredAcks) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a RequiredAcks) kafka() kafka.RequiredAcks {
	switch a {
	case AcksLeader:
		return kafka.RequireOne
	case AcksNone:
		return kafka.RequireNone
	default:
		return kafka.RequireAll
	}
}
