package pyramid

import (
	"fmt"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

type settings struct {
	log logrus.FieldLogger
}

// Option configures readers, writers, views and stores.
type Option func(*settings)

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *settings) {
		if log != nil {
			s.log = log
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{log: logrus.StandardLogger()}
	for _, o := range opts {
		o(&s)
	}
	return s
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// prepare fills zero fields of cfg from their default tags and validates it.
func prepare(cfg any) error {
	if err := defaults.Set(cfg); err != nil {
		return fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
