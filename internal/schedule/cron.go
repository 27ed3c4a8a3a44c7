package schedule

import (
	"fmt"
	"time"

	"github.com/hashicorp/cronexpr"
)

// Cron is a parsed cron expression.
type Cron struct {
	spec string
	expr *cronexpr.Expression
}

func ParseCron(spec string) (*Cron, error) {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return &Cron{spec: spec, expr: expr}, nil
}

func (c *Cron) String() string {
	return c.spec
}

// Next returns the first run time strictly after t. The zero time means
// the expression never fires again.
func (c *Cron) Next(t time.Time) time.Time {
	return c.expr.Next(t)
}

// NextN returns up to n run times strictly after t.
func (c *Cron) NextN(t time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, fmt.Errorf("count must be greater than 0")
	}
	return c.expr.NextN(t, uint(n)), nil
}

func ValidateCron(spec string) error {
	_, err := ParseCron(spec)
	return err
}
