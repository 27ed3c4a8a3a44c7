package schedule_test

import (
	"testing"
	"time"

	"github.com/glizzus/voice-relay/internal/schedule"
	"github.com/google/go-cmp/cmp"
)

func TestCronNextN(t *testing.T) {
	after := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	table := []struct {
		cron string
		n    int
		want []time.Time
	}{
		{
			cron: "*/5 * * * *",
			n:    3,
			want: []time.Time{
				time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
				time.Date(2025, 3, 14, 9, 35, 0, 0, time.UTC),
				time.Date(2025, 3, 14, 9, 40, 0, 0, time.UTC),
			},
		},
		{
			cron: "0 * * * *",
			n:    2,
			want: []time.Time{
				time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
				time.Date(2025, 3, 14, 11, 0, 0, 0, time.UTC),
			},
		},
		{
			cron: "* * * * * * *",
			n:    2,
			want: []time.Time{
				time.Date(2025, 3, 14, 9, 26, 54, 0, time.UTC),
				time.Date(2025, 3, 14, 9, 26, 55, 0, time.UTC),
			},
		},
	}

	for _, tc := range table {
		t.Run(tc.cron, func(t *testing.T) {
			cron, err := schedule.ParseCron(tc.cron)
			if err != nil {
				t.Fatalf("ParseCron(%q) returned error: %v", tc.cron, err)
			}
			got, err := cron.NextN(after, tc.n)
			if err != nil {
				t.Fatalf("NextN(%q) returned error: %v", tc.cron, err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("NextN(%q) mismatch (-want +got):\n%s", tc.cron, diff)
			}
			if got := cron.Next(after); !got.Equal(tc.want[0]) {
				t.Errorf("Next(%q) = %v, want %v", tc.cron, got, tc.want[0])
			}
		})
	}
}

func TestParseCronFailure(t *testing.T) {
	for _, spec := range []string{"every minute", "* * *", ""} {
		t.Run(spec, func(t *testing.T) {
			if _, err := schedule.ParseCron(spec); err == nil {
				t.Fatalf("expected error for %q", spec)
			}
			if err := schedule.ValidateCron(spec); err == nil {
				t.Fatalf("expected ValidateCron to reject %q", spec)
			}
		})
	}
}

func TestCronNextNRejectsZeroCount(t *testing.T) {
	cron, err := schedule.ParseCron("*/5 * * * *")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, err := cron.NextN(time.Now(), 0); err == nil {
		t.Fatalf("expected error but got result: %v", got)
	}
}
