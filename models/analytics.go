package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ServiceAnalytics struct {
	ServiceID       int64  `json:"service_id"`
	ServiceName     string `json:"service_name"`
	TotalUsers      int    `json:"total_users"`
	CompletedUsers  int    `json:"completed_users"`
	SkippedUsers    int    `json:"skipped_users"`
	AverageWaitTime string `json:"average_wait_time"` // HH:MM:SS
}

// AverageWait parses AverageWaitTime. An empty value is a zero wait.
func (a ServiceAnalytics) AverageWait() (time.Duration, error) {
	if strings.TrimSpace(a.AverageWaitTime) == "" {
		return 0, nil
	}
	return ParseWaitDuration(a.AverageWaitTime)
}

// AverageWaitMinutes returns the average wait in minutes, rounded to two
// decimal places.
func (a ServiceAnalytics) AverageWaitMinutes() (decimal.Decimal, error) {
	d, err := a.AverageWait()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(d.Seconds()).Div(decimal.NewFromInt(60)).Round(2), nil
}

// CompletionRate is completed/total as a percentage with two decimals.
func (a ServiceAnalytics) CompletionRate() decimal.Decimal {
	if a.TotalUsers <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(a.CompletedUsers)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(a.TotalUsers))).
		Round(2)
}

// ParseWaitDuration parses the server's duration format:
// "[D ]HH:MM:SS[.ffffff]".
func ParseWaitDuration(s string) (time.Duration, error) {
	raw := strings.TrimSpace(s)
	var days int64
	if i := strings.IndexByte(raw, ' '); i >= 0 {
		n, err := strconv.ParseInt(raw[:i], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse wait duration %q: days: %w", s, err)
		}
		days = n
		raw = strings.TrimSpace(raw[i+1:])
	}

	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("parse wait duration %q: want HH:MM:SS", s)
	}
	hours, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse wait duration %q: hours: %w", s, err)
	}
	minutes, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("parse wait duration %q: bad minutes", s)
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || seconds < 0 || seconds >= 60 {
		return 0, fmt.Errorf("parse wait duration %q: bad seconds", s)
	}

	total := time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return total, nil
}

// FormatWaitDuration renders d the way the server does.
func FormatWaitDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	sec := d / time.Second
	if days > 0 {
		return fmt.Sprintf("%d %02d:%02d:%02d", days, h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}
