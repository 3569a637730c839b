package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/advisord/advisord/pkg/logger"
)

var durationRe = regexp.MustCompile(`^\s*(\d+)\s*([smhdwySMHDWY])\s*$`)

// ParseDuration parses compact duration strings like "60s", "4h", "7d",
// "2y". Weeks are 7 days; years are 365 days.
func ParseDuration(value string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(value)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q: expected '<int><s|m|h|d|w|y>'", value)
	}
	amount, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	switch strings.ToLower(m[2]) {
	case "s":
		return time.Duration(amount) * time.Second, nil
	case "m":
		return time.Duration(amount) * time.Minute, nil
	case "h":
		return time.Duration(amount) * time.Hour, nil
	case "d":
		return time.Duration(amount) * 24 * time.Hour, nil
	case "w":
		return time.Duration(amount) * 7 * 24 * time.Hour, nil
	default:
		return time.Duration(amount) * 365 * 24 * time.Hour, nil
	}
}

// MustParseDuration parses a compact duration, falling back to a default
// on error. Used for config fields that always carry a valid default.
func MustParseDuration(value string, fallback time.Duration) time.Duration {
	d, err := ParseDuration(value)
	if err != nil {
		logger.Warn("invalid duration in config, using fallback",
			zap.String("value", value),
			zap.Duration("fallback", fallback),
			zap.Error(err))
		return fallback
	}
	return d
}
