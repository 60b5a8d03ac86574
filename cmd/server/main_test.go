package main

import (
	"testing"

	"gorm.io/gorm/logger"
)

func TestGormLogLevel(t *testing.T) {
	cases := map[string]logger.LogLevel{
		"debug": logger.Info,
		"info":  logger.Warn,
		"warn":  logger.Warn,
		"error": logger.Error,
		"":      logger.Warn,
	}
	for level, want := range cases {
		if got := gormLogLevel(level); got != want {
			t.Errorf("%q: expected %v, got %v", level, want, got)
		}
	}
}
