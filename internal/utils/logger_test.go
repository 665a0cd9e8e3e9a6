package utils

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestSetQuietModeRaisesAndRestoresLevel(t *testing.T) {
	InitLogger(false)
	if got := zerolog.GlobalLevel(); got != zerolog.InfoLevel {
		t.Fatalf("GlobalLevel() after InitLogger(false) = %v, want Info", got)
	}

	SetQuietMode(true)
	if got := zerolog.GlobalLevel(); got != zerolog.WarnLevel {
		t.Errorf("GlobalLevel() after SetQuietMode(true) = %v, want Warn", got)
	}

	SetQuietMode(false)
	if got := zerolog.GlobalLevel(); got != zerolog.InfoLevel {
		t.Errorf("GlobalLevel() after SetQuietMode(false) = %v, want restored Info", got)
	}
}

func TestSetQuietModeRestoresDebugLevel(t *testing.T) {
	InitLogger(true)
	SetQuietMode(true)
	SetQuietMode(false)
	if got := zerolog.GlobalLevel(); got != zerolog.DebugLevel {
		t.Errorf("GlobalLevel() after quiet round-trip = %v, want restored Debug", got)
	}
}
