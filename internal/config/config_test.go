package config

import "testing"

func TestValidLogLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		if !validLogLevel(level) {
			t.Errorf("expected %q to be valid", level)
		}
	}
	if validLogLevel("verbose") {
		t.Error("expected \"verbose\" to be invalid")
	}
}
