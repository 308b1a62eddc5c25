//go:build !windows

package mynet

import (
	"testing"

	"github.com/go-logr/logr/testr"
)

func TestInitializeFirewallIsNoop(t *testing.T) {
	for range 2 {
		if err := InitializeFirewall(testr.New(t)); err != nil {
			t.Errorf("InitializeFirewall: %v", err)
		}
	}
}
