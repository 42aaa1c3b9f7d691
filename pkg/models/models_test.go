package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryValid(t *testing.T) {
	for _, c := range Categories {
		assert.True(t, c.Valid(), "category %q", c)
	}
	assert.False(t, Category("warp_drives").Valid())
	assert.False(t, Category("").Valid())
}

func TestInstallationStatusTransitions(t *testing.T) {
	tests := []struct {
		from    InstallationStatus
		to      InstallationStatus
		allowed bool
	}{
		{StatusNotInstalled, StatusInstalling, true},
		{StatusInstalling, StatusInstalled, true},
		{StatusInstalling, StatusFailed, true},
		{StatusFailed, StatusNotInstalled, true},
		{StatusNotInstalled, StatusInstalled, false},
		{StatusInstalled, StatusInstalling, false},
		{StatusFailed, StatusInstalled, false},
		{StatusInstalled, StatusNotInstalled, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}
