package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicledger/costing/internal/adapters/document"
	"github.com/clinicledger/costing/pkg/config"
	apperrors "github.com/clinicledger/costing/pkg/errors"
)

func TestCorruptionPolicy(t *testing.T) {
	tests := []struct {
		name   string
		driver string
		policy string
		want   document.CorruptionPolicy
	}{
		{name: "file keeps reset", driver: config.StoreDriverFile, policy: config.CorruptionPolicyReset, want: document.CorruptionPolicyReset},
		{name: "sqlite keeps fail", driver: config.StoreDriverSQLite, policy: config.CorruptionPolicyFail, want: document.CorruptionPolicyFail},
		{name: "redis never resets", driver: config.StoreDriverRedis, policy: config.CorruptionPolicyReset, want: document.CorruptionPolicyFail},
		{name: "redis fail stays fail", driver: config.StoreDriverRedis, policy: config.CorruptionPolicyFail, want: document.CorruptionPolicyFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Store: config.StoreConfig{Driver: tt.driver, CorruptionPolicy: tt.policy}}
			got, err := corruptionPolicy(cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := corruptionPolicy(&config.Config{Store: config.StoreConfig{Driver: config.StoreDriverRedis, CorruptionPolicy: "ignore"}})
	assert.True(t, apperrors.IsValidation(err))
}
