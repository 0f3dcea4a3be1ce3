package dto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEndpointPatternValidation(t *testing.T) {
	valid := []string{"*", "/api/v1/login", "/api/v1/login*", "/"}
	for _, pattern := range valid {
		req := CreateConfigRequest{Endpoint: pattern, MaxRequests: 10, WindowSeconds: 60}
		assert.NoError(t, req.Validate(), pattern)
	}

	invalid := []string{"", "api/v1/login", "/api/*/login", "/api/v1/**", "*foo"}
	for _, pattern := range invalid {
		req := CreateConfigRequest{Endpoint: pattern, MaxRequests: 10, WindowSeconds: 60}
		assert.Error(t, req.Validate(), pattern)
	}
}

func TestCreateOverrideRequestValidation(t *testing.T) {
	req := CreateOverrideRequest{UserID: "u1", Path: "/api/v1/login", MaxRequests: 10, WindowSeconds: 60}
	assert.NoError(t, req.Validate())

	req.MaxRequests = 0
	assert.Error(t, req.Validate())

	req.MaxRequests = 10
	req.Path = "no-slash"
	assert.Error(t, req.Validate())
}

func TestBlacklistIPRequestValidation(t *testing.T) {
	req := BlacklistIPRequest{IP: "10.0.0.1", Reason: "abuse"}
	assert.NoError(t, req.Validate())

	req.IP = "not-an-ip"
	assert.Error(t, req.Validate())

	req.IP = "10.0.0.1"
	req.Reason = ""
	assert.Error(t, req.Validate())
}

func TestFormatValidationErrors(t *testing.T) {
	req := CreateConfigRequest{Endpoint: "bad", MaxRequests: 0, WindowSeconds: 60}
	err := req.Validate()
	assert.Error(t, err)

	resp := CreateValidationErrorResponse(err)
	assert.Equal(t, 400, resp.Code)
	assert.NotEmpty(t, resp.Errors)
}
