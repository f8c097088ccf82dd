package session

import (
	"testing"
	"time"

	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/stretchr/testify/assert"
)

func TestRefundFraction(t *testing.T) {
	start := time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		by   models.Role
		now  time.Time
		want float64
	}{
		{"mentee more than 24h before", models.RoleMentee, start.Add(-25 * time.Hour), 1.0},
		{"mentee exactly at 24h boundary", models.RoleMentee, start.Add(-24 * time.Hour), 0.5},
		{"mentee inside 24h", models.RoleMentee, start.Add(-2 * time.Hour), 0.5},
		{"mentee after start", models.RoleMentee, start.Add(time.Minute), 0},
		{"mentor inside 24h", models.RoleMentor, start.Add(-time.Hour), 1.0},
		{"mentor after start", models.RoleMentor, start.Add(time.Hour), 1.0},
		{"admin always full", models.RoleAdmin, start.Add(time.Hour), 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RefundFraction(tt.by, tt.now, start))
		})
	}
}

func TestMentorNet(t *testing.T) {
	net, commission := MentorNet(100)
	assert.Equal(t, 85.0, net)
	assert.Equal(t, 15.0, commission)

	net, commission = MentorNet(0)
	assert.Equal(t, 0.0, net)
	assert.Equal(t, 0.0, commission)

	net, commission = MentorNet(59.99)
	assert.InDelta(t, 50.99, net, 0.01)
	assert.InDelta(t, 9.00, commission, 0.01)
}
