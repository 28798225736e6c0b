package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, "none", cfg.Events.Broker)
	assert.Equal(t, 2, cfg.Waitlist.Workers)
	assert.Equal(t, uint(5), cfg.Booking.RetryAttempts)
	assert.Equal(t, 12*time.Hour, cfg.JWTTTL)
	assert.False(t, cfg.Reservation.EnforceSequence)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoad_NestedOverrides(t *testing.T) {
	t.Setenv("EVENTS_BROKER", "kafka")
	t.Setenv("EVENTS_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("WAITLIST_WORKERS", "4")
	t.Setenv("RESERVATION_ENFORCE_SEQUENCE", "true")
	t.Setenv("STUDIO_TIMEZONE", "Asia/Almaty")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "kafka", cfg.Events.Broker)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.Kafka.Brokers)
	assert.Equal(t, 4, cfg.Waitlist.Workers)
	assert.True(t, cfg.Reservation.EnforceSequence)
	assert.Equal(t, "Asia/Almaty", cfg.Location().String())
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown broker", "EVENTS_BROKER", "nats"},
		{"zero workers", "WAITLIST_WORKERS", "0"},
		{"zero queue", "WAITLIST_QUEUE_SIZE", "0"},
		{"bad timezone", "STUDIO_TIMEZONE", "Mars/Olympus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_ProdRequiresSecret(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "a-real-secret")
	_, err = Load()
	assert.NoError(t, err)
}
