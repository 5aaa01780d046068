package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "/api/grades/save/", cfg.GradesSavePath)
	assert.Equal(t, "csrftoken", cfg.CSRFCookieName)
	assert.Equal(t, "X-CSRFToken", cfg.CSRFHeaderName)
	assert.Equal(t, 100*time.Millisecond, cfg.BlurGrace)
	assert.Equal(t, 2000*time.Millisecond, cfg.SavedRevertDelay)
	assert.Equal(t, 3000*time.Millisecond, cfg.NotifyDuration)
	assert.Equal(t, []string{"pass", "fail"}, cfg.GradeTokens)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BLUR_GRACE_MS", "250")
	t.Setenv("SAVED_REVERT_MS", "-5")
	t.Setenv("GRADE_TOKENS", " A , B,, C ")
	t.Setenv("GRADE_MAX", "10.5")
	t.Setenv("NOTIFY_SUCCESS", "true")
	t.Setenv("ALLOWED_ORIGINS", "https://portal.example.edu")

	cfg := Load()

	assert.Equal(t, 250*time.Millisecond, cfg.BlurGrace)
	assert.Equal(t, 2000*time.Millisecond, cfg.SavedRevertDelay, "negative delay falls back")
	assert.Equal(t, []string{"A", "B", "C"}, cfg.GradeTokens)
	assert.InDelta(t, 10.5, cfg.GradeMax, 0.0001)
	assert.True(t, cfg.NotifySuccess)
	assert.Equal(t, []string{"https://portal.example.edu"}, cfg.AllowedOrigins)
}

func TestNotificationChannel(t *testing.T) {
	assert.Equal(t, "notify:abc", CacheKey.NotificationChannel("abc"))
}
