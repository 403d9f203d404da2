package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wearable-sync/internal/models"
	"github.com/wearable-sync/internal/types"
)

func setupNotifier(t *testing.T) (*RedisNotifier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	notifier, err := NewRedisNotifier(NewRedisCacheFromClient(client), "wearable:alerts")
	require.NoError(t, err)
	return notifier, mr
}

func testAlert(message string) *models.Alert {
	value, threshold := 112.0, 100.0
	return &models.Alert{
		ID:        "a1",
		UserID:    "u1",
		AlertType: types.AlertHighHeartRate,
		Severity:  types.SeverityWarning,
		Message:   message,
		Value:     &value,
		Threshold: &threshold,
		CreatedAt: time.Now().UTC(),
	}
}

func TestNewRedisNotifier_Validation(t *testing.T) {
	_, err := NewRedisNotifier(nil, "c")
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err = NewRedisNotifier(NewRedisCacheFromClient(client), "")
	assert.Error(t, err)
}

func TestRedisNotifier_PublishesToChannel(t *testing.T) {
	notifier, _ := setupNotifier(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := notifier.Subscribe(ctx)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, notifier.SendNotification(ctx, "u1", testAlert("resting heart rate high")))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "wearable:alerts", msg.Channel)

	var got Notification
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, types.AlertHighHeartRate, got.Alert.AlertType)
}

func TestRedisNotifier_HistoryIsCappedAndNewestFirst(t *testing.T) {
	notifier, mr := setupNotifier(t)
	ctx := context.Background()

	for i := 0; i < notificationHistoryLen+5; i++ {
		require.NoError(t, notifier.SendNotification(ctx, "u1", testAlert("alert")))
	}
	require.NoError(t, notifier.SendNotification(ctx, "u1", testAlert("latest")))

	list, err := mr.List("notifications:u1")
	require.NoError(t, err)
	assert.Len(t, list, notificationHistoryLen)
	assert.True(t, mr.TTL("notifications:u1") > 0)

	recent, err := notifier.Recent(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "latest", recent[0].Alert.Message)
}

func TestRedisNotifier_RecentEmpty(t *testing.T) {
	notifier, _ := setupNotifier(t)

	recent, err := notifier.Recent(context.Background(), "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestRedisNotifier_ServerDown(t *testing.T) {
	notifier, mr := setupNotifier(t)
	mr.Close()

	err := notifier.SendNotification(context.Background(), "u1", testAlert("x"))
	assert.Error(t, err)
}
