//go:build integration

package dispatchservice_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tinywideclouds/go-dispatch-service/dispatchservice"
	"github.com/tinywideclouds/go-dispatch-service/dispatchservice/config"
	fsStore "github.com/tinywideclouds/go-dispatch-service/internal/storage/firestore"
	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

func TestDispatchService_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	logger := newTestLogger()
	projectID := "test-project-integ"

	// 1. Emulators
	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = psClient.Close() })

	fsConn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	fsClient, err := firestore.NewClient(ctx, projectID, fsConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fsClient.Close() })

	store := fsStore.NewRequestStore(fsClient, fsStore.DefaultCollections(), logger)

	t.Run("Pub/Sub intake: duplicate events send once", func(t *testing.T) {
		topicID := "dispatch-events-" + uuid.NewString()
		subID := topicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, topicID, subID)

		gw := &countingGateway{}
		consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(subID)
		consumer, err := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
		require.NoError(t, err)

		cfg := baseConfig(config.IntakePubsub)
		cfg.NumPipelineWorkers = 2
		svc, err := dispatchservice.New(cfg, dispatchservice.Dependencies{
			Gateway:        gw,
			Requests:       store,
			Audit:          store,
			Consumer:       consumer,
			AuthMiddleware: fakeAuth("urn:sm:user:integ"),
		}, logger)
		require.NoError(t, err)

		svcCtx, svcCancel := context.WithCancel(ctx)
		defer svcCancel()
		go func() { _ = svc.Start(svcCtx) }()
		t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

		id, err := store.CreateRequest(ctx, dispatch.NotificationIntent{
			RecipientToken: "android-token-999",
			Title:          "Time for pills",
			Category:       dispatch.CategoryMedicationReminder,
			SourceID:       "guardian-integ",
		})
		require.NoError(t, err)

		payload, _ := json.Marshal(dispatch.RequestEvent{RequestID: id})
		for i := 0; i < 2; i++ {
			_, err := psClient.Publisher(topicID).Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
			require.NoError(t, err)
		}

		require.Eventually(t, func() bool {
			rec, err := store.GetRecord(ctx, id)
			return err == nil && rec.Processed
		}, 15*time.Second, 200*time.Millisecond)

		// Give the second delivery time to be observed and skipped.
		time.Sleep(2 * time.Second)
		assert.Equal(t, 1, gw.Count())

		rec, err := store.GetRecord(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "msg-android-token-999", rec.MessageID)
	})

	t.Run("Firestore watch intake: new document is sent", func(t *testing.T) {
		gw := &countingGateway{}
		svc, err := dispatchservice.New(baseConfig(config.IntakeFirestoreWatch), dispatchservice.Dependencies{
			Gateway:        gw,
			Requests:       store,
			Audit:          store,
			Watcher:        store,
			AuthMiddleware: fakeAuth("urn:sm:user:integ"),
		}, logger)
		require.NoError(t, err)

		svcCtx, svcCancel := context.WithCancel(ctx)
		defer svcCancel()
		go func() { _ = svc.Start(svcCtx) }()
		t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

		id, err := store.CreateRequest(ctx, dispatch.NotificationIntent{RecipientToken: "watched-token"})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			rec, err := store.GetRecord(ctx, id)
			return err == nil && rec.Processed
		}, 15*time.Second, 200*time.Millisecond)
	})
}

func createPubsubResources(t *testing.T, ctx context.Context, client *pubsub.Client, projectID, topicID, subID string) {
	t.Helper()
	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.TopicAdminClient.DeleteTopic(context.Background(), &pubsubpb.DeleteTopicRequest{Topic: topicName})
	})

	subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
	sub := &pubsubpb.Subscription{
		Name:               subName,
		Topic:              topicName,
		AckDeadlineSeconds: 10,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1},
		},
	}
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, sub)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.SubscriptionAdminClient.DeleteSubscription(context.Background(), &pubsubpb.DeleteSubscriptionRequest{Subscription: subName})
	})
}
