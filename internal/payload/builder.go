// Package payload maps a NotificationIntent onto the channel-specific
// sections every gateway understands.
package payload

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

const (
	// AndroidTTL drops stale reminders instead of delivering them late.
	AndroidTTL = 60 * time.Second

	DefaultChannelID   = "high_importance_channel"
	TakenPillChannelID = "taken_pill_channel"
)

type presentation struct {
	title     string
	body      string
	channelID string
}

var presentations = map[dispatch.Category]presentation{
	dispatch.CategoryMedicationTaken: {
		title:     "Medication Taken",
		body:      "A scheduled medication was taken",
		channelID: TakenPillChannelID,
	},
}

var defaultPresentation = presentation{
	title:     "Medication Reminder",
	body:      "Medication notification",
	channelID: DefaultChannelID,
}

func presentationFor(c dispatch.Category) presentation {
	if p, ok := presentations[c]; ok {
		return p
	}
	return defaultPresentation
}

// ChannelID returns the Android notification channel for a category.
func ChannelID(c dispatch.Category) string {
	return presentationFor(c.OrDefault()).channelID
}

// Build produces the channel payload for an already validated intent.
// The only input that is not taken from the intent is now, used for the
// generated timestamp.
func Build(intent dispatch.NotificationIntent, now time.Time) dispatch.ChannelPayload {
	category := intent.Category.OrDefault()
	p := presentationFor(category)

	title := intent.Title
	if title == "" {
		title = p.title
	}
	body := intent.Body
	if body == "" {
		body = p.body
	}

	data := make(map[string]string, len(intent.StructuredData)+4)
	for k, v := range intent.StructuredData {
		data[k] = stringify(v)
	}
	if data["timestamp"] == "" {
		data["timestamp"] = strconv.FormatInt(now.UnixMilli(), 10)
	}
	if data["type"] == "" {
		data["type"] = string(category)
	}
	// The receiving app reads these programmatically; they always mirror
	// what is displayed.
	data["title"] = title
	data["body"] = body

	return dispatch.ChannelPayload{
		Token: intent.RecipientToken,
		Title: title,
		Body:  body,
		Data:  data,
		Android: dispatch.AndroidSection{
			Priority:       "high",
			TTL:            AndroidTTL,
			ChannelID:      p.channelID,
			DefaultSound:   true,
			DefaultVibrate: true,
		},
		APNS: dispatch.APNSSection{
			Headers: map[string]string{
				"apns-priority":  "10",
				"apns-push-type": "alert",
			},
			Sound:            "default",
			Badge:            1,
			ContentAvailable: true,
			MutableContent:   true,
		},
		Webpush: dispatch.WebpushSection{
			Headers: map[string]string{"Urgency": "high"},
		},
	}
}

// stringify coerces a data value to the string form the data channel
// requires.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
