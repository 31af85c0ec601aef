package dispatch

import "time"

// ChannelPayload is the fully platform-specific message handed to a Gateway.
// One payload carries a section for every channel; each gateway reads the
// sections it understands.
type ChannelPayload struct {
	Token   string            `json:"token"`
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Data    map[string]string `json:"data"`
	Android AndroidSection    `json:"android"`
	APNS    APNSSection       `json:"apns"`
	Webpush WebpushSection    `json:"webpush"`
}

// AndroidSection holds FCM Android delivery options.
type AndroidSection struct {
	Priority       string        `json:"priority"`
	TTL            time.Duration `json:"ttl"`
	ChannelID      string        `json:"channelId"`
	DefaultSound   bool          `json:"defaultSound"`
	DefaultVibrate bool          `json:"defaultVibrate"`
}

// APNSSection holds Apple delivery headers and aps dictionary values.
type APNSSection struct {
	Headers          map[string]string `json:"headers"`
	Sound            string            `json:"sound"`
	Badge            int               `json:"badge"`
	ContentAvailable bool              `json:"contentAvailable"`
	MutableContent   bool              `json:"mutableContent"`
}

// WebpushSection holds Web Push protocol headers.
type WebpushSection struct {
	Headers map[string]string `json:"headers"`
}
