package chzzk

import (
	"encoding/json"
	"time"
)

// ChatEntry is one element of a live broadcast body. Only the fields the
// collector reads are modeled.
type ChatEntry struct {
	Content     string `json:"content"`
	Msg         string `json:"msg"`
	Profile     string `json:"profile"`
	MsgTime     int64  `json:"msgTime"`
	MessageTime int64  `json:"messageTime"`
	CreateTime  int64  `json:"createTime"`
}

// Text returns the message text; content wins over msg.
func (e ChatEntry) Text() string {
	if e.Content != "" {
		return e.Content
	}
	return e.Msg
}

// Nickname returns the sender nickname embedded in the profile JSON string, if any.
func (e ChatEntry) Nickname() string {
	if e.Profile == "" {
		return ""
	}
	var p struct {
		Nickname string `json:"nickname"`
	}
	if err := json.Unmarshal([]byte(e.Profile), &p); err != nil {
		return ""
	}
	return p.Nickname
}

// SentAt returns the first non-zero of msgTime, messageTime and createTime (epoch millis).
func (e ChatEntry) SentAt() time.Time {
	for _, ms := range []int64{e.MsgTime, e.MessageTime, e.CreateTime} {
		if ms > 0 {
			return time.UnixMilli(ms).UTC()
		}
	}
	return time.Time{}
}
