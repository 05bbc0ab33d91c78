package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askbot/internal/config"
	"github.com/askbot/internal/retry"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		check   func(t *testing.T, ev *OuterEvent)
	}{
		{
			name: "url verification",
			body: `{"type":"url_verification","token":"t","challenge":"abc"}`,
			check: func(t *testing.T, ev *OuterEvent) {
				assert.Equal(t, "abc", ev.Challenge)
				assert.False(t, ev.IsMessage())
			},
		},
		{
			name: "message in thread with files",
			body: `{"type":"event_callback","team_id":"T1","event":{"type":"message","channel":"C1","ts":"2.0","thread_ts":"1.0","user":"U1","text":"hi",
				"files":[{"title":"a.csv","mimetype":"text/csv","url_private":"https://files/a.csv"}]}}`,
			check: func(t *testing.T, ev *OuterEvent) {
				require.True(t, ev.IsMessage())
				assert.Equal(t, "1.0", ev.Event.ThreadKey())
				require.Len(t, ev.Event.Files, 1)
				assert.Equal(t, "text/csv", ev.Event.Files[0].MimeType)
			},
		},
		{
			name: "new thread keys by ts",
			body: `{"type":"event_callback","team_id":"T1","event":{"type":"message","channel":"C1","ts":"2.0","user":"U1","text":"hi"}}`,
			check: func(t *testing.T, ev *OuterEvent) {
				assert.Equal(t, "2.0", ev.Event.ThreadKey())
			},
		},
		{
			name: "other inner event type",
			body: `{"type":"event_callback","team_id":"T1","event":{"type":"reaction_added"}}`,
			check: func(t *testing.T, ev *OuterEvent) {
				assert.False(t, ev.IsMessage())
			},
		},
		{
			name: "edited message has no user",
			body: `{"type":"event_callback","team_id":"T1","event":{"type":"message","subtype":"message_changed","channel":"C1","ts":"3.0","message":{"text":"x"}}}`,
			check: func(t *testing.T, ev *OuterEvent) {
				require.True(t, ev.IsMessage())
				assert.False(t, ev.Event.Answerable())
			},
		},
		{
			name: "file share is answerable",
			body: `{"type":"event_callback","team_id":"T1","event":{"type":"message","subtype":"file_share","channel":"C1","ts":"3.0","user":"U1"}}`,
			check: func(t *testing.T, ev *OuterEvent) {
				assert.True(t, ev.Event.Answerable())
			},
		},
		{
			name: "other bot",
			body: `{"type":"event_callback","team_id":"T1","event":{"type":"message","subtype":"bot_message","channel":"C1","ts":"3.0","bot_id":"B9"}}`,
			check: func(t *testing.T, ev *OuterEvent) {
				assert.False(t, ev.Event.Answerable())
			},
		},
		{name: "unknown outer type", body: `{"type":"app_rate_limited"}`, wantErr: true},
		{name: "message missing channel", body: `{"type":"event_callback","team_id":"T1","event":{"type":"message","ts":"1","user":"U1"}}`, wantErr: true},
		{name: "callback without event", body: `{"type":"event_callback","team_id":"T1"}`, wantErr: true},
		{name: "not json", body: `hello`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseEvent([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedPayload)
				return
			}
			require.NoError(t, err)
			tt.check(t, ev)
		})
	}
}

func TestMessageEvent_IsFrom(t *testing.T) {
	ev := &MessageEvent{BotProfile: &BotProfile{AppID: "A1"}}
	assert.True(t, ev.IsFrom("A1"))
	assert.False(t, ev.IsFrom("A2"))
	assert.False(t, ev.IsFrom(""))
	assert.False(t, (&MessageEvent{}).IsFrom("A1"))
}

func signedRequest(t *testing.T, secret, body string, ts time.Time) *http.Request {
	t.Helper()
	stamp := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", stamp, body)

	req := httptest.NewRequest(http.MethodPost, "/webhook/slack", strings.NewReader(body))
	req.Header.Set("X-Slack-Request-Timestamp", stamp)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func TestVerifyRequest(t *testing.T) {
	body := `{"type":"url_verification","token":"t","challenge":"c"}`

	got, err := VerifyRequest(signedRequest(t, "secret", body, time.Now()), "secret")
	require.NoError(t, err)
	assert.Equal(t, body, string(got))

	_, err = VerifyRequest(signedRequest(t, "other", body, time.Now()), "secret")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = VerifyRequest(signedRequest(t, "secret", body, time.Now().Add(-6*time.Minute)), "secret")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	req := httptest.NewRequest(http.MethodPost, "/webhook/slack", strings.NewReader(body))
	_, err = VerifyRequest(req, "secret")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func fastRetry() retry.RetryConfig {
	return retry.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(config.SlackConfig{BotToken: "xoxb-test", PostsPerSecond: 1000}, slack.OptionAPIURL(srv.URL+"/"))
	return c.WithRetry(fastRetry())
}

func TestClient_PostMessage(t *testing.T) {
	var form atomic.Value
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/chat.postMessage", r.URL.Path)
		form.Store(r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true,"channel":"C1","ts":"3.0"}`)
	}))

	require.NoError(t, c.PostMessage(t.Context(), "C1", "1.0", "**hello**"))

	values := form.Load().(url.Values)
	assert.Equal(t, []string{"C1"}, values["channel"])
	assert.Equal(t, []string{"1.0"}, values["thread_ts"])
	assert.Equal(t, []string{"**hello**"}, values["text"])
	assert.Contains(t, values["blocks"][0], `"rich_text"`)
}

func TestClient_PostMessageError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":false,"error":"channel_not_found"}`)
	}))

	err := c.PostMessage(t.Context(), "C1", "", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true,"channel":"C1","ts":"3.0"}`)
	}))

	require.NoError(t, c.PostMessage(t.Context(), "C1", "", "hi"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_UserProfile(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "U1", r.PostForm.Get("user"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true,"user":{"id":"U1","name":"alice","profile":{"first_name":"Alice","last_name":"Liddell","real_name":"Alice Liddell","display_name":"","email":"alice@example.com"}}}`)
	}))

	u, err := c.UserProfile(t.Context(), "T1", "U1")
	require.NoError(t, err)
	assert.Equal(t, "T1", u.SlackTeamID)
	assert.Equal(t, "U1", u.SlackUserID)
	require.NotNil(t, u.Name)
	assert.Equal(t, "alice", *u.Name)
	assert.Equal(t, "Alice Liddell", *u.RealName)
	assert.Equal(t, "alice@example.com", *u.Email)
	assert.Nil(t, u.DisplayName)
}

func TestClient_FetchFile(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/files/a.csv", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
		fmt.Fprint(w, "a,b\n1,2\n")
	})
	mux.HandleFunc("/files/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srvURL = srv.URL

	c := NewClient(config.SlackConfig{BotToken: "xoxb-test", PostsPerSecond: 1000}).WithRetry(fastRetry())

	content, err := c.FetchFile(t.Context(), srvURL+"/files/a.csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", content)

	_, err = c.FetchFile(t.Context(), srvURL+"/files/missing")
	assert.Error(t, err)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&slack.RateLimitedError{RetryAfter: time.Second}))
	assert.True(t, isRetryable(errors.New("connection reset by peer")))
	assert.False(t, isRetryable(errors.New("channel_not_found")))
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryAfter(fmt.Errorf("post: %w", &slack.RateLimitedError{RetryAfter: 2 * time.Second})))
	assert.Zero(t, retryAfter(errors.New("boom")))
}
