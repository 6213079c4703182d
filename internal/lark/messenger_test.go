package lark

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/garyjia/report-dispatch/internal/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeIM struct {
	SendMessageFunc   func(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error)
	UploadImageFunc   func(ctx context.Context, image io.Reader) (string, error)
	ResolveMobileFunc func(ctx context.Context, mobile string) (string, error)
}

func (f *fakeIM) SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error) {
	return f.SendMessageFunc(ctx, receiveIDType, receiveID, msgType, content)
}

func (f *fakeIM) UploadImage(ctx context.Context, image io.Reader) (string, error) {
	return f.UploadImageFunc(ctx, image)
}

func (f *fakeIM) ResolveMobile(ctx context.Context, mobile string) (string, error) {
	return f.ResolveMobileFunc(ctx, mobile)
}

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "A1_report_page_1.png")
	require.NoError(t, os.WriteFile(path, []byte("png-bytes"), 0o644))
	return path
}

func TestMessenger_SendImage(t *testing.T) {
	tests := []struct {
		name       string
		address    string
		wantIDType string
		wantID     string
		resolves   bool
	}{
		{"phone resolved to open_id", "+919876543210", "open_id", "ou_resolved", true},
		{"email sent directly", "parent@example.com", "email", "parent@example.com", false},
		{"open_id sent directly", "ou_abc123", "open_id", "ou_abc123", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved := false
			var sentType, sentID, sentMsgType, sentContent string

			api := &fakeIM{
				ResolveMobileFunc: func(_ context.Context, mobile string) (string, error) {
					resolved = true
					assert.Equal(t, tt.address, mobile)
					return "ou_resolved", nil
				},
				UploadImageFunc: func(_ context.Context, image io.Reader) (string, error) {
					data, err := io.ReadAll(image)
					require.NoError(t, err)
					assert.Equal(t, "png-bytes", string(data))
					return "img_key_1", nil
				},
				SendMessageFunc: func(_ context.Context, idType, id, msgType, content string) (string, error) {
					sentType, sentID, sentMsgType, sentContent = idType, id, msgType, content
					return "om_1", nil
				},
			}
			m := &Messenger{api: api, receiveIDType: ReceiveIDTypeOpenID, locale: "en_us", logger: zap.NewNop()}

			id, err := m.SendImage(context.Background(), tt.address, writeImage(t), "Your report")

			require.NoError(t, err)
			assert.Equal(t, "om_1", id)
			assert.Equal(t, tt.resolves, resolved)
			assert.Equal(t, tt.wantIDType, sentType)
			assert.Equal(t, tt.wantID, sentID)
			assert.Equal(t, "post", sentMsgType)

			var post map[string]postBody
			require.NoError(t, json.Unmarshal([]byte(sentContent), &post))
			require.Len(t, post["en_us"].Content, 2)
			assert.Equal(t, "img_key_1", post["en_us"].Content[0][0].ImageKey)
			assert.Equal(t, "Your report", post["en_us"].Content[1][0].Text)
		})
	}
}

func TestMessenger_UnknownRecipientSkipsUpload(t *testing.T) {
	uploaded := false
	api := &fakeIM{
		ResolveMobileFunc: func(context.Context, string) (string, error) {
			return "", ErrRecipientNotFound
		},
		UploadImageFunc: func(context.Context, io.Reader) (string, error) {
			uploaded = true
			return "k", nil
		},
	}
	m := &Messenger{api: api, receiveIDType: ReceiveIDTypeOpenID, locale: "en_us", logger: zap.NewNop()}

	_, err := m.SendImage(context.Background(), "+919876543210", writeImage(t), "caption")

	assert.ErrorIs(t, err, ErrRecipientNotFound)
	assert.False(t, uploaded)
}

func TestMessenger_MissingImageFile(t *testing.T) {
	m := &Messenger{api: &fakeIM{}, locale: "en_us", logger: zap.NewNop()}

	_, err := m.SendImage(context.Background(), "a@example.com", filepath.Join(t.TempDir(), "nope.png"), "c")

	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAPIError_Temporary(t *testing.T) {
	assert.True(t, (&APIError{Code: codeRateLimited}).Temporary())
	assert.True(t, (&APIError{Code: codeIMRateLimited}).Temporary())
	assert.False(t, (&APIError{Code: 230001, Msg: "invalid receive_id"}).Temporary())
	assert.Contains(t, (&APIError{Op: "send message", Code: 1, Msg: "bad"}).Error(), "code=1")
}

func newOpenPlatform(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/open-apis/auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":0,"msg":"ok","tenant_access_token":"t-test","expire":7200}`))
	})
	for path, h := range handlers {
		mux.HandleFunc(path, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func jsonReply(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestMessageAPI_AgainstOpenPlatform(t *testing.T) {
	srv := newOpenPlatform(t, map[string]http.HandlerFunc{
		"/open-apis/im/v1/images": jsonReply(`{"code":0,"msg":"success","data":{"image_key":"img_v2_1"}}`),
		"/open-apis/im/v1/messages": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "email", r.URL.Query().Get("receive_id_type"))
			jsonReply(`{"code":0,"msg":"success","data":{"message_id":"om_42"}}`)(w, r)
		},
		"/open-apis/contact/v3/users/batch_get_id": jsonReply(`{"code":0,"msg":"success","data":{"user_list":[{"mobile":"+919876543210"}]}}`),
	})

	client := NewClient(Config{AppID: "cli_test", AppSecret: "secret", BaseURL: srv.URL}, zap.NewNop())
	api := NewMessageAPI(client, zap.NewNop())
	ctx := context.Background()

	key, err := api.UploadImage(ctx, strings.NewReader("png"))
	require.NoError(t, err)
	assert.Equal(t, "img_v2_1", key)

	id, err := api.SendMessage(ctx, ReceiveIDTypeEmail, "a@example.com", "text", `{"text":"hi"}`)
	require.NoError(t, err)
	assert.Equal(t, "om_42", id)

	_, err = api.ResolveMobile(ctx, "+919876543210")
	assert.True(t, errors.Is(err, ErrRecipientNotFound))
}

func TestMessageAPI_ErrorCode(t *testing.T) {
	srv := newOpenPlatform(t, map[string]http.HandlerFunc{
		"/open-apis/im/v1/messages": jsonReply(`{"code":99991400,"msg":"request trigger frequency limit"}`),
	})

	client := NewClient(Config{AppID: "cli_test", AppSecret: "secret", BaseURL: srv.URL}, zap.NewNop())
	_, err := NewMessageAPI(client, zap.NewNop()).
		SendMessage(context.Background(), ReceiveIDTypeOpenID, "ou_x", "text", `{"text":"hi"}`)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, codeRateLimited, apiErr.Code)
	assert.True(t, apiErr.Temporary())
}

func TestMessageAPI_DeliveryKeyBecomesUUID(t *testing.T) {
	var uuids []interface{}
	srv := newOpenPlatform(t, map[string]http.HandlerFunc{
		"/open-apis/im/v1/messages": func(w http.ResponseWriter, r *http.Request) {
			var body map[string]interface{}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			uuids = append(uuids, body["uuid"])
			jsonReply(`{"code":0,"msg":"success","data":{"message_id":"om_1"}}`)(w, r)
		},
	})

	client := NewClient(Config{AppID: "cli_test", AppSecret: "secret", BaseURL: srv.URL}, zap.NewNop())
	api := NewMessageAPI(client, zap.NewNop())

	ctx := dispatch.WithDeliveryKey(context.Background(), "3f1c9a52-delivery")
	for i := 0; i < 2; i++ {
		_, err := api.SendMessage(ctx, ReceiveIDTypeOpenID, "ou_x", "text", `{"text":"hi"}`)
		require.NoError(t, err)
	}
	_, err := api.SendMessage(context.Background(), ReceiveIDTypeOpenID, "ou_x", "text", `{"text":"hi"}`)
	require.NoError(t, err)

	assert.Equal(t, []interface{}{"3f1c9a52-delivery", "3f1c9a52-delivery", nil}, uuids)
}
