package emailsvc

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/trezcool/tahadhari/core"
	"github.com/trezcool/tahadhari/services/logger"
)

func TestSendgridService_Send(t *testing.T) {
	var got struct {
		Personalizations []struct {
			To      []struct{ Email, Name string } `json:"to"`
			Subject string                          `json:"subject"`
		} `json:"personalizations"`
		From    struct{ Email, Name string }      `json:"from"`
		Content []struct{ Type, Value string } `json:"content"`
	}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	conf := &core.Config{AppName: "Tahadhari", FromEmail: "noreply@tahadhari.test", SendgridAPIKey: "sg-key"}
	svc := NewSendgridService(conf, logsvc.NewNopLogger()).(*sendgridService)
	svc.host = srv.URL

	svc.send(core.EmailMessage{
		To:          []mail.Address{{Name: "Amina", Address: "amina@uni.test"}},
		Subject:     "🚨 Critical",
		TextContent: "plain",
	})

	assert.Equal(t, "Bearer sg-key", auth)
	require.Len(t, got.Personalizations, 1)
	assert.Equal(t, "[Tahadhari] 🚨 Critical", got.Personalizations[0].Subject)
	assert.Equal(t, "amina@uni.test", got.Personalizations[0].To[0].Email)
	assert.Equal(t, "noreply@tahadhari.test", got.From.Email)
	require.Len(t, got.Content, 1) // no html part without html content
	assert.Equal(t, "text/plain", got.Content[0].Type)
}

func TestSendgridService_SendFailureIsLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	obs, logs := observer.New(zap.DebugLevel)
	conf := &core.Config{AppName: "Tahadhari", FromEmail: "noreply@tahadhari.test"}
	svc := NewSendgridService(conf, logsvc.NewZapLogger(zap.New(obs))).(*sendgridService)
	svc.host = srv.URL

	svc.send(core.EmailMessage{To: []mail.Address{{Address: "a@uni.test"}}, TextContent: "x"})

	entries := logs.FilterMessage("sending email").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, http.StatusUnauthorized, entries[0].ContextMap()["status"])
}
