package frontend_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/user/modforge/internal/frontend"
	"github.com/user/modforge/internal/frontend/mocks"
)

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

func TestMemberRoles(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	httpClient := mocks.NewMockHTTPDoer(ctrl)
	client := frontend.NewRolesClientWithHTTP("https://chat.example.com/api/guilds/1", "bot-token", httpClient)

	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, http.MethodGet, req.Method)
			require.Equal(t, "https://chat.example.com/api/guilds/1/members/42", req.URL.String())
			require.Equal(t, "Bot bot-token", req.Header.Get("Authorization"))
			return response(http.StatusOK, `{"roles": ["111", "222"]}`), nil
		})

	roles, err := client.MemberRoles(context.Background(), "42")

	require.NoError(t, err)
	require.Equal(t, []string{"111", "222"}, roles)
}

func TestMemberRoles_RateLimited(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	httpClient := mocks.NewMockHTTPDoer(ctrl)
	client := frontend.NewRolesClientWithHTTP("https://chat.example.com/api/guilds/1", "bot-token", httpClient)

	resp := response(http.StatusTooManyRequests, `{"message": "You are being rate limited."}`)
	resp.Header.Set("Retry-After", "2.5")
	httpClient.EXPECT().Do(gomock.Any()).Return(resp, nil)

	_, err := client.MemberRoles(context.Background(), "42")

	var limited *frontend.RateLimitedError
	require.ErrorAs(t, err, &limited)
	require.Equal(t, 2500*time.Millisecond, limited.RetryAfter)
}

func TestMemberRoles_ServerError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	httpClient := mocks.NewMockHTTPDoer(ctrl)
	client := frontend.NewRolesClientWithHTTP("https://chat.example.com/api/guilds/1", "bot-token", httpClient)

	httpClient.EXPECT().Do(gomock.Any()).Return(response(http.StatusForbidden, `missing access`), nil)

	_, err := client.MemberRoles(context.Background(), "42")

	require.Error(t, err)
	require.Contains(t, err.Error(), "403")
	var limited *frontend.RateLimitedError
	require.False(t, errors.As(err, &limited))
}
