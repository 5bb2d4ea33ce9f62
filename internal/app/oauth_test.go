package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/bbscout/dbbackup/internal/infrastructure/logger"
)

func writeClientSecret(t *testing.T, tokenURL string) string {
	secret := map[string]any{
		"installed": map[string]any{
			"client_id":     "cid.apps.googleusercontent.com",
			"client_secret": "csecret",
			"redirect_uris": []string{"http://localhost"},
			"auth_uri":      "https://accounts.google.com/o/oauth2/auth",
			"token_uri":     tokenURL,
		},
	}
	data, err := json.Marshal(secret)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "client_secret.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDriveAuthHelper(t *testing.T) {
	Convey("Given a Drive authorization helper", t, func() {
		refreshToken := "rt-123"
		tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "at-456",
				"token_type":    "Bearer",
				"refresh_token": refreshToken,
				"expires_in":    3600,
			})
		}))
		defer tokenServer.Close()

		svc, err := NewDriveAuthHelper(logger.Nop(), writeClientSecret(t, tokenServer.URL+"/token"),
			"http://localhost:8085/auth/google/callback", "gdrive")
		So(err, ShouldBeNil)

		do := func(path string) *httptest.ResponseRecorder {
			rec := httptest.NewRecorder()
			svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			return rec
		}

		Convey("The start endpoint should redirect to the consent screen", func() {
			rec := do("/auth/google/drive")
			So(rec.Code, ShouldEqual, http.StatusTemporaryRedirect)

			location, err := url.Parse(rec.Header().Get("Location"))
			So(err, ShouldBeNil)
			query := location.Query()
			So(query.Get("client_id"), ShouldEqual, "cid.apps.googleusercontent.com")
			So(query.Get("state"), ShouldEqual, svc.state)
			So(query.Get("access_type"), ShouldEqual, "offline")
			So(query.Get("redirect_uri"), ShouldEqual, "http://localhost:8085/auth/google/callback")
		})

		Convey("A callback with a foreign state should be rejected", func() {
			So(do("/auth/google/callback?state=forged&code=abc").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("A callback without a code should be rejected", func() {
			So(do("/auth/google/callback?state="+svc.state).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("A valid callback should render an rclone drive section", func() {
			rec := do("/auth/google/callback?state=" + svc.state + "&code=abc")
			So(rec.Code, ShouldEqual, http.StatusOK)

			body := rec.Body.String()
			So(body, ShouldContainSubstring, "[gdrive]")
			So(body, ShouldContainSubstring, "type = drive")
			So(body, ShouldContainSubstring, "client_id = cid.apps.googleusercontent.com")
			So(body, ShouldContainSubstring, `"refresh_token":"rt-123"`)
		})

		Convey("Start should serve until shutdown", func() {
			So(svc.Start("127.0.0.1:0"), ShouldBeNil)
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			So(svc.Shutdown(ctx), ShouldBeNil)
		})

		Convey("A token without refresh token should ask for re-authorization", func() {
			refreshToken = ""
			rec := do("/auth/google/callback?state=" + svc.state + "&code=abc")
			So(rec.Body.String(), ShouldContainSubstring, "no refresh token")
		})
	})

	Convey("Given invalid arguments", t, func() {
		_, err := NewDriveAuthHelper(nil, "x", "", "gdrive")
		So(err, ShouldNotBeNil)

		_, err = NewDriveAuthHelper(logger.Nop(), "", "", "gdrive")
		So(err, ShouldNotBeNil)

		_, err = NewDriveAuthHelper(logger.Nop(), "/nonexistent/client_secret.json", "", "gdrive")
		So(err, ShouldNotBeNil)
	})
}
