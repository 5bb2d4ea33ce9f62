package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"

	"github.com/bbscout/dbbackup/internal/infrastructure/logger"
)

// DriveAuthHelper walks an operator through the Google consent screen and
// prints the resulting token as a ready-to-paste rclone "drive" section.
type DriveAuthHelper struct {
	oauth      *oauth2.Config
	logger     *logger.Logger
	remoteName string
	state      string
	server     *http.Server
}

// NewDriveAuthHelper reads a Google client secret file. An empty redirectURL
// keeps the first redirect URI listed in the file.
func NewDriveAuthHelper(log *logger.Logger, clientSecretPath, redirectURL, remoteName string) (*DriveAuthHelper, error) {
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if clientSecretPath == "" {
		return nil, errors.New("client secret path cannot be empty")
	}

	raw, err := os.ReadFile(clientSecretPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	oauthCfg, err := google.ConfigFromJSON(raw, drive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret: %w", err)
	}
	if redirectURL != "" {
		oauthCfg.RedirectURL = redirectURL
	}

	return &DriveAuthHelper{
		oauth:      oauthCfg,
		logger:     log,
		remoteName: remoteName,
		state:      uuid.NewString(),
	}, nil
}

func (h *DriveAuthHelper) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/google/drive", h.handleStart)
	mux.HandleFunc("GET /auth/google/callback", h.handleCallback)
	return mux
}

func (h *DriveAuthHelper) handleStart(w http.ResponseWriter, r *http.Request) {
	// ApprovalForce makes Google issue a refresh token even on re-consent.
	consentURL := h.oauth.AuthCodeURL(h.state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	http.Redirect(w, r, consentURL, http.StatusTemporaryRedirect)
}

func (h *DriveAuthHelper) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("state") != h.state {
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}
	code := query.Get("code")
	if code == "" {
		http.Error(w, "missing code parameter", http.StatusBadRequest)
		return
	}

	token, err := h.oauth.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Errorw("Drive token exchange failed", "error", err)
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		return
	}
	if token.RefreshToken == "" {
		fmt.Fprintln(w, "⚠️ Google returned no refresh token. Revoke the app's access and authorize again.")
		return
	}

	section, err := h.rcloneSection(token)
	if err != nil {
		http.Error(w, "failed to encode token", http.StatusInternalServerError)
		return
	}

	h.logger.Infow("Drive authorization complete", "remote", h.remoteName)
	fmt.Fprintf(w, "✅ Put this in RCLONE_CONFIG, or base64 encode it into RCLONE_CONFIG_B64:\n\n%s", section)
}

func (h *DriveAuthHelper) rcloneSection(token *oauth2.Token) (string, error) {
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("[%s]\ntype = drive\nscope = drive\nclient_id = %s\nclient_secret = %s\ntoken = %s\n",
		h.remoteName, h.oauth.ClientID, h.oauth.ClientSecret, tokenJSON), nil
}

// Start binds addr and serves the consent flow in the background.
func (h *DriveAuthHelper) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	h.server = &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		h.logger.Infow("Drive authorization helper ready", "open", "http://"+ln.Addr().String()+"/auth/google/drive")
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Errorw("Drive authorization helper stopped", "error", err)
		}
	}()
	return nil
}

func (h *DriveAuthHelper) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown drive auth helper: %w", err)
	}
	return nil
}
