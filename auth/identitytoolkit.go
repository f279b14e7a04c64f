package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/klipach/contactcast/apperr"
)

const DefaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com"

// IdentityToolkit calls the Firebase Auth REST API with the web API key.
// Password checks are not available in the admin SDK.
type IdentityToolkit struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type signInResponse struct {
	IDToken      string `json:"idToken"`
	Email        string `json:"email"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewIdentityToolkit(baseURL, apiKey string, httpClient *http.Client) *IdentityToolkit {
	if baseURL == "" {
		baseURL = DefaultIdentityToolkitURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &IdentityToolkit{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, httpClient: httpClient}
}

func (c *IdentityToolkit) SignInWithPassword(ctx context.Context, email, password string) (*Credential, error) {
	return c.signIn(ctx, "signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
}

func (c *IdentityToolkit) SignUp(ctx context.Context, email, password string) (*Credential, error) {
	return c.signIn(ctx, "signUp", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
}

// SignInWithCustomToken exchanges an admin-minted custom token for an ID token.
func (c *IdentityToolkit) SignInWithCustomToken(ctx context.Context, customToken string) (*Credential, error) {
	return c.signIn(ctx, "signInWithCustomToken", map[string]any{
		"token":             customToken,
		"returnSecureToken": true,
	})
}

func (c *IdentityToolkit) signIn(ctx context.Context, op string, payload map[string]any) (*Credential, error) {
	var resp signInResponse
	if err := c.post(ctx, op, payload, &resp); err != nil {
		return nil, err
	}
	expiresIn, _ := strconv.Atoi(resp.ExpiresIn)
	return &Credential{
		User:         User{UID: resp.LocalID, Email: resp.Email},
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    time.Duration(expiresIn) * time.Second,
	}, nil
}

func (c *IdentityToolkit) post(ctx context.Context, op string, payload any, out any) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return apperr.New(apperr.KindUnknown, op, err)
	}

	endpoint := fmt.Sprintf("%s/v1/accounts:%s?key=%s", c.baseURL, op, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payloadBytes))
	if err != nil {
		return apperr.New(apperr.KindUnknown, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.New(apperr.KindNetwork, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.New(apperr.KindNetwork, op, err)
	}

	if resp.StatusCode != http.StatusOK {
		return toolkitError(op, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.New(apperr.KindNetwork, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// toolkitError maps {"error":{"message":"INVALID_PASSWORD"}} bodies to tagged errors.
// Messages may carry a detail suffix: "WEAK_PASSWORD : Password should be at least 6 characters".
func toolkitError(op string, status int, body []byte) *apperr.Error {
	var er errorResponse
	_ = json.Unmarshal(body, &er)
	code, _, _ := strings.Cut(er.Error.Message, " : ")
	code = strings.TrimSpace(code)

	kind := apperr.KindAuth
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		kind = apperr.KindNetwork
	}
	if code == "" {
		code = http.StatusText(status)
	}
	return apperr.WithCode(kind, op, code, errors.New(strings.TrimSpace(string(body))))
}
