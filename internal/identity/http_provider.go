package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/paddock/internal/model"
)

const defaultIdentityBaseURL = "https://identitytoolkit.googleapis.com"

// Config はHTTPProviderの設定。
type Config struct {
	APIKey  string
	BaseURL string

	// テスト用にオーバーライド可能なURL
	SignInURL string
	LookupURL string
	SignUpURL string
}

// HTTPProvider はIdentity Platform REST APIによるVerifier実装。
type HTTPProvider struct {
	config Config
	client *http.Client
}

var _ Verifier = (*HTTPProvider)(nil)

// NewHTTPProvider はHTTPProviderを生成する。
func NewHTTPProvider(config Config) *HTTPProvider {
	if config.BaseURL == "" {
		config.BaseURL = defaultIdentityBaseURL
	}
	if config.SignInURL == "" {
		config.SignInURL = config.BaseURL + "/v1/accounts:signInWithPassword"
	}
	if config.LookupURL == "" {
		config.LookupURL = config.BaseURL + "/v1/accounts:lookup"
	}
	if config.SignUpURL == "" {
		config.SignUpURL = config.BaseURL + "/v1/accounts:signUp"
	}
	return &HTTPProvider{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// signInResponse はsignInWithPasswordエンドポイントのレスポンス。
type signInResponse struct {
	LocalID     string `json:"localId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	IDToken     string `json:"idToken"`
}

// lookupResponse はaccounts:lookupエンドポイントのレスポンス。
type lookupResponse struct {
	Users []struct {
		LocalID          string `json:"localId"`
		Email            string `json:"email"`
		DisplayName      string `json:"displayName"`
		CustomAttributes string `json:"customAttributes"`
	} `json:"users"`
}

// apiErrorResponse はIdentity Platformのエラーレスポンス。
type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
func (p *HTTPProvider) SignInWithPassword(ctx context.Context, email, password string) (*UserInfo, error) {
	body, status, err := p.post(ctx, p.config.SignInURL, map[string]interface{}{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
	if err != nil {
		return nil, fmt.Errorf("sign-in request failed: %w", err)
	}

	if status != http.StatusOK {
		msg := parseAPIErrorMessage(body)
		switch {
		case strings.HasPrefix(msg, "EMAIL_NOT_FOUND"),
			strings.HasPrefix(msg, "INVALID_PASSWORD"),
			strings.HasPrefix(msg, "INVALID_LOGIN_CREDENTIALS"),
			strings.HasPrefix(msg, "USER_DISABLED"):
			return nil, model.NewInvalidCredentialsError()
		case strings.HasPrefix(msg, "TOO_MANY_ATTEMPTS_TRY_LATER"):
			return nil, model.NewInvalidCredentialsError()
		default:
			return nil, fmt.Errorf("sign-in failed with status %d: %s", status, msg)
		}
	}

	var resp signInResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse sign-in response: %w", err)
	}
	if resp.LocalID == "" {
		return nil, fmt.Errorf("empty localId in sign-in response")
	}

	return &UserInfo{
		UID:         resp.LocalID,
		Email:       resp.Email,
		DisplayName: resp.DisplayName,
		Admin:       tokenAdminClaim(resp.IDToken),
	}, nil
}

// VerifyIDToken はIDトークンを検証し、ユーザー情報を返す。
// トークンの構造と有効期限はネットワークを介さずに事前検査し、
// 通過したトークンのみリモート検証に送る。
func (p *HTTPProvider) VerifyIDToken(ctx context.Context, idToken string) (*UserInfo, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return nil, model.NewInvalidTokenError()
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Before(time.Now()) {
		return nil, model.NewExpiredTokenError()
	}

	body, status, err := p.post(ctx, p.config.LookupURL, map[string]interface{}{
		"idToken": idToken,
	})
	if err != nil {
		return nil, fmt.Errorf("token lookup request failed: %w", err)
	}

	if status != http.StatusOK {
		msg := parseAPIErrorMessage(body)
		switch {
		case strings.HasPrefix(msg, "TOKEN_EXPIRED"):
			return nil, model.NewExpiredTokenError()
		case strings.HasPrefix(msg, "INVALID_ID_TOKEN"),
			strings.HasPrefix(msg, "USER_NOT_FOUND"),
			strings.HasPrefix(msg, "USER_DISABLED"):
			return nil, model.NewInvalidTokenError()
		default:
			return nil, model.NewVerificationFailedError()
		}
	}

	var resp lookupResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse lookup response: %w", err)
	}
	if len(resp.Users) == 0 {
		return nil, model.NewInvalidTokenError()
	}

	user := resp.Users[0]
	return &UserInfo{
		UID:         user.LocalID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Admin:       customAttributesAdmin(user.CustomAttributes),
	}, nil
}

// CreateUser は新規ユーザーを作成する。
func (p *HTTPProvider) CreateUser(ctx context.Context, email, password, displayName string) (*UserInfo, error) {
	body, status, err := p.post(ctx, p.config.SignUpURL, map[string]interface{}{
		"email":             email,
		"password":          password,
		"displayName":       displayName,
		"returnSecureToken": true,
	})
	if err != nil {
		return nil, fmt.Errorf("sign-up request failed: %w", err)
	}

	if status != http.StatusOK {
		msg := parseAPIErrorMessage(body)
		switch {
		case strings.HasPrefix(msg, "EMAIL_EXISTS"):
			return nil, model.NewEmailExistsError()
		case strings.HasPrefix(msg, "INVALID_EMAIL"):
			return nil, model.NewInvalidEmailError()
		case strings.HasPrefix(msg, "WEAK_PASSWORD"):
			return nil, model.NewWeakPasswordError(msg)
		default:
			return nil, fmt.Errorf("sign-up failed with status %d: %s", status, msg)
		}
	}

	var resp signInResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse sign-up response: %w", err)
	}
	if resp.LocalID == "" {
		return nil, fmt.Errorf("empty localId in sign-up response")
	}

	return &UserInfo{
		UID:         resp.LocalID,
		Email:       resp.Email,
		DisplayName: displayName,
	}, nil
}

// post はJSONボディをPOSTし、レスポンスボディとステータスコードを返す。
func (p *HTTPProvider) post(ctx context.Context, endpoint string, payload map[string]interface{}) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?key="+p.config.APIKey, bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func parseAPIErrorMessage(body []byte) string {
	var resp apiErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return string(body)
	}
	if resp.Error.Message == "" {
		return string(body)
	}
	return resp.Error.Message
}

// tokenAdminClaim はIDトークンのadminカスタムクレームを読み取る。
// 署名はリモート検証に委ねるため、ここでは検証しない。
func tokenAdminClaim(idToken string) bool {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return false
	}
	admin, _ := claims["admin"].(bool)
	return admin
}

// customAttributesAdmin はlookupレスポンスのcustomAttributes JSON文字列から
// adminフラグを読み取る。
func customAttributesAdmin(attrs string) bool {
	if attrs == "" {
		return false
	}
	var parsed struct {
		Admin bool `json:"admin"`
	}
	if err := json.Unmarshal([]byte(attrs), &parsed); err != nil {
		return false
	}
	return parsed.Admin
}
