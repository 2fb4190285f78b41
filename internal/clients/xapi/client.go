package xapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/ternarybob/arbor"

	"github.com/avermeer/circlesift/internal/common"
	"github.com/avermeer/circlesift/internal/interfaces"
	"github.com/avermeer/circlesift/internal/models"
	"github.com/avermeer/circlesift/internal/retry"
)

const (
	defaultBaseURL = "https://api.twitter.com/2"
	maxPageSize    = 1000
	userFields     = "id,username,name,description,verified,created_at,public_metrics,location,url,profile_image_url"
)

// Client talks to the X API v2. It maps HTTP failures onto the engine's
// error classes: 401/403 become auth errors, 429/5xx and network failures
// become transient, malformed bodies become validation errors.
type Client struct {
	baseURL    string
	token      string
	pageSize   int
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewClient creates an X API client from configuration
func NewClient(cfg *common.SourceConfig, logger arbor.ILogger) (*Client, error) {
	if cfg.BearerToken == "" {
		return nil, fmt.Errorf("X API bearer token is required (set source.bearer_token or CIRCLESIFT_X_BEARER_TOKEN)")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	return &Client{
		baseURL:  baseURL,
		token:    cfg.BearerToken,
		pageSize: pageSize,
		httpClient: &http.Client{
			Timeout: common.Duration(cfg.Timeout, 30*time.Second),
		},
		logger: logger,
	}, nil
}

// apiUser mirrors the X API v2 user object
type apiUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Verified      bool   `json:"verified"`
	CreatedAt     string `json:"created_at"`
	Location      string `json:"location"`
	URL           string `json:"url"`
	ProfileImage  string `json:"profile_image_url"`
	PublicMetrics struct {
		FollowersCount int `json:"followers_count"`
		FollowingCount int `json:"following_count"`
		TweetCount     int `json:"tweet_count"`
	} `json:"public_metrics"`
}

type followingResponse struct {
	Data []apiUser `json:"data"`
	Meta struct {
		NextToken string `json:"next_token"`
	} `json:"meta"`
}

type userResponse struct {
	Data *apiUser `json:"data"`
}

// ListFollowing returns one page of accounts the target follows
func (c *Client) ListFollowing(ctx context.Context, targetID, pageToken string) (*interfaces.FollowingPage, error) {
	endpoint := fmt.Sprintf("%s/users/%s/following", c.baseURL, url.PathEscape(targetID))

	params := url.Values{}
	params.Set("max_results", strconv.Itoa(c.pageSize))
	params.Set("user.fields", userFields)
	if pageToken != "" {
		params.Set("pagination_token", pageToken)
	}

	body, err := c.get(ctx, endpoint+"?"+params.Encode(), targetID)
	if err != nil {
		return nil, err
	}

	var resp followingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, retry.Validation(fmt.Errorf("malformed following response: %w", err))
	}

	page := &interfaces.FollowingPage{
		Accounts:  make([]models.Account, 0, len(resp.Data)),
		NextToken: resp.Meta.NextToken,
	}
	now := time.Now()
	for _, u := range resp.Data {
		page.Accounts = append(page.Accounts, parseAccount(u, now))
	}

	c.logger.Debug().
		Str("target_id", targetID).
		Int("accounts", len(page.Accounts)).
		Bool("has_next", page.NextToken != "").
		Msg("Fetched following page")

	return page, nil
}

// GetUserByUsername resolves a handle (without the @) to an account.
// Returns nil without error when the user does not exist.
func (c *Client) GetUserByUsername(ctx context.Context, username string) (*models.Account, error) {
	endpoint := fmt.Sprintf("%s/users/by/username/%s?user.fields=%s",
		c.baseURL, url.PathEscape(username), url.QueryEscape(userFields))

	body, err := c.get(ctx, endpoint, username)
	if err != nil {
		var nf *notFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, err
	}

	var resp userResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, retry.Validation(fmt.Errorf("malformed user response: %w", err))
	}
	if resp.Data == nil {
		return nil, nil
	}

	account := parseAccount(*resp.Data, time.Now())
	return &account, nil
}

type notFoundError struct{ msg string }

func (e *notFoundError) Error() string { return e.msg }

func (c *Client) get(ctx context.Context, rawURL, subject string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build X API request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("X API request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("read X API response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		reset := resp.Header.Get("x-rate-limit-reset")
		return nil, retry.Transient(fmt.Errorf("X API rate limit exceeded, resets at %s", reset))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, retry.Auth(fmt.Errorf("X API authentication failed (HTTP %d): check bearer token", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return nil, &notFoundError{msg: fmt.Sprintf("X API: %s not found", subject)}
	case resp.StatusCode >= 500:
		return nil, retry.Transient(fmt.Errorf("X API server error: HTTP %d", resp.StatusCode))
	default:
		return nil, fmt.Errorf("X API error: HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
}

func parseAccount(u apiUser, fetchedAt time.Time) models.Account {
	account := models.Account{
		ID:              u.ID,
		Username:        u.Username,
		DisplayName:     u.Name,
		Bio:             u.Description,
		Verified:        u.Verified,
		FollowersCount:  u.PublicMetrics.FollowersCount,
		FollowingCount:  u.PublicMetrics.FollowingCount,
		PostCount:       u.PublicMetrics.TweetCount,
		Location:        u.Location,
		Website:         u.URL,
		ProfileImageURL: u.ProfileImage,
		FetchedAt:       fetchedAt,
	}
	if u.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, u.CreatedAt); err == nil {
			account.CreatedAt = &t
		}
	}
	return account
}

// truncate cuts s to at most n bytes without splitting a UTF-8 rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
