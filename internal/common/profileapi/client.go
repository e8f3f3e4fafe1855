// Package profileapi talks to the WeNet profile service.
package profileapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/InternetOfUs/app-survey/internal/common/auth"
	"github.com/InternetOfUs/app-survey/internal/common/config"
	"github.com/InternetOfUs/app-survey/internal/common/errors"
	httpclient "github.com/InternetOfUs/app-survey/internal/common/http"
	"github.com/InternetOfUs/app-survey/internal/models"
)

// APIKeyHeader carries the component key expected by the WeNet service API.
const APIKeyHeader = "x-wenet-component-apikey"

// Client reads and writes a profile and its competences, meanings and materials.
//
// Failures are *errors.StandardError values: 401 maps to TOKEN_EXPIRED, 403 to
// AUTHORIZATION_DENIED and everything else to PROFILE_API_ERROR.
type Client struct {
	http   *httpclient.Client
	tokens auth.TokenSource
	apiKey string
}

func NewClient(cfg config.ProfileAPIConfig, tokens auth.TokenSource) *Client {
	return &Client{
		http:   httpclient.NewClient(cfg.BaseURL, config.GetDuration(cfg.Timeout)),
		tokens: tokens,
		apiKey: cfg.APIKey,
	}
}

// WithHTTPClient swaps the transport, mainly for httptest servers.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http.WithHTTPClient(hc)
	return c
}

func profilePath(subjectID string) string {
	return "/service/user/profile/" + url.PathEscape(subjectID)
}

func listPath(subjectID string, list models.ProfileList) string {
	return profilePath(subjectID) + "/" + string(list)
}

func (c *Client) GetProfile(ctx context.Context, subjectID string) (*models.Profile, error) {
	var p models.Profile
	if err := c.call(ctx, http.MethodGet, "profile", profilePath(subjectID), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) UpdateProfile(ctx context.Context, subjectID string, profile *models.Profile) error {
	return c.call(ctx, http.MethodPut, "profile", profilePath(subjectID), profile, nil)
}

func (c *Client) GetEntries(ctx context.Context, subjectID string, list models.ProfileList) ([]models.ProfileEntry, error) {
	var entries []models.ProfileEntry
	if err := c.call(ctx, http.MethodGet, string(list), listPath(subjectID, list), nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) UpdateEntries(ctx context.Context, subjectID string, list models.ProfileList, entries []models.ProfileEntry) error {
	if entries == nil {
		entries = []models.ProfileEntry{}
	}
	return c.call(ctx, http.MethodPut, string(list), listPath(subjectID, list), entries, nil)
}

func (c *Client) call(ctx context.Context, method, resource, path string, in, out interface{}) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	headers := map[string]string{"Authorization": "Bearer " + token}
	if c.apiKey != "" {
		headers[APIKeyHeader] = c.apiKey
	}

	resp, err := c.http.JSON(ctx, method, path, headers, in)
	if err != nil {
		return errors.NewProfileAPIError(resource, 0, err.Error(), err)
	}

	switch {
	case resp.OK():
	case resp.StatusCode == http.StatusUnauthorized:
		return errors.NewTokenExpiredError(fmt.Sprintf("%s %s rejected the access token", method, resource), nil)
	case resp.StatusCode == http.StatusForbidden:
		return errors.NewAuthorizationDeniedError(resource, string(resp.Body))
	default:
		return errors.NewProfileAPIError(resource, resp.StatusCode,
			fmt.Sprintf("%s %s (status %d): %s", method, path, resp.StatusCode, string(resp.Body)), nil)
	}

	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return errors.NewProfileAPIError(resource, resp.StatusCode, "failed to decode response: "+err.Error(), err)
	}
	return nil
}
