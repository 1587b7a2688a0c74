package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"
)

// APIClient talks to the backend as one browser would: session cookies live
// in its own jar.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIClient creates a new API client with an empty cookie jar
func NewAPIClient(baseURL string) *APIClient {
	jar, _ := cookiejar.New(nil)
	return &APIClient{
		baseURL: baseURL + "/api/v1",
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
		},
	}
}

// Response types matching backend

type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

type userEnvelope struct {
	User User `json:"user"`
}

type apiError struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

// RegisterUser creates a student account and keeps its session cookies
func (c *APIClient) RegisterUser(email, password, name string) (*User, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
		"name":     name,
	}
	return c.userCall("/auth/register", body, http.StatusCreated)
}

func (c *APIClient) Login(email, password string) (*User, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	return c.userCall("/auth/login", body, http.StatusOK)
}

// Refresh rotates the session using the refresh cookie in the jar
func (c *APIClient) Refresh() (*User, error) {
	return c.userCall("/auth/refresh", nil, http.StatusOK)
}

// RefreshWith sends an explicit refresh token instead of the jar's cookie
func (c *APIClient) RefreshWith(token string) (int, error) {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/auth/refresh", nil)
	if err != nil {
		return 0, err
	}
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: token})

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (c *APIClient) Me() (*User, error) {
	resp, err := c.do(http.MethodGet, "/auth/me", nil)
	if err != nil {
		return nil, fmt.Errorf("me request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeUser(resp, http.StatusOK)
}

func (c *APIClient) Logout() error {
	resp, err := c.do(http.MethodPost, "/auth/logout", nil)
	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	return nil
}

// RefreshToken returns the refresh cookie currently held in the jar
func (c *APIClient) RefreshToken() string {
	req, _ := http.NewRequest(http.MethodPost, c.baseURL+"/auth/refresh", nil)
	for _, cookie := range c.httpClient.Jar.Cookies(req.URL) {
		if cookie.Name == "refresh_token" {
			return cookie.Value
		}
	}
	return ""
}

func (c *APIClient) userCall(path string, body interface{}, wantStatus int) (*User, error) {
	resp, err := c.do(http.MethodPost, path, body)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()
	return decodeUser(resp, wantStatus)
}

func (c *APIClient) do(method, path string, body interface{}) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequest(method, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.httpClient.Do(req)
}

func decodeUser(resp *http.Response, wantStatus int) (*User, error) {
	if resp.StatusCode != wantStatus {
		return nil, responseError(resp)
	}

	var result userEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result.User, nil
}

func responseError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(resp.Body)

	var apiErr apiError
	if err := json.Unmarshal(bodyBytes, &apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("%s (status %d): %s", apiErr.Error, resp.StatusCode, apiErr.Message)
	}
	return fmt.Errorf("request failed (status %d): %s", resp.StatusCode, string(bodyBytes))
}
