package commentsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"campus/internal/models"
)

// ThreadKey identifies the discussion attached to one entity.
type ThreadKey struct {
	EntityType models.EntityType
	EntityID   uint
}

// Room returns the realtime room that carries the thread's events.
func (k ThreadKey) Room() string {
	return models.RoomKey(k.EntityType, k.EntityID)
}

// PageQuery selects a page of top-level comments.
type PageQuery struct {
	Page  int
	Limit int
	Sort  string
}

// Pagination mirrors the server's page metadata.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalCount int64 `json:"totalCount"`
	TotalPages int   `json:"totalPages"`
	HasMore    bool  `json:"hasMore"`
}

// Page is one page of a thread as returned by List.
type Page struct {
	Comments   []*models.Comment `json:"comments"`
	TotalCount int64             `json:"totalCount"`
	Pagination Pagination        `json:"pagination"`
}

// LikeState is the like state of a comment after a toggle.
type LikeState struct {
	IsLiked    bool `json:"isLiked"`
	LikesCount int  `json:"likesCount"`
}

// API is the comment service as seen by a client.
type API interface {
	List(ctx context.Context, key ThreadKey, query PageQuery) (*Page, error)
	Create(ctx context.Context, key ThreadKey, content string, parentID *string) (*models.Comment, error)
	Update(ctx context.Context, commentID, content string) (*models.Comment, error)
	Delete(ctx context.Context, commentID string) error
	ToggleLike(ctx context.Context, commentID string) (LikeState, error)
}

// APIError is a non-2xx response from the comment service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("comment api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("comment api: %d: %s", e.Status, e.Message)
}

// HTTPClient talks to the comment HTTP API with a bearer token.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient creates a client for baseURL (e.g. "http://localhost:8375"). A nil
// httpClient uses a client with a 10s timeout.
func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var payload models.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&payload) == nil && payload.Error != "" {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

type commentBody struct {
	Comment *models.Comment `json:"comment"`
}

// List fetches one page of top-level comments with their replies.
func (c *HTTPClient) List(ctx context.Context, key ThreadKey, query PageQuery) (*Page, error) {
	params := url.Values{}
	if query.Page > 0 {
		params.Set("page", strconv.Itoa(query.Page))
	}
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Sort != "" {
		params.Set("sort", query.Sort)
	}
	path := fmt.Sprintf("/api/comments/%s/%d", key.EntityType, key.EntityID)
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var page Page
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Create posts a comment, or a reply when parentID is set.
func (c *HTTPClient) Create(ctx context.Context, key ThreadKey, content string, parentID *string) (*models.Comment, error) {
	req := map[string]any{
		"entityType": key.EntityType,
		"entityId":   key.EntityID,
		"content":    content,
	}
	if parentID != nil {
		req["parentCommentId"] = *parentID
	}
	var out commentBody
	if err := c.do(ctx, http.MethodPost, "/api/comments", req, &out); err != nil {
		return nil, err
	}
	return out.Comment, nil
}

// Update replaces the content of a comment.
func (c *HTTPClient) Update(ctx context.Context, commentID, content string) (*models.Comment, error) {
	var out commentBody
	err := c.do(ctx, http.MethodPut, "/api/comments/"+url.PathEscape(commentID), map[string]string{"content": content}, &out)
	if err != nil {
		return nil, err
	}
	return out.Comment, nil
}

// Delete soft-deletes a comment.
func (c *HTTPClient) Delete(ctx context.Context, commentID string) error {
	return c.do(ctx, http.MethodDelete, "/api/comments/"+url.PathEscape(commentID), nil, nil)
}

// ToggleLike likes or unlikes a comment.
func (c *HTTPClient) ToggleLike(ctx context.Context, commentID string) (LikeState, error) {
	var state LikeState
	err := c.do(ctx, http.MethodPost, "/api/comments/"+url.PathEscape(commentID)+"/like", nil, &state)
	return state, err
}

// Ticket mints a single-use websocket ticket.
func (c *HTTPClient) Ticket(ctx context.Context) (string, error) {
	var out struct {
		Ticket string `json:"ticket"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/ws/ticket", nil, &out); err != nil {
		return "", err
	}
	return out.Ticket, nil
}

// WebSocketURL returns the comments socket URL for baseURL, with ticket when set.
func WebSocketURL(baseURL, ticket string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	u += "/api/ws/comments"
	if ticket != "" {
		u += "?ticket=" + url.QueryEscape(ticket)
	}
	return u
}
