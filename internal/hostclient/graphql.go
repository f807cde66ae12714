package hostclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// graphqlRequest performs a raw GraphQL POST, following the teacher's
// graphqlMarkReady precedent for operations go-github's typed REST client
// doesn't cover (Projects v2 has no REST surface at all).
func (c *clientImpl) graphqlRequest(ctx context.Context, query string, variables map[string]any, out any) error {
	payload := map[string]any{"query": query, "variables": variables}
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal GraphQL request")
	}

	var result struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}

	doReq := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphQL, bytes.NewReader(body))
		if err != nil {
			return errors.Wrap(err, "create GraphQL request")
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return errors.Wrap(err, "GraphQL request failed")
		}
		defer resp.Body.Close()
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return errors.Wrap(err, "read GraphQL response")
		}
		if resp.StatusCode != http.StatusOK {
			return &APIError{StatusCode: resp.StatusCode, RawBody: string(respBody)}
		}
		if err := json.Unmarshal(respBody, &result); err != nil {
			return errors.Wrap(err, "decode GraphQL response")
		}
		if len(result.Errors) > 0 {
			return errors.Errorf("GraphQL error: %s", result.Errors[0].Message)
		}
		return nil
	}

	// GraphQL requests share the same retry posture as REST: retry 5xx and
	// rate limits, fail fast otherwise.
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := doReq(); err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Retriable() && attempt < maxAttempts-1 {
				lastErr = err
				if sleepErr := c.retry.sleep(ctx, backoffFor(attempt)); sleepErr != nil {
					return sleepErr
				}
				continue
			}
			return err
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return lastErr
	}
	if out == nil || result.Data == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(result.Data, out), "decode GraphQL data")
}

// graphqlMarkReady calls the markPullRequestReadyForReview mutation.
func (c *clientImpl) graphqlMarkReady(ctx context.Context, pullRequestNodeID string) error {
	const query = `mutation($id: ID!) {
		markPullRequestReadyForReview(input: {pullRequestId: $id}) {
			pullRequest { isDraft }
		}
	}`
	return c.graphqlRequest(ctx, query, map[string]any{"id": pullRequestNodeID}, nil)
}

// ListProjectItems lists a Projects v2 board's items and their Status
// field, paginating through all items.
func (c *clientImpl) ListProjectItems(ctx context.Context, projectID string) ([]ProjectItem, error) {
	const query = `query($id: ID!, $after: String) {
		node(id: $id) {
			... on ProjectV2 {
				items(first: 100, after: $after) {
					pageInfo { hasNextPage endCursor }
					nodes {
						id
						content { ... on Issue { number } }
						fieldValueByName(name: "Status") {
							... on ProjectV2ItemFieldSingleSelectValue { name }
						}
					}
				}
			}
		}
	}`

	var out []ProjectItem
	after := ""
	for {
		var resp struct {
			Node struct {
				Items struct {
					PageInfo struct {
						HasNextPage bool   `json:"hasNextPage"`
						EndCursor   string `json:"endCursor"`
					} `json:"pageInfo"`
					Nodes []struct {
						ID      string `json:"id"`
						Content struct {
							Number int `json:"number"`
						} `json:"content"`
						FieldValueByName struct {
							Name string `json:"name"`
						} `json:"fieldValueByName"`
					} `json:"nodes"`
				} `json:"items"`
			} `json:"node"`
		}

		var afterVar any
		if after != "" {
			afterVar = after
		}
		if err := c.graphqlRequest(ctx, query, map[string]any{"id": projectID, "after": afterVar}, &resp); err != nil {
			return nil, errors.Wrapf(err, "list project items %s", projectID)
		}
		for _, n := range resp.Node.Items.Nodes {
			out = append(out, ProjectItem{ItemID: n.ID, IssueNumber: n.Content.Number, Status: n.FieldValueByName.Name})
		}
		if !resp.Node.Items.PageInfo.HasNextPage {
			break
		}
		after = resp.Node.Items.PageInfo.EndCursor
	}
	return out, nil
}

// UpdateItemStatus sets a project item's single-select Status field,
// resolving the field and option IDs by name first since the board's
// configuration (field/option node IDs) is not assumed to be cached by
// callers.
func (c *clientImpl) UpdateItemStatus(ctx context.Context, projectID, itemID, fieldName, optionName string) error {
	fieldID, optionID, err := c.resolveStatusField(ctx, projectID, fieldName, optionName)
	if err != nil {
		return errors.Wrapf(err, "update item status %s", itemID)
	}

	const mutation = `mutation($project: ID!, $item: ID!, $field: ID!, $option: String!) {
		updateProjectV2ItemFieldValue(input: {
			projectId: $project, itemId: $item, fieldId: $field,
			value: { singleSelectOptionId: $option }
		}) { projectV2Item { id } }
	}`
	vars := map[string]any{"project": projectID, "item": itemID, "field": fieldID, "option": optionID}
	return errors.Wrapf(c.graphqlRequest(ctx, mutation, vars, nil), "update item status %s", itemID)
}

func (c *clientImpl) resolveStatusField(ctx context.Context, projectID, fieldName, optionName string) (string, string, error) {
	const query = `query($id: ID!) {
		node(id: $id) {
			... on ProjectV2 {
				fields(first: 50) {
					nodes {
						... on ProjectV2SingleSelectField {
							id
							name
							options { id name }
						}
					}
				}
			}
		}
	}`
	var resp struct {
		Node struct {
			Fields struct {
				Nodes []struct {
					ID      string `json:"id"`
					Name    string `json:"name"`
					Options []struct {
						ID   string `json:"id"`
						Name string `json:"name"`
					} `json:"options"`
				} `json:"nodes"`
			} `json:"fields"`
		} `json:"node"`
	}
	if err := c.graphqlRequest(ctx, query, map[string]any{"id": projectID}, &resp); err != nil {
		return "", "", err
	}
	for _, f := range resp.Node.Fields.Nodes {
		if f.Name != fieldName {
			continue
		}
		for _, o := range f.Options {
			if o.Name == optionName {
				return f.ID, o.ID, nil
			}
		}
		return "", "", fmt.Errorf("status option %q not found on field %q", optionName, fieldName)
	}
	return "", "", fmt.Errorf("status field %q not found", fieldName)
}

// subIssueNode is the REST shape of one entry from GET
// /repos/{owner}/{repo}/issues/{issue_number}/sub_issues.
type subIssueNode struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
}

// restGet performs a raw REST GET against the Host API, used for endpoints
// not yet covered by go-github's typed client (sub-issues).
func (c *clientImpl) restGet(ctx context.Context, path string, out any) error {
	base := "https://api.github.com"
	if c.gh.BaseURL != nil && c.gh.BaseURL.String() != "" && c.gh.BaseURL.String() != "https://api.github.com/" {
		base = trimTrailingSlash(c.gh.BaseURL.String())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return errors.Wrap(err, "create REST request")
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, RawBody: string(body)}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return errors.Wrap(json.Unmarshal(body, out), "decode REST response")
		}
		if apiErr.Retriable() && attempt < maxAttempts-1 {
			lastErr = apiErr
			if sleepErr := c.retry.sleep(ctx, backoffFor(attempt)); sleepErr != nil {
				return sleepErr
			}
			continue
		}
		return apiErr
	}
	return lastErr
}

// linkSubIssue associates child as a sub-issue of parent via the REST
// sub-issues endpoint (not yet exposed by go-github's typed client).
// childID is the sub-issue's database id (github.Issue.GetID()), not its
// number — the sub-issues API's sub_issue_id field identifies the issue by
// its id, same as the parent in the URL path is identified by number only
// because the REST path itself takes numbers while the body does not.
func (c *clientImpl) linkSubIssue(ctx context.Context, owner, repo string, parent int, childID int64) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/sub_issues", owner, repo, parent)
	base := "https://api.github.com"
	if c.gh.BaseURL != nil && c.gh.BaseURL.String() != "" && c.gh.BaseURL.String() != "https://api.github.com/" {
		base = trimTrailingSlash(c.gh.BaseURL.String())
	}
	payload, err := json.Marshal(map[string]int64{"sub_issue_id": childID})
	if err != nil {
		return errors.Wrap(err, "marshal sub-issue link payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "create sub-issue link request")
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "link sub-issue request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, RawBody: string(body)}
	}
	return nil
}

func trimTrailingSlash(s string) string {
	if len(s) > 0 && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}
