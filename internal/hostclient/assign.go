package hostclient

import (
	"context"

	"github.com/google/go-github/v68/github"
	"github.com/pkg/errors"
)

// AssignBot assigns the Bot to an issue with agent-specific instructions.
// Per SPEC_FULL §4.1's assignment contract, it first checks whether the Bot
// is already assigned and, if so, unassigns it and pauses briefly before
// re-assigning with the new tag, letting the Host propagate the change.
func (c *clientImpl) AssignBot(ctx context.Context, owner, repo string, req AssignBotRequest, botLogin string) error {
	already, err := c.IsBotAssigned(ctx, owner, repo, req.IssueNumber, botLogin)
	if err != nil {
		return errors.Wrapf(err, "assign bot %s/%s#%d", owner, repo, req.IssueNumber)
	}
	if already {
		if err := c.UnassignBot(ctx, owner, repo, req.IssueNumber, botLogin); err != nil {
			return errors.Wrapf(err, "assign bot %s/%s#%d: unassign before reassign", owner, repo, req.IssueNumber)
		}
		if err := c.sleep(ctx, reassignPause); err != nil {
			return err
		}
	}

	if err := c.CreateComment(ctx, owner, repo, req.IssueNumber, req.Instructions); err != nil {
		return errors.Wrapf(err, "assign bot %s/%s#%d: post instructions", owner, repo, req.IssueNumber)
	}

	err = c.retry.do(ctx, func() (*github.Response, error) {
		_, resp, apiErr := c.gh.Issues.AddAssignees(ctx, owner, repo, req.IssueNumber, []string{botLogin})
		return resp, apiErr
	})
	return errors.Wrapf(err, "assign bot %s/%s#%d", owner, repo, req.IssueNumber)
}

func (c *clientImpl) UnassignBot(ctx context.Context, owner, repo string, issueNumber int, botLogin string) error {
	err := c.retry.do(ctx, func() (*github.Response, error) {
		_, resp, apiErr := c.gh.Issues.RemoveAssignees(ctx, owner, repo, issueNumber, []string{botLogin})
		return resp, apiErr
	})
	return errors.Wrapf(err, "unassign bot %s/%s#%d", owner, repo, issueNumber)
}

func (c *clientImpl) IsBotAssigned(ctx context.Context, owner, repo string, issueNumber int, botLogin string) (bool, error) {
	issue, err := c.GetIssue(ctx, owner, repo, issueNumber)
	if err != nil {
		return false, errors.Wrapf(err, "check bot assignment %s/%s#%d", owner, repo, issueNumber)
	}
	for _, a := range issue.Assignees {
		if a == botLogin {
			return true, nil
		}
	}
	return false, nil
}

func (c *clientImpl) RequestCodeReview(ctx context.Context, owner, repo string, prNumber int, reviewerLogin string) error {
	err := c.retry.do(ctx, func() (*github.Response, error) {
		_, resp, apiErr := c.gh.PullRequests.RequestReviewers(ctx, owner, repo, prNumber, github.ReviewersRequest{
			Reviewers: []string{reviewerLogin},
		})
		return resp, apiErr
	})
	return errors.Wrapf(err, "request code review %s/%s#%d", owner, repo, prNumber)
}

func (c *clientImpl) HasCodeReview(ctx context.Context, owner, repo string, prNumber int, reviewerLogin string) (bool, error) {
	var reviews []*github.PullRequestReview
	opts := &github.ListOptions{PerPage: 100}
	for {
		var resp *github.Response
		var page []*github.PullRequestReview
		err := c.retry.do(ctx, func() (*github.Response, error) {
			var apiErr error
			page, resp, apiErr = c.gh.PullRequests.ListReviews(ctx, owner, repo, prNumber, opts)
			return resp, apiErr
		})
		if err != nil {
			return false, errors.Wrapf(err, "list reviews %s/%s#%d", owner, repo, prNumber)
		}
		reviews = append(reviews, page...)
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	for _, r := range reviews {
		if r.GetUser().GetLogin() == reviewerLogin {
			return true, nil
		}
	}
	return false, nil
}
