package github

import (
	"context"
	"fmt"

	"github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"
)

/*
 * PRCommentPoster posts the rendered dry-run plan as a pull-request
 * comment, so the review happens where the corpus change is proposed.
 */
type PRCommentPoster interface {
	PostPlan(ctx context.Context, org, repo string, number int, body string) error
}

type PRCommentPosterImpl struct {
	client *github.Client
}

func NewPRCommentPoster(ctx context.Context, accesstoken string) *PRCommentPosterImpl {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accesstoken})
	tc := oauth2.NewClient(ctx, ts)

	return &PRCommentPosterImpl{
		client: github.NewClient(tc),
	}
}

func (p *PRCommentPosterImpl) PostPlan(ctx context.Context, org, repo string, number int, body string) error {
	comment := &github.IssueComment{
		Body: github.String("```\n" + body + "\n```"),
	}
	_, _, err := p.client.Issues.CreateComment(ctx, org, repo, number, comment)
	if err != nil {
		return fmt.Errorf("failed to comment on %s/%s#%d: %w", org, repo, number, err)
	}
	return nil
}
