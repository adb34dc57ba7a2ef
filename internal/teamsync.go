package internal

import (
	"context"
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/sirupsen/logrus"
	"github.com/teamsync-project/teamsync/internal/config"
	"github.com/teamsync-project/teamsync/internal/engine"
	"github.com/teamsync-project/teamsync/internal/github"
	"github.com/teamsync-project/teamsync/internal/observability"
	"github.com/teamsync-project/teamsync/internal/sync/discordsync"
	"github.com/teamsync-project/teamsync/internal/sync/githubsync"
	"github.com/teamsync-project/teamsync/internal/sync/mailgunsync"
	"github.com/teamsync-project/teamsync/internal/sync/zulipsync"
	"go.opentelemetry.io/otel"
)

const (
	ServiceGithub  = "github"
	ServiceMailgun = "mailgun"
	ServiceZulip   = "zulip"
	ServiceDiscord = "discord"
)

// AllServices is the default --services set.
var AllServices = []string{ServiceGithub, ServiceMailgun, ServiceZulip, ServiceDiscord}

/*
 * SyncResult is the outcome of a whole run: one summary per adapter
 * that planned, plus the tenants that could not run at all.
 */
type SyncResult struct {
	Summaries []*engine.Summary
	Errors    []error
	Tenants   int
}

// HasFailures reports whether any operation was fatal or blocked, or
// any adapter aborted.
func (r *SyncResult) HasFailures() bool {
	if len(r.Errors) > 0 {
		return true
	}
	for _, summary := range r.Summaries {
		if summary.HasFailures() {
			return true
		}
	}
	return false
}

// Aborted reports whether no adapter managed to run at all.
func (r *SyncResult) Aborted() bool {
	return r.Tenants > 0 && len(r.Summaries) == 0
}

/*
 * Teamsync wires the pipeline together: load and validate the corpus,
 * materialise the model, then drive the per-service reconcilers.
 */
type Teamsync interface {
	LoadAndValidate(fs billy.Filesystem, logsCollector *observability.LogCollection) *engine.Model
	Sync(ctx context.Context, model *engine.Model, services []string, mode engine.Mode, out io.Writer, feedback observability.RemoteLoadFeedback) *SyncResult
}

type TeamsyncImpl struct{}

func NewTeamsyncImpl() *TeamsyncImpl {
	return &TeamsyncImpl{}
}

// CloneCorpus fetches the corpus repository into an in-memory
// filesystem, so that sync can run without a local checkout.
func CloneCorpus(ctx context.Context, repositoryURL, branch string) (billy.Filesystem, error) {
	fs := memfs.New()
	options := &git.CloneOptions{
		URL:   repositoryURL,
		Depth: 1,
	}
	if branch != "" {
		options.ReferenceName = plumbing.NewBranchReferenceName(branch)
		options.SingleBranch = true
	}
	_, err := git.CloneContext(ctx, memory.NewStorage(), fs, options)
	if err != nil {
		return nil, fmt.Errorf("cloning %s: %w", repositoryURL, err)
	}
	return fs, nil
}

func (t *TeamsyncImpl) LoadAndValidate(fs billy.Filesystem, logsCollector *observability.LogCollection) *engine.Model {
	corpus := engine.NewCorpus()
	corpus.LoadAndValidate(fs, logsCollector)
	if logsCollector.HasErrors() {
		return nil
	}
	return engine.BuildModel(corpus)
}

func (t *TeamsyncImpl) Sync(ctx context.Context, model *engine.Model, services []string, mode engine.Mode, out io.Writer, feedback observability.RemoteLoadFeedback) *SyncResult {
	tracer := otel.Tracer("teamsync")
	ctx, span := tracer.Start(ctx, "sync")
	defer span.End()

	result := &SyncResult{}
	policy := engine.RetryPolicy{
		MaxAttempts: config.Config.MaxOpAttempts,
		BaseDelay:   config.Config.RetryBaseDelay,
		MaxDelay:    config.Config.RetryMaxDelay,
	}

	for _, service := range services {
		switch service {
		case ServiceGithub:
			t.syncGithub(ctx, model, mode, policy, out, feedback, result)
		case ServiceMailgun:
			t.syncMailgun(ctx, model, mode, policy, out, feedback, result)
		case ServiceZulip:
			t.syncZulip(ctx, model, mode, policy, out, feedback, result)
		case ServiceDiscord:
			t.syncDiscord(ctx, model, mode, policy, out, feedback, result)
		default:
			result.Errors = append(result.Errors, fmt.Errorf("unknown service %s", service))
		}
	}
	return result
}

func (t *TeamsyncImpl) syncGithub(ctx context.Context, model *engine.Model, mode engine.Mode, policy engine.RetryPolicy, out io.Writer, feedback observability.RemoteLoadFeedback, result *SyncResult) {
	for _, org := range model.Organizations() {
		result.Tenants++

		client, err := githubClientForOrg(ctx, org)
		if err != nil {
			logrus.Errorf("github/%s: %s", org, err)
			result.Errors = append(result.Errors, err)
			continue
		}

		adapter := githubsync.NewAdapter(org, model,
			githubsync.NewRemoteSnapshotter(client, org),
			githubsync.NewRestExecutor(client))
		summary, err := engine.Reconcile[*githubsync.Snapshot](ctx, adapter, model, mode, policy, out, feedback)
		if err != nil {
			logrus.Errorf("github/%s: %s", org, err)
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Summaries = append(result.Summaries, summary)
	}
}

// githubClientForOrg resolves the per-organization credential: a PAT
// from the environment, or the GitHub App installation.
func githubClientForOrg(ctx context.Context, org string) (github.Client, error) {
	if token := config.GithubTokenForOrg(org); token != "" {
		return github.NewClient(config.Config.GithubServer, org, token), nil
	}
	if config.Config.GithubAppID != 0 {
		return github.NewAppClient(ctx, config.Config.GithubServer, org,
			config.Config.GithubAppID, config.Config.GithubAppPrivateKeyFile)
	}
	return nil, &engine.CredentialError{Tenant: org}
}

func (t *TeamsyncImpl) syncMailgun(ctx context.Context, model *engine.Model, mode engine.Mode, policy engine.RetryPolicy, out io.Writer, feedback observability.RemoteLoadFeedback, result *SyncResult) {
	result.Tenants++
	if config.Config.MailgunAPIKey == "" {
		err := &engine.CredentialError{Tenant: ServiceMailgun}
		logrus.Errorf("mailgun: %s", err)
		result.Errors = append(result.Errors, err)
		return
	}

	adapter := mailgunsync.NewAdapter(model,
		mailgunsync.NewRestClient(config.Config.MailgunServer, config.Config.MailgunAPIKey))
	summary, err := engine.Reconcile[*mailgunsync.Snapshot](ctx, adapter, model, mode, policy, out, feedback)
	if err != nil {
		logrus.Errorf("mailgun: %s", err)
		result.Errors = append(result.Errors, err)
		return
	}
	result.Summaries = append(result.Summaries, summary)
}

func (t *TeamsyncImpl) syncZulip(ctx context.Context, model *engine.Model, mode engine.Mode, policy engine.RetryPolicy, out io.Writer, feedback observability.RemoteLoadFeedback, result *SyncResult) {
	result.Tenants++
	if config.Config.ZulipAPIKey == "" || config.Config.ZulipSite == "" {
		err := &engine.CredentialError{Tenant: ServiceZulip}
		logrus.Errorf("zulip: %s", err)
		result.Errors = append(result.Errors, err)
		return
	}

	adapter := zulipsync.NewAdapter(model,
		zulipsync.NewRestClient(config.Config.ZulipSite, config.Config.ZulipEmail, config.Config.ZulipAPIKey))
	summary, err := engine.Reconcile[*zulipsync.Snapshot](ctx, adapter, model, mode, policy, out, feedback)
	if err != nil {
		logrus.Errorf("zulip: %s", err)
		result.Errors = append(result.Errors, err)
		return
	}
	result.Summaries = append(result.Summaries, summary)
}

func (t *TeamsyncImpl) syncDiscord(ctx context.Context, model *engine.Model, mode engine.Mode, policy engine.RetryPolicy, out io.Writer, feedback observability.RemoteLoadFeedback, result *SyncResult) {
	result.Tenants++
	if config.Config.DiscordToken == "" || config.Config.DiscordGuildID == "" {
		err := &engine.CredentialError{Tenant: ServiceDiscord}
		logrus.Errorf("discord: %s", err)
		result.Errors = append(result.Errors, err)
		return
	}

	adapter := discordsync.NewAdapter(model,
		discordsync.NewRestClient(config.Config.DiscordServer, config.Config.DiscordToken, config.Config.DiscordGuildID))
	summary, err := engine.Reconcile[*discordsync.Snapshot](ctx, adapter, model, mode, policy, out, feedback)
	if err != nil {
		logrus.Errorf("discord: %s", err)
		result.Errors = append(result.Errors, err)
		return
	}
	result.Summaries = append(result.Summaries, summary)
}
