package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/teamsync-project/teamsync/internal"
	"github.com/teamsync-project/teamsync/internal/config"
	"github.com/teamsync-project/teamsync/internal/engine"
	"github.com/teamsync-project/teamsync/internal/github"
	"github.com/teamsync-project/teamsync/internal/observability"
	"github.com/teamsync-project/teamsync/internal/staticapi"
)

const (
	exitOK              = 0
	exitValidationError = 1
	exitApplyFailed     = 2
	exitSetupError      = 3
)

var srcParameter string
var repositoryParameter string
var branchParameter string
var servicesParameter []string
var prCommentParameter string
var noProgressbar bool

type ProgressBar struct {
	bar *progressbar.ProgressBar
}

func CreateProgressBar() *ProgressBar {
	return &ProgressBar{bar: nil}
}

func (p *ProgressBar) Init(nbTotalAssets int) {
	bar := progressbar.NewOptions(nbTotalAssets,
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetDescription("fetching remote state"),
		progressbar.OptionSetWidth(36),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
	p.bar = bar
}

func (p *ProgressBar) Extend(nbAssets int) {
	if p.bar == nil {
		return
	}
	p.bar.AddMax(nbAssets)
}

func (p *ProgressBar) LoadingAsset(entity string, nb int) {
	if p.bar == nil {
		return
	}
	p.bar.Add(nb)
}

func corpusFilesystem(ctx context.Context) (billy.Filesystem, error) {
	if repositoryParameter != "" {
		return internal.CloneCorpus(ctx, repositoryParameter, branchParameter)
	}
	if _, err := os.Stat(srcParameter); err != nil {
		return nil, fmt.Errorf("corpus not found at %s: %w", srcParameter, err)
	}
	return osfs.New(srcParameter), nil
}

// loadModel loads and validates the corpus, printing every error.
// It exits with the validation or setup code on failure.
func loadModel(ctx context.Context) *engine.Model {
	fs, err := corpusFilesystem(ctx)
	if err != nil {
		logrus.Errorf("%s", err)
		os.Exit(exitSetupError)
	}

	logsCollector := observability.NewLogCollection()
	teamsync := internal.NewTeamsyncImpl()
	model := teamsync.LoadAndValidate(fs, logsCollector)
	reportLogs(logsCollector)
	if logsCollector.HasErrors() {
		os.Exit(exitValidationError)
	}
	return model
}

func reportLogs(logsCollector *observability.LogCollection) {
	if logsCollector.HasErrors() {
		logrus.Errorf("the corpus is invalid:")
		for _, err := range logsCollector.Errors {
			logrus.Errorf("- %s", err)
		}
	}
	if logsCollector.HasWarns() {
		logrus.Warnf("warnings:")
		for _, warn := range logsCollector.Warns {
			logrus.Warnf("- %s", warn)
		}
	}
	for _, info := range logsCollector.Logs {
		logrus.WithFields(info.Fields).Logf(info.LogLevel, info.Format, info.Args...)
	}
}

func printJSON(payload interface{}) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		logrus.Fatalf("failed to render: %s", err)
	}
	fmt.Println(string(data))
}

// parsePRTarget parses "org/repo#123".
func parsePRTarget(target string) (string, string, int, error) {
	repoPart, numberPart, found := strings.Cut(target, "#")
	if !found {
		return "", "", 0, fmt.Errorf("invalid pull request reference %s, expected org/repo#number", target)
	}
	org, repo, found := strings.Cut(repoPart, "/")
	if !found {
		return "", "", 0, fmt.Errorf("invalid pull request reference %s, expected org/repo#number", target)
	}
	number, err := strconv.Atoi(numberPart)
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid pull request number in %s", target)
	}
	return org, repo, number, nil
}

func runSync(mode engine.Mode) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, config.Config.RunTimeout)
	defer cancel()

	model := loadModel(ctx)

	var feedback observability.RemoteLoadFeedback = &observability.NoopFeedback{}
	if !noProgressbar && mode == engine.ModePlan {
		feedback = CreateProgressBar()
	}

	out := &strings.Builder{}
	teamsync := internal.NewTeamsyncImpl()
	result := teamsync.Sync(ctx, model, servicesParameter, mode, out, feedback)

	fmt.Print(out.String())
	for _, err := range result.Errors {
		fmt.Printf("error: %s\n", err)
	}

	if prCommentParameter != "" {
		if err := postPlanComment(ctx, out.String()); err != nil {
			logrus.Errorf("failed to post the plan comment: %s", err)
		}
	}

	if result.Aborted() {
		os.Exit(exitSetupError)
	}
	if result.HasFailures() {
		os.Exit(exitApplyFailed)
	}
}

func postPlanComment(ctx context.Context, body string) error {
	org, repo, number, err := parsePRTarget(prCommentParameter)
	if err != nil {
		return err
	}
	token := config.GithubTokenForOrg(org)
	if token == "" {
		return &engine.CredentialError{Tenant: org}
	}
	poster := github.NewPRCommentPoster(ctx, token)
	return poster.PostPlan(ctx, org, repo, number, body)
}

func addSyncFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&srcParameter, "src", ".", "corpus directory")
	cmd.Flags().StringVar(&repositoryParameter, "repository", "", "corpus repository URL (clones instead of reading --src)")
	cmd.Flags().StringVar(&branchParameter, "branch", "", "corpus repository branch")
	cmd.Flags().StringSliceVar(&servicesParameter, "services", internal.AllServices, "services to reconcile")
	cmd.Flags().StringVar(&prCommentParameter, "pr-comment", "", "post the plan as a comment on org/repo#number")
	cmd.Flags().BoolVar(&noProgressbar, "no-progressbar", false, "disable the progress bar")
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "teamsync",
		Short: "Reconcile the team corpus against the remote services",
	}

	checkCmd := &cobra.Command{
		Use:   "check <path>",
		Short: "Load and validate the corpus",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			srcParameter = args[0]
			loadModel(context.Background())
			logrus.Infof("the corpus is valid")
		},
	}

	dumpTeamCmd := &cobra.Command{
		Use:   "dump-team <name>",
		Short: "Print the expanded record of a team",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			model := loadModel(context.Background())
			view, err := model.TeamView(args[0])
			if err != nil {
				logrus.Fatalf("%s", err)
			}
			printJSON(view)
		},
	}

	dumpPersonCmd := &cobra.Command{
		Use:   "dump-person <handle>",
		Short: "Print the expanded record of a person",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			model := loadModel(context.Background())
			view, err := model.PersonView(args[0])
			if err != nil {
				logrus.Fatalf("%s", err)
			}
			printJSON(view)
		},
	}

	dumpListCmd := &cobra.Command{
		Use:   "dump-list <address>",
		Short: "Print the rendered members of a mailing list",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			model := loadModel(context.Background())
			list := model.MailList(args[0])
			if list == nil {
				logrus.Fatalf("unknown mailing list %s", args[0])
			}
			printJSON(list)
		},
	}

	staticApiCmd := &cobra.Command{
		Use:   "static-api <out-dir>",
		Short: "Emit JSON snapshots of the materialised model",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			model := loadModel(context.Background())
			if err := staticapi.Build(model, osfs.New("."), args[0]); err != nil {
				logrus.Errorf("failed to write the static api: %s", err)
				os.Exit(exitSetupError)
			}
		},
	}

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the remote services against the corpus",
	}
	planCmd := &cobra.Command{
		Use:   "print-plan",
		Short: "Print the reconciliation plan without applying it",
		Run: func(cmd *cobra.Command, args []string) {
			runSync(engine.ModePlan)
		},
	}
	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply the reconciliation plan",
		Run: func(cmd *cobra.Command, args []string) {
			runSync(engine.ModeApply)
		},
	}
	addSyncFlags(planCmd)
	addSyncFlags(applyCmd)
	syncCmd.AddCommand(planCmd)
	syncCmd.AddCommand(applyCmd)

	for _, cmd := range []*cobra.Command{dumpTeamCmd, dumpPersonCmd, dumpListCmd, staticApiCmd} {
		cmd.Flags().StringVar(&srcParameter, "src", ".", "corpus directory")
	}

	rootCmd.AddCommand(checkCmd, dumpTeamCmd, dumpPersonCmd, dumpListCmd, staticApiCmd, syncCmd)

	defer config.ShutdownTraceProvider()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitSetupError)
	}
}
