package runinfo

import "testing"

var ciEnvKeys = []string{
	"CI", "GITHUB_ACTIONS", "GITHUB_REPOSITORY", "GITHUB_HEAD_REF",
	"GITHUB_REF_NAME", "GITHUB_REF", "GITHUB_SHA", "GITHUB_WORKFLOW",
	"GITHUB_JOB", "GITHUB_RUN_ID", "GITHUB_RUN_NUMBER", "GITHUB_EVENT_NAME",
	"GITHUB_ACTOR", "GITHUB_SERVER_URL",
	"GITLAB_CI", "CI_PROJECT_PATH", "CI_COMMIT_REF_NAME", "CI_COMMIT_SHA",
	"CI_JOB_NAME", "CI_PIPELINE_ID", "CI_PIPELINE_IID", "CI_JOB_URL",
	"BRANCH_NAME", "GIT_BRANCH", "GIT_COMMIT", "JOB_NAME", "BUILD_ID",
	"BUILD_NUMBER", "BUILD_URL",
	"DOCVET_CI", "DOCVET_CI_PROVIDER", "DOCVET_CI_REPOSITORY",
	"DOCVET_CI_BRANCH", "DOCVET_CI_COMMIT", "DOCVET_CI_WORKFLOW",
	"DOCVET_CI_JOB", "DOCVET_CI_RUN_ID", "DOCVET_CI_RUN_NUMBER",
	"DOCVET_CI_EVENT", "DOCVET_CI_PULL_REQUEST", "DOCVET_CI_ACTOR",
	"DOCVET_CI_BUILD_URL",
}

func clearCIEnv(t *testing.T) {
	t.Helper()
	for _, key := range ciEnvKeys {
		t.Setenv(key, "")
	}
}

func TestFromEnvEmpty(t *testing.T) {
	clearCIEnv(t)
	if info := FromEnv(); info != nil {
		t.Fatalf("expected nil outside CI, got %+v", info)
	}
}

func TestFromEnvGitHubActions(t *testing.T) {
	clearCIEnv(t)
	t.Setenv("GITHUB_ACTIONS", "true")
	t.Setenv("GITHUB_REPOSITORY", "acme/docvet")
	t.Setenv("GITHUB_REF", "refs/pull/42/merge")
	t.Setenv("GITHUB_HEAD_REF", "feature/safe-insert")
	t.Setenv("GITHUB_SHA", "deadbeef")
	t.Setenv("GITHUB_RUN_ID", "123456")
	t.Setenv("GITHUB_EVENT_NAME", "pull_request")

	info := FromEnv()
	if info == nil {
		t.Fatal("expected run info")
	}
	if !info.CI || info.Provider != "github_actions" {
		t.Fatalf("provider detection: %+v", info)
	}
	if info.Repository != "acme/docvet" || info.Commit != "deadbeef" {
		t.Fatalf("repo fields: %+v", info)
	}
	if info.Branch != "feature/safe-insert" {
		t.Fatalf("branch: %q", info.Branch)
	}
	if info.PullRequest != "42" {
		t.Fatalf("pull request: %q", info.PullRequest)
	}
	if want := "https://github.com/acme/docvet/actions/runs/123456"; info.BuildURL != want {
		t.Fatalf("build url: %q, want %q", info.BuildURL, want)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	clearCIEnv(t)
	t.Setenv("GITHUB_ACTIONS", "true")
	t.Setenv("GITHUB_REPOSITORY", "acme/docvet")
	t.Setenv("DOCVET_CI_PROVIDER", "Custom")
	t.Setenv("DOCVET_CI_BRANCH", "refs/heads/release")

	info := FromEnv()
	if info == nil {
		t.Fatal("expected run info")
	}
	if info.Provider != "custom" {
		t.Fatalf("override not applied or not normalized: %q", info.Provider)
	}
	if info.Branch != "release" {
		t.Fatalf("branch not normalized: %q", info.Branch)
	}
}

func TestFromEnvExplicitOptOut(t *testing.T) {
	clearCIEnv(t)
	t.Setenv("DOCVET_CI", "false")
	t.Setenv("DOCVET_CI_REPOSITORY", "acme/docvet")

	info := FromEnv()
	if info == nil {
		t.Fatal("expected run info")
	}
	if info.CI {
		t.Fatalf("explicit DOCVET_CI=false must win: %+v", info)
	}
}

func TestFromEnvGenericCI(t *testing.T) {
	clearCIEnv(t)
	t.Setenv("CI", "1")

	info := FromEnv()
	if info == nil {
		t.Fatal("expected run info")
	}
	if !info.CI || info.Provider != "generic" {
		t.Fatalf("generic detection: %+v", info)
	}
}
