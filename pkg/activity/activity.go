// Package activity is the external collaborator contract for the
// requestor-side activity API: deploying and running the exec-script
// batch on a provider's agreement. pkg/executor is written against
// this interface alone.
package activity

import (
	"context"
	"time"
)

// CommandKind discriminates one step of an exec-script batch.
type CommandKind int

const (
	Deploy CommandKind = iota
	Start
	Transfer
	Run
)

// Command is one step of an exec-script, composed in order by
// pkg/executor.
type Command struct {
	Kind CommandKind
	From string // Transfer source (container path or upload URL)
	To   string // Transfer destination
	// Run fields.
	Entry string
	Args  []string
}

// DeployCmd, StartCmd construct the fixed leading commands of every batch.
func DeployCmd() Command { return Command{Kind: Deploy} }
func StartCmd() Command  { return Command{Kind: Start} }

// TransferCmd moves a file between the container filesystem and a URL.
func TransferCmd(from, to string) Command {
	return Command{Kind: Transfer, From: from, To: to}
}

// RunCmd invokes entry inside the deployed image with args.
func RunCmd(entry string, args ...string) Command {
	return Command{Kind: Run, Entry: entry, Args: args}
}

// State is the provider-reported liveness of an activity.
type State int

const (
	Alive State = iota
	Terminated
)

// Result is one command's outcome within an exec-batch.
type Result struct {
	Index   int
	Success bool
	Message string
}

// Client is the set of activity operations the subtask executor drives.
type Client interface {
	CreateActivity(ctx context.Context, agreementID string) (activityID string, err error)
	DestroyActivity(ctx context.Context, activityID string) error
	Exec(ctx context.Context, activityID string, script []Command) (batchID string, err error)
	GetExecBatchResults(ctx context.Context, activityID, batchID string, timeout time.Duration, max int) ([]Result, error)
	GetState(ctx context.Context, activityID string) (State, error)
}
