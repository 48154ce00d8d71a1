package remote

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/assetbuild/internal/assetcmd"
	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuild/internal/logfields"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
	"git.home.luguber.info/inful/assetbuild/internal/observability"
	"git.home.luguber.info/inful/assetbuild/internal/retry"
)

// Requester is the request/reply transport. *nats.Conn implements it.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// ErrUnavailable is returned with handled=false when no worker could take a command.
var ErrUnavailable = errors.RemoteError("no remote worker available").Build()

// Executor implements buildstep.RemoteExecutor.
type Executor struct {
	conn     Requester
	objects  command.ObjectAccess
	registry *assetcmd.Registry
	subject  string
	timeout  time.Duration
	policy   retry.Policy
	logger   *slog.Logger
}

// NewExecutor sends commands over conn. Inputs are read from and outputs written to objects.
func NewExecutor(conn Requester, objects command.ObjectAccess) *Executor {
	return &Executor{
		conn:     conn,
		objects:  objects,
		registry: assetcmd.DefaultRegistry(),
		subject:  DefaultSubject,
		timeout:  30 * time.Second,
		policy:   retry.DefaultPolicy(),
		logger:   slog.Default(),
	}
}

// WithSubject sets the request subject.
func (e *Executor) WithSubject(subject string) *Executor {
	if subject != "" {
		e.subject = subject
	}
	return e
}

// WithRegistry sets the registry used to encode commands.
func (e *Executor) WithRegistry(r *assetcmd.Registry) *Executor {
	if r != nil {
		e.registry = r
	}
	return e
}

// WithTimeout bounds each request attempt.
func (e *Executor) WithTimeout(d time.Duration) *Executor {
	if d > 0 {
		e.timeout = d
	}
	return e
}

// WithPolicy sets the retry policy for transient failures.
func (e *Executor) WithPolicy(p retry.Policy) *Executor {
	e.policy = p
	return e
}

// WithLogger sets the logger.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	if logger != nil {
		e.logger = logger
	}
	return e
}

// TryExecuteRemote runs cmd on a worker. Commands the registry cannot encode are left
// to the caller without an error.
func (e *Executor) TryExecuteRemote(ctx context.Context, cmd command.Command) (*command.Result, bool, error) {
	spec, err := e.registry.Encode(cmd)
	if err != nil {
		return nil, false, nil
	}
	log := e.logger.With(logfields.Command(cmd.Title()), logfields.Subject(e.subject))

	lc := observability.FromContext(ctx)
	req := Request{Command: spec, Inputs: make(map[objectid.Location][]byte), BuildID: lc.BuildID, Step: lc.Step}
	for _, loc := range cmd.InputFiles() {
		data, _, err := e.objects.Read(ctx, loc)
		if err != nil {
			// Let the local run report the missing input.
			return nil, false, nil
		}
		req.Inputs[loc] = data
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, false, fmt.Errorf("encode remote request: %w", err)
	}

	var reply *nats.Msg
	err = e.policy.Do(ctx, isTransient, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		var rerr error
		reply, rerr = e.conn.RequestWithContext(attemptCtx, e.subject, payload)
		return rerr
	})
	if err != nil {
		if stderrors.Is(err, nats.ErrNoResponders) {
			return nil, false, ErrUnavailable
		}
		return nil, false, errors.WrapError(err, errors.CategoryRemote, "remote request failed").
			WithContext("subject", e.subject).
			Build()
	}

	var resp Response
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		return nil, false, errors.WrapError(err, errors.CategoryRemote, "invalid remote response").Build()
	}
	if resp.Unavailable {
		log.Debug("Remote worker declined command", logfields.Error(stderrors.New(resp.Error)))
		return nil, false, ErrUnavailable
	}
	if resp.Status != command.Successful.String() {
		return nil, true, errors.RemoteError("remote command failed").
			WithContext("command", cmd.Title()).
			WithContext("status", resp.Status).
			WithContext("worker", resp.Worker).
			WithCause(stderrors.New(resp.Error)).
			Build()
	}

	res := command.NewResult()
	for loc, h := range resp.Inputs {
		res.AddInputDependency(loc, h)
	}
	for _, loc := range objectid.SortedLocations(resp.Outputs) {
		h, err := e.objects.Write(ctx, loc, resp.Outputs[loc])
		if err != nil {
			return nil, true, fmt.Errorf("store remote output %s: %w", loc, err)
		}
		res.AddOutput(loc, h)
	}
	res.Tags = append(res.Tags, resp.Tags...)
	log.Debug("Command executed remotely", logfields.Worker(resp.Worker))
	return res, true, nil
}

func isTransient(err error) bool {
	return stderrors.Is(err, nats.ErrTimeout) ||
		stderrors.Is(err, context.DeadlineExceeded) ||
		errors.IsTransient(err)
}
