package remote

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/assetbuild/internal/assetcmd"
	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/logfields"
	"git.home.luguber.info/inful/assetbuild/internal/metrics"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
	"git.home.luguber.info/inful/assetbuild/internal/observability"
)

var errInputNotShipped = stderrors.New("input was not shipped with the request")

// Worker serves remote execution requests.
type Worker struct {
	registry    *assetcmd.Registry
	name        string
	subject     string
	queue       string
	concurrency int
	recorder    metrics.Recorder
	logger      *slog.Logger
}

// NewWorker returns a worker for the default subject and queue group.
func NewWorker() *Worker {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "worker"
	}
	return &Worker{
		registry:    assetcmd.DefaultRegistry(),
		name:        fmt.Sprintf("%s-%d", name, os.Getpid()),
		subject:     DefaultSubject,
		queue:       DefaultQueue,
		concurrency: 4,
		recorder:    metrics.NoopRecorder{},
		logger:      slog.Default(),
	}
}

// WithName sets the worker name used in logs.
func (w *Worker) WithName(name string) *Worker {
	if name != "" {
		w.name = name
	}
	return w
}

// WithSubject sets the subject and queue group to subscribe to.
func (w *Worker) WithSubject(subject, queue string) *Worker {
	if subject != "" {
		w.subject = subject
	}
	if queue != "" {
		w.queue = queue
	}
	return w
}

// WithConcurrency bounds how many requests run at once.
func (w *Worker) WithConcurrency(n int) *Worker {
	if n > 0 {
		w.concurrency = n
	}
	return w
}

// WithRegistry sets the registry used to decode commands.
func (w *Worker) WithRegistry(r *assetcmd.Registry) *Worker {
	if r != nil {
		w.registry = r
	}
	return w
}

// WithRecorder sets the metrics recorder.
func (w *Worker) WithRecorder(r metrics.Recorder) *Worker {
	if r != nil {
		w.recorder = r
	}
	return w
}

// WithLogger sets the logger.
func (w *Worker) WithLogger(logger *slog.Logger) *Worker {
	if logger != nil {
		w.logger = logger
	}
	return w
}

// Serve answers requests on the worker's queue group until ctx is cancelled.
func (w *Worker) Serve(ctx context.Context, conn *nats.Conn) error {
	msgs := make(chan *nats.Msg, w.concurrency*4)
	sub, err := conn.ChanQueueSubscribe(w.subject, w.queue, msgs)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", w.subject, err)
	}
	w.logger.Info("Remote worker listening",
		logfields.Worker(w.name),
		logfields.Subject(w.subject),
		slog.Int("concurrency", w.concurrency))

	var wg sync.WaitGroup
	for range w.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-msgs:
					if err := msg.Respond(w.Handle(ctx, msg.Data)); err != nil {
						w.logger.Warn("Failed to send remote response", logfields.Error(err))
					}
				}
			}
		}()
	}

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
		w.logger.Warn("Failed to unsubscribe", logfields.Error(err))
	}
	wg.Wait()
	return nil
}

// Handle executes one encoded request and returns the encoded response.
func (w *Worker) Handle(ctx context.Context, data []byte) []byte {
	resp := w.handle(ctx, data)
	resp.Worker = w.name
	out, err := json.Marshal(resp)
	if err != nil {
		out, _ = json.Marshal(Response{Status: command.Failed.String(), Error: err.Error(), Worker: w.name})
	}
	return out
}

func (w *Worker) handle(ctx context.Context, data []byte) Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Response{Status: command.Failed.String(), Error: "decode request: " + err.Error()}
	}
	cmd, err := w.registry.Decode(req.Command)
	if err != nil {
		return Response{Status: command.NotProcessed.String(), Unavailable: true, Error: err.Error()}
	}
	ctx = observability.WithBuildID(ctx, req.BuildID)
	ctx = observability.WithStep(ctx, req.Step)
	ctx = observability.WithCommand(ctx, cmd.Title())
	ctx = observability.WithWorker(ctx, w.name)
	log := observability.Logger(ctx, w.logger)

	objects := &shippedObjects{inputs: req.Inputs, outputs: make(map[objectid.Location][]byte)}
	res, status, err := command.Do(ctx, cmd, command.NewEnv(objects, log))
	w.recorder.IncRemoteExecution("served_" + status.String())

	if stderrors.Is(err, errInputNotShipped) {
		return Response{Status: status.String(), Unavailable: true, Error: err.Error()}
	}
	if status != command.Successful {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		log.Warn("Remote command failed", logfields.Error(err))
		return Response{Status: status.String(), Error: msg}
	}
	return Response{
		Status:  status.String(),
		Outputs: objects.outputs,
		Inputs:  res.InputDependencyVersions,
		Tags:    res.Tags,
	}
}

// shippedObjects serves the inputs carried by a request and collects outputs.
type shippedObjects struct {
	mu      sync.Mutex
	inputs  map[objectid.Location][]byte
	outputs map[objectid.Location][]byte
}

func (o *shippedObjects) Read(_ context.Context, loc objectid.Location) ([]byte, objectid.ContentHash, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if data, ok := o.outputs[loc]; ok {
		return data, objectid.HashBytes(data), nil
	}
	data, ok := o.inputs[loc]
	if !ok {
		return nil, objectid.Empty, fmt.Errorf("%s: %w", loc, errInputNotShipped)
	}
	return data, objectid.HashBytes(data), nil
}

func (o *shippedObjects) Write(_ context.Context, loc objectid.Location, data []byte) (objectid.ContentHash, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outputs[loc] = append([]byte(nil), data...)
	return objectid.HashBytes(data), nil
}
