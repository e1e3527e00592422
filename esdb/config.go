package esdb

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/pupsourcing/esdb/es"
	"github.com/pupsourcing/esdb/event"
	"github.com/pupsourcing/esdb/model"
	"github.com/pupsourcing/esdb/model/jsontable"
	"github.com/pupsourcing/esdb/queue"
	"github.com/pupsourcing/esdb/sqldb"
)

const metadataModelName = "metadata"

// Config configures an ESDB instance.
type Config struct {
	// DB is the connection every transaction and model table lives on.
	DB *sqldb.Conn

	// Queue is the event log. Required.
	Queue queue.Queue

	// Models maps a model name to its registration. "metadata" is reserved
	// for the built-in applied-version tracker and rejected here.
	Models map[string]model.Registration

	// ModelOrder fixes the order reducers, preprocessors and derivers run
	// in. If nil, model names are sorted lexically, giving deterministic
	// ordering without requiring callers to care when order doesn't matter
	// to them (Config.Models is a map and Go does not define iteration
	// order).
	ModelOrder []string

	// Logger is an optional observability hook.
	Logger es.Logger
}

// ESDB is one event-sourced database: a queue of events, a set of model
// stores kept in sync with it, and the pipeline that keeps them that way.
type ESDB struct {
	db     *sqldb.Conn
	queue  queue.Queue
	logger es.Logger

	registrations map[string]model.Registration
	order         []string // every registered model, including metadata, in run order
	reducerNames  []string
	deriverNames  []string
	preprocNames  []string

	metadataStore *jsontable.Store

	versionGroup singleflight.Group

	waitersMu     sync.Mutex
	waiters       map[uint64]*waiter
	maxWaitingFor uint64

	pollMu     sync.Mutex
	isPolling  bool
	reallyStop bool
	running    bool
	runDone    chan struct{}
	minVersion uint64
	pollCancel context.CancelFunc

	applyingSem chan struct{}

	hooksMu   sync.Mutex
	onResult  []func(event.Event)
	onError   []func(event.Event)
	onHandled []func(event.Event)
}

// New validates cfg, installs the built-in metadata model, migrates every
// model's table, and primes the pipeline so events already in the queue
// (from this process or another) start flowing.
func New(ctx context.Context, cfg Config) (*ESDB, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("esdb: Config.DB is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("esdb: Config.Queue is required")
	}
	if _, reserved := cfg.Models[metadataModelName]; reserved {
		return nil, fmt.Errorf("esdb: %q is a reserved model name", metadataModelName)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = es.NoOpLogger{}
	}

	metadataStore := jsontable.New(metadataModelName)
	metadataReg := model.Registration{
		Store:      metadataStore,
		Reducer:    metadataReducer(metadataStore),
		Migrations: []string{metadataStore.Migration()},
	}

	registrations := make(map[string]model.Registration, len(cfg.Models)+1)
	for name, reg := range cfg.Models {
		registrations[name] = reg
	}
	registrations[metadataModelName] = metadataReg

	order := cfg.ModelOrder
	if order == nil {
		order = make([]string, 0, len(cfg.Models))
		for name := range cfg.Models {
			order = append(order, name)
		}
		sort.Strings(order)
	}
	order = append(order, metadataModelName)

	instance := &ESDB{
		db:            cfg.DB,
		queue:         cfg.Queue,
		logger:        logger,
		registrations: registrations,
		order:         order,
		metadataStore: metadataStore,
		waiters:       make(map[uint64]*waiter),
		applyingSem:   make(chan struct{}, 1),
	}

	for _, name := range order {
		reg := registrations[name]
		for _, ddl := range reg.Migrations {
			if err := cfg.DB.Exec(ctx, ddl); err != nil {
				return nil, fmt.Errorf("esdb: migrate model %q: %w", name, err)
			}
		}
		if reg.Reducer != nil {
			instance.reducerNames = append(instance.reducerNames, name)
		}
		if reg.Deriver != nil {
			instance.deriverNames = append(instance.deriverNames, name)
		}
		if reg.Preprocessor != nil {
			instance.preprocNames = append(instance.preprocNames, name)
		}
	}

	instance.checkForEvents(ctx)

	return instance, nil
}

// OnResult registers a callback fired when an event is handled without a
// reducer-path error.
func (d *ESDB) OnResult(fn func(event.Event)) {
	d.hooksMu.Lock()
	defer d.hooksMu.Unlock()
	d.onResult = append(d.onResult, fn)
}

// OnError registers a callback fired when an event is handled with at least
// one model's error attached.
func (d *ESDB) OnError(fn func(event.Event)) {
	d.hooksMu.Lock()
	defer d.hooksMu.Unlock()
	d.onError = append(d.onError, fn)
}

// OnHandled registers a callback fired for every handled event, regardless
// of outcome.
func (d *ESDB) OnHandled(fn func(event.Event)) {
	d.hooksMu.Lock()
	defer d.hooksMu.Unlock()
	d.onHandled = append(d.onHandled, fn)
}

func (d *ESDB) emitResult(ev event.Event) {
	d.hooksMu.Lock()
	hooks := append([]func(event.Event){}, d.onResult...)
	d.hooksMu.Unlock()
	for _, h := range hooks {
		h(ev)
	}
}

func (d *ESDB) emitError(ev event.Event) {
	d.hooksMu.Lock()
	hooks := append([]func(event.Event){}, d.onError...)
	d.hooksMu.Unlock()
	for _, h := range hooks {
		h(ev)
	}
}

func (d *ESDB) emitHandled(ev event.Event) {
	d.hooksMu.Lock()
	hooks := append([]func(event.Event){}, d.onHandled...)
	d.hooksMu.Unlock()
	for _, h := range hooks {
		h(ev)
	}
}
