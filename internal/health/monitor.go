package health

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/manager"

	cachev1alpha1 "github.com/yashika/memcached-operator/api/v1alpha1"
	"github.com/yashika/memcached-operator/internal/probe"
)

// Target describes one instance pod the monitor should probe.
type Target struct {
	// Owner is the Memcached resource the instance belongs to.
	Owner types.NamespacedName
	// PodName is the instance pod name.
	PodName string
	// Addr is the probe target in host:port form.
	Addr string

	Readiness cachev1alpha1.ProbeConfig
	Liveness  cachev1alpha1.ProbeConfig
}

func (t Target) key() string {
	return t.Owner.String() + "/" + t.PodName
}

// Observation is the monitor's view of one instance, read by the reconciler.
type Observation struct {
	PodName             string
	Addr                string
	State               cachev1alpha1.InstanceState
	ConsecutiveFailures int32
	LivenessExceeded    bool
	LastProbeTime       time.Time
}

type worker struct {
	target  Target
	tracker *Tracker
	cancel  context.CancelFunc
	done    chan struct{}

	// escalationSent ensures one notification per liveness escalation.
	escalationSent bool
}

// Monitor runs TCP health checks against tracked instance pods and feeds
// state transitions back to the controller through a GenericEvent channel.
// It implements manager.Runnable so worker lifecycles are bound to the
// manager's run context.
type Monitor struct {
	log       logr.Logger
	events    chan<- event.GenericEvent
	newProber func(probe.ProberConfig) (probe.Prober, error)
	limiter   *rate.Limiter

	mu           sync.Mutex
	runCtx       context.Context
	workers      map[string]*worker
	observations map[string]Observation
}

var _ manager.Runnable = &Monitor{}

// NewMonitor creates a Monitor that publishes reconcile triggers to events.
func NewMonitor(log logr.Logger, events chan<- event.GenericEvent) *Monitor {
	return &Monitor{
		log:    log,
		events: events,
		newProber: func(cfg probe.ProberConfig) (probe.Prober, error) {
			return probe.NewTCPProber(cfg)
		},
		// State transitions are rare in steady state; the limiter only guards
		// against notification storms from a flapping instance.
		limiter:      rate.NewLimiter(rate.Limit(10), 20),
		workers:      make(map[string]*worker),
		observations: make(map[string]Observation),
	}
}

// Start blocks until ctx is cancelled, then stops all probe workers.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	m.runCtx = ctx
	pending := make([]*worker, 0, len(m.workers))
	for _, w := range m.workers {
		if w.cancel == nil {
			pending = append(pending, w)
		}
	}
	for _, w := range pending {
		m.startWorkerLocked(w)
	}
	m.mu.Unlock()

	<-ctx.Done()

	m.mu.Lock()
	running := make([]*worker, 0, len(m.workers))
	for _, w := range m.workers {
		if w.cancel != nil {
			w.cancel()
			running = append(running, w)
		}
	}
	m.mu.Unlock()

	for _, w := range running {
		<-w.done
	}
	return nil
}

// NeedLeaderElection ties probing to the elected operator instance so two
// replicas never probe and reconcile the same pods concurrently.
func (m *Monitor) NeedLeaderElection() bool {
	return true
}

// Track starts probing a target. Tracking an already-tracked target with an
// unchanged address and probe configuration is a no-op, preserving the current
// failure streaks; a changed target replaces the worker and resets state.
func (m *Monitor) Track(target Target) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := target.key()
	if existing, ok := m.workers[key]; ok {
		if existing.target == target {
			return
		}
		m.stopWorkerLocked(key, existing)
	}

	w := &worker{
		target:  target,
		tracker: NewTracker(target.Readiness, target.Liveness),
		done:    make(chan struct{}),
	}
	m.workers[key] = w
	m.observations[key] = Observation{
		PodName: target.PodName,
		Addr:    target.Addr,
		State:   cachev1alpha1.InstanceStateStarting,
	}

	if m.runCtx != nil {
		m.startWorkerLocked(w)
	}
}

// Forget stops probing an instance and drops its observation.
func (m *Monitor) Forget(owner types.NamespacedName, podName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Target{Owner: owner, PodName: podName}.key()
	if w, ok := m.workers[key]; ok {
		m.stopWorkerLocked(key, w)
	}
}

// ForgetAll stops probing every instance belonging to an owner.
func (m *Monitor) ForgetAll(owner types.NamespacedName) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := owner.String() + "/"
	for key, w := range m.workers {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			m.stopWorkerLocked(key, w)
		}
	}
}

// Snapshot returns the current observations for an owner's instances, keyed
// by pod name.
func (m *Monitor) Snapshot(owner types.NamespacedName) map[string]Observation {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := owner.String() + "/"
	out := make(map[string]Observation)
	for key, obs := range m.observations {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out[obs.PodName] = obs
		}
	}
	return out
}

func (m *Monitor) startWorkerLocked(w *worker) {
	ctx, cancel := context.WithCancel(m.runCtx)
	w.cancel = cancel

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		m.runReadinessLoop(ctx, w)
		wg.Done()
	}()
	go func() {
		m.runLivenessLoop(ctx, w)
		wg.Done()
	}()
	go func() {
		wg.Wait()
		close(w.done)
	}()
}

func (m *Monitor) stopWorkerLocked(key string, w *worker) {
	if w.cancel != nil {
		w.cancel()
	}
	// A probe already in flight can still report after cancellation; the
	// terminal state makes those observations no-ops so a forgotten pod can
	// never flip state or trigger a notification.
	w.tracker.MarkTerminated()
	delete(m.workers, key)
	delete(m.observations, key)
}

func (m *Monitor) runReadinessLoop(ctx context.Context, w *worker) {
	log := m.log.WithValues("memcached", w.target.Owner, "pod", w.target.PodName)

	prober, err := m.newProber(probe.ProberConfig{
		Addr:    w.target.Addr,
		Timeout: time.Duration(w.target.Readiness.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Error(err, "failed to create readiness prober")
		return
	}

	if !sleepCtx(ctx, time.Duration(w.target.Readiness.InitialDelaySeconds)*time.Second) {
		return
	}

	ticker := time.NewTicker(time.Duration(w.target.Readiness.PeriodSeconds) * time.Second)
	defer ticker.Stop()

	for {
		checkErr := prober.Check(ctx)
		if ctx.Err() != nil {
			return
		}
		m.recordReadiness(w, checkErr == nil)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) runLivenessLoop(ctx context.Context, w *worker) {
	log := m.log.WithValues("memcached", w.target.Owner, "pod", w.target.PodName)

	prober, err := m.newProber(probe.ProberConfig{
		Addr:    w.target.Addr,
		Timeout: time.Duration(w.target.Liveness.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Error(err, "failed to create liveness prober")
		return
	}

	if !sleepCtx(ctx, time.Duration(w.target.Liveness.InitialDelaySeconds)*time.Second) {
		return
	}

	ticker := time.NewTicker(time.Duration(w.target.Liveness.PeriodSeconds) * time.Second)
	defer ticker.Stop()

	for {
		checkErr := prober.Check(ctx)
		if ctx.Err() != nil {
			return
		}
		m.recordLiveness(w, checkErr == nil)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) recordReadiness(w *worker, success bool) {
	m.mu.Lock()
	changed := w.tracker.ObserveReadiness(success)
	obs := Observation{
		PodName:             w.target.PodName,
		Addr:                w.target.Addr,
		State:               w.tracker.State(),
		ConsecutiveFailures: w.tracker.ConsecutiveFailures(),
		LivenessExceeded:    w.tracker.LivenessExceeded(),
		LastProbeTime:       time.Now(),
	}
	key := w.target.key()
	if _, tracked := m.workers[key]; tracked {
		m.observations[key] = obs
	}
	m.mu.Unlock()

	if changed {
		m.log.V(1).Info("instance state changed",
			"memcached", w.target.Owner, "pod", w.target.PodName, "state", obs.State)
		m.notify(w.target.Owner)
	}
}

func (m *Monitor) recordLiveness(w *worker, success bool) {
	m.mu.Lock()
	w.tracker.ObserveLiveness(success)
	exceeded := w.tracker.LivenessExceeded()
	escalate := exceeded && !w.escalationSent
	if escalate {
		w.escalationSent = true
	}
	key := w.target.key()
	if obs, tracked := m.observations[key]; tracked {
		obs.LivenessExceeded = exceeded
		obs.LastProbeTime = time.Now()
		m.observations[key] = obs
	}
	m.mu.Unlock()

	if escalate {
		m.log.Info("liveness threshold exceeded, requesting restart",
			"memcached", w.target.Owner, "pod", w.target.PodName)
		m.notify(w.target.Owner)
	}
}

// notify enqueues a reconcile for the owner. Notifications are rate limited;
// a dropped event is recovered by the controller's periodic requeue.
func (m *Monitor) notify(owner types.NamespacedName) {
	if !m.limiter.Allow() {
		m.log.V(1).Info("notification rate limited", "memcached", owner)
		return
	}

	evt := event.GenericEvent{
		Object: &cachev1alpha1.Memcached{
			ObjectMeta: metav1.ObjectMeta{
				Name:      owner.Name,
				Namespace: owner.Namespace,
			},
		},
	}

	select {
	case m.events <- evt:
	default:
		m.log.V(1).Info("event channel full, dropping notification", "memcached", owner)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
