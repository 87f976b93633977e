package core

import (
	"fmt"

	"github.com/Swind/go-taskkit/errdefs"
)

// AddDependency makes t wait for dependsOn to complete. The edge is rejected
// with a cycle error, and the graph left untouched, if dependsOn already
// (transitively) depends on t.
func (s *Scheduler) AddDependency(t, dependsOn *Task) error {
	if t == nil || dependsOn == nil {
		return errdefs.InvalidArgument("tasks must not be nil")
	}

	var fx effects
	s.mu.Lock()
	if err := s.checkEdgeLocked(t, dependsOn); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, exists := t.deps[dependsOn.id]; exists {
		s.mu.Unlock()
		return nil
	}
	s.linkLocked(t, dependsOn)

	if q := t.queue; q != nil && t.State() == TaskQueued && !s.readyLocked(t) && q.ready.remove(t) {
		q.waiting[t.id] = t
	}
	if t.State() == TaskQueued {
		s.cascadeIntoLocked(t, &fx)
	}
	s.mu.Unlock()
	fx.run()
	return nil
}

// RemoveDependency deletes the edge t -> dependsOn. If t was only waiting for
// that dependency it becomes ready.
func (s *Scheduler) RemoveDependency(t, dependsOn *Task) error {
	if t == nil || dependsOn == nil {
		return errdefs.InvalidArgument("tasks must not be nil")
	}

	var fx effects
	s.mu.Lock()
	if _, ok := t.deps[dependsOn.id]; !ok {
		s.mu.Unlock()
		return errdefs.NewNotFoundError("dependency", fmt.Sprintf("%s -> %s", t, dependsOn))
	}
	if st := t.State(); st != TaskCreated && st != TaskQueued {
		s.mu.Unlock()
		return errdefs.NewInvalidStateError("remove dependency of", t.String(), st.String())
	}
	delete(t.deps, dependsOn.id)
	delete(dependsOn.dependents, t.id)
	s.promoteLocked(t, &fx)
	s.mu.Unlock()
	fx.run()
	return nil
}

// Dependencies returns the ids t currently depends on.
func (s *Scheduler) Dependencies(t *Task) []TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]TaskID, 0, len(t.deps))
	for _, d := range sortedTasks(t.deps) {
		ids = append(ids, d.id)
	}
	return ids
}

// checkEdgeLocked validates t -> dep without changing anything.
func (s *Scheduler) checkEdgeLocked(t, dep *Task) error {
	if dep == nil {
		return errdefs.InvalidArgument("dependency of %s must not be nil", t)
	}
	if err := s.bindLocked(t); err != nil {
		return err
	}
	if err := s.bindLocked(dep); err != nil {
		return err
	}
	if st := t.State(); st != TaskCreated && st != TaskQueued {
		return errdefs.NewInvalidStateError("add dependency to", t.String(), st.String())
	}
	if path := findPath(dep, t, make(map[TaskID]bool)); path != nil {
		names := make([]string, 0, len(path)+1)
		names = append(names, t.String())
		for _, p := range path {
			names = append(names, p.String())
		}
		return &errdefs.CyclicDependencyError{Path: names}
	}
	return nil
}

func (s *Scheduler) linkLocked(t, dep *Task) {
	t.deps[dep.id] = dep
	dep.dependents[t.id] = t
}

// findPath walks dependency edges depth-first from `from` and returns the
// chain of tasks leading to `to`, or nil if `to` is unreachable.
func findPath(from, to *Task, seen map[TaskID]bool) []*Task {
	if from == to {
		return []*Task{to}
	}
	if seen[from.id] {
		return nil
	}
	seen[from.id] = true
	for _, d := range sortedTasks(from.deps) {
		if p := findPath(d, to, seen); p != nil {
			return append([]*Task{from}, p...)
		}
	}
	return nil
}
