/*
Copyright 2024 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package lbaas

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/openstack/kuryr-lbaas/pkg/lbaas/model"
	cpoerrors "github.com/openstack/kuryr-lbaas/pkg/util/errors"
)

// Outcome is the result kind of a single create-or-find attempt.
type Outcome int

const (
	// Created means the create call succeeded.
	Created Outcome = iota
	// Conflict means the create call failed with 409 or 500 and the object was found.
	Conflict
	// NotFound means the object could neither be created nor found.
	NotFound
	// Fatal means the create or the find call failed otherwise.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "Created"
	case Conflict:
		return "Conflict"
	case NotFound:
		return "NotFound"
	case Fatal:
		return "Fatal"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// EnsureResult is the tagged result of ensure. Object is set for Created and
// Conflict, Err for Fatal.
type EnsureResult[T any] struct {
	Outcome Outcome
	Object  *T
	Err     error
}

// createFunc creates the object described by spec. A nil object with a nil
// error means the create call produced nothing usable.
type createFunc[T any] func(ctx context.Context, spec *T) (*T, error)

// findFunc looks an object up by the natural key of spec. It returns nil,
// nil when there is none.
type findFunc[T any] func(ctx context.Context, spec *T) (*T, error)

// ensure creates spec, or finds it when the creation conflicts.
func ensure[T any](ctx context.Context, spec *T, create createFunc[T], find findFunc[T]) EnsureResult[T] {
	obj, err := create(ctx, spec)
	switch {
	case err == nil && obj != nil:
		klog.V(4).Infof("Created %v", obj)
		return EnsureResult[T]{Outcome: Created, Object: obj}
	case err == nil:
		return EnsureResult[T]{Outcome: NotFound}
	case !cpoerrors.IsConflictError(err) && !cpoerrors.IsInternalServerError(err):
		return EnsureResult[T]{Outcome: Fatal, Err: err}
	}

	klog.V(4).Infof("Creating %v failed, looking it up: %v", spec, err)
	obj, err = find(ctx, spec)
	if err != nil {
		return EnsureResult[T]{Outcome: Fatal, Err: err}
	}
	if obj == nil {
		return EnsureResult[T]{Outcome: NotFound}
	}
	klog.V(4).Infof("Found %v", obj)
	return EnsureResult[T]{Outcome: Conflict, Object: obj}
}

// ensureProvisioned runs ensure until it yields an object, waiting for lb to
// be ACTIVE before every attempt. A 400 aborts with ErrProviderRejected,
// other failures are retried until the activation timeout.
func ensureProvisioned[T any](ctx context.Context, d *Driver, lb *model.LoadBalancer, spec *T, create createFunc[T], find findFunc[T], interval time.Duration) (*T, error) {
	for t := d.newTimer(d.activationTimeout(), interval); !t.Expired(); t.Wait() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := d.waitForProvisioning(ctx, lb, t.Remaining(), interval, true); err != nil {
			if cpoerrors.IsNotFound(err) {
				return nil, cpoerrors.NewResourceNotReady(fmt.Sprintf("%v: %s is gone", spec, lb))
			}
			return nil, err
		}

		res := ensure(ctx, spec, create, find)
		switch res.Outcome {
		case Created, Conflict:
			return res.Object, nil
		case NotFound:
			klog.V(4).Infof("%v neither created nor found, retrying", spec)
		case Fatal:
			if cpoerrors.IsInvalidError(res.Err) {
				return nil, fmt.Errorf("%w: %v: %w", cpoerrors.ErrProviderRejected, spec, res.Err)
			}
			klog.Warningf("Failed to ensure %v, retrying: %v", spec, res.Err)
		}
	}

	return nil, cpoerrors.NewResourceNotReady(fmt.Sprint(spec))
}

// release deletes an object of lb. Not found counts as deleted. On 409 or
// 400 it waits for lb to be ACTIVE and retries until the activation timeout.
func release(ctx context.Context, d *Driver, lb *model.LoadBalancer, name string, del func(ctx context.Context) error, cascadeOnError bool) error {
	for t := d.newTimer(d.activationTimeout(), fastInterval); !t.Expired(); t.Wait() {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := del(ctx)
		switch {
		case err == nil:
			klog.V(4).Infof("Released %s", name)
			return nil
		case cpoerrors.IsNotFound(err):
			klog.V(4).Infof("%s already released", name)
			return nil
		case cpoerrors.IsConflictError(err), cpoerrors.IsInvalidError(err):
			klog.V(4).Infof("Releasing %s failed, waiting for %s: %v", name, lb, err)
			werr := d.waitForProvisioning(ctx, lb, t.Remaining(), fastInterval, cascadeOnError)
			if cpoerrors.IsNotFound(werr) {
				return nil
			}
			if werr != nil {
				return werr
			}
		default:
			return fmt.Errorf("failed to release %s: %w", name, err)
		}
	}

	return cpoerrors.NewResourceNotReady(name)
}
