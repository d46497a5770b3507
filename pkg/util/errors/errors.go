/*
Copyright 2019 The Kubernetes Authors.

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

package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gophercloud/gophercloud/v2"
)

// ErrNotFound is used to inform that the object is missing
var ErrNotFound = errors.New("failed to find object")

// ErrResourceNotReady is returned when a resource did not converge within the
// activation timeout. The caller is expected to retry the whole reconciliation later.
var ErrResourceNotReady = errors.New("resource not ready")

// ErrProviderRejected is used when the load balancer provider refuses a
// request it does not support, e.g. a listener protocol.
var ErrProviderRejected = errors.New("rejected by load balancer provider")

// NewResourceNotReady returns an error matching ErrResourceNotReady for the named resource.
func NewResourceNotReady(resource string) error {
	return fmt.Errorf("%w: %s", ErrResourceNotReady, resource)
}

// IsResourceNotReady returns true if err is, or wraps, ErrResourceNotReady.
func IsResourceNotReady(err error) bool {
	return errors.Is(err, ErrResourceNotReady)
}

func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}

	var notFound gophercloud.ErrResourceNotFound
	if errors.As(err, &notFound) {
		return true
	}

	return gophercloud.ResponseCodeIs(err, http.StatusNotFound)
}

func IsInvalidError(err error) bool {
	return gophercloud.ResponseCodeIs(err, http.StatusBadRequest)
}

func IsConflictError(err error) bool {
	return gophercloud.ResponseCodeIs(err, http.StatusConflict)
}

func IsInternalServerError(err error) bool {
	return gophercloud.ResponseCodeIs(err, http.StatusInternalServerError)
}
